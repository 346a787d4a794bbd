// Mind Reader
//
// The player thinks of a character, animal, or object, and the app
// guesses it by asking yes/no/uncertain questions answered one HTTP
// request at a time. The actual guessing is done by a remote inference
// service; each web session owns a resume handle for its remote session
// and every request rehydrates from it.
//
// Features:
// - Registration (name, contact, institution) recorded via a pluggable store
// - Theme selection (characters, animals, objects) plus child-safe mode
// - Question flow with five answers and back-navigation
// - Guess confirmation: confirm ends the game, reject resumes questioning
// - Sessions at /play/:gameid, resumable from any device via URL or QR code
// - Live watch channel over WebSocket: extra tabs follow the owner's game
// - Player identified by cookie; only the session owner may act
// - Sessions auto-reaped after configurable idle timeout
// - Random 8-char game IDs via crypto/rand, with server-side collision check

package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/Seednode/mindreader/internal/akinator"
	"github.com/Seednode/mindreader/internal/game"
	"github.com/Seednode/mindreader/internal/records"
)

// session wraps one player's game for the web layer. The mutex serializes
// actions: the remote protocol is step-ordered, so a second action must
// wait for the first rather than interleave.
type session struct {
	mu sync.Mutex

	ownerID string
	player  game.PlayerInfo

	started bool
	state   game.Session

	// lastError is flashed once on the next owner render.
	lastError string

	createdAt  time.Time
	lastActive time.Time

	watchers map[chan snapshotMessage]bool
}

// snapshotMessage is the phase-tagged projection pushed to watchers.
type snapshotMessage struct {
	Type        string      `json:"type"` // "snapshot"
	Stage       string      `json:"stage"`
	PlayerName  string      `json:"player_name,omitempty"`
	Question    string      `json:"question,omitempty"`
	Step        int         `json:"step,omitempty"`
	Progression float64     `json:"progression,omitempty"`
	Guess       *guessView  `json:"guess,omitempty"`
	Result      *resultView `json:"result,omitempty"`
}

type guessView struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PhotoURL    string `json:"photo_url,omitempty"`
}

type resultView struct {
	Won         bool   `json:"won"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	PhotoURL    string `json:"photo_url,omitempty"`
	Message     string `json:"message,omitempty"`
}

// snapshotLocked assumes s.mu is held.
func (s *session) snapshotLocked() snapshotMessage {
	msg := snapshotMessage{
		Type:       "snapshot",
		Stage:      "welcome",
		PlayerName: s.player.Name,
	}
	if !s.started {
		return msg
	}

	switch s.state.Phase() {
	case game.PhaseQuestioning:
		msg.Stage = "question"
		msg.Question = s.state.Question
		msg.Step = s.state.Step
		msg.Progression = s.state.Progression

	case game.PhaseGuess:
		msg.Stage = "guess"
		msg.Step = s.state.Step
		msg.Guess = &guessView{
			Name:        s.state.Guess.Name,
			Description: s.state.Guess.Description,
			PhotoURL:    s.state.Guess.PhotoURL,
		}

	case game.PhaseFinished:
		msg.Stage = "finished"
		msg.Result = &resultView{
			Won:         s.state.Result.Won,
			Name:        s.state.Result.Name,
			Description: s.state.Result.Description,
			PhotoURL:    s.state.Result.PhotoURL,
			Message:     s.state.Result.Message,
		}
	}

	return msg
}

// broadcastLocked assumes s.mu is held. Slow watchers are dropped.
func (s *session) broadcastLocked() {
	msg := s.snapshotLocked()

	for ch := range s.watchers {
		select {
		case ch <- msg:
		default:
			delete(s.watchers, ch)
			close(ch)
		}
	}
}

func (s *session) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.watchers {
		close(ch)
		delete(s.watchers, ch)
	}
}

// sessionManager holds sessions keyed by game ID, so each $path/$gameid
// is its own isolated playthrough.
type sessionManager struct {
	mu          sync.Mutex
	sessions    map[string]*session
	idleTimeout time.Duration
}

func newSessionManager(idleTimeout time.Duration) *sessionManager {
	sm := &sessionManager{
		sessions:    make(map[string]*session),
		idleTimeout: idleTimeout,
	}
	if idleTimeout > 0 {
		go sm.reaperLoop()
	}
	return sm
}

func (sm *sessionManager) get(gameID string) (*session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s, ok := sm.sessions[gameID]
	return s, ok
}

func (sm *sessionManager) create(ownerID string, player game.PlayerInfo) (string, *session) {
	id := sm.newGameID()
	now := time.Now()

	s := &session{
		ownerID:    ownerID,
		player:     player,
		createdAt:  now,
		lastActive: now,
		watchers:   make(map[chan snapshotMessage]bool),
	}

	sm.mu.Lock()
	sm.sessions[id] = s
	sm.mu.Unlock()

	return id, s
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with existing sessions.
func (sm *sessionManager) newGameID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		sm.mu.Lock()
		_, exists := sm.sessions[id]
		sm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop periodically removes sessions idle longer than idleTimeout.
func (sm *sessionManager) reaperLoop() {
	ticker := time.NewTicker(sm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-sm.idleTimeout)

		sm.mu.Lock()
		for id, s := range sm.sessions {
			s.mu.Lock()
			last := s.lastActive
			s.mu.Unlock()

			if last.Before(cutoff) {
				delete(sm.sessions, id)
				go s.closeAll()
			}
		}
		sm.mu.Unlock()
	}
}

const playerCookieName = "mindreader_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// pageData feeds the stage templates; unused fields stay zero.
type pageData struct {
	Title   string
	Prefix  string
	GameURL string
	IsOwner bool
	Error   string

	Player game.PlayerInfo

	Question    string
	StepDisplay int
	Progression float64

	Guess  *game.Candidate
	Result *game.Result
}

func serveIndex(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		_ = getOrSetPlayerID(w, r)

		renderPage(cfg, w, "index", pageData{
			Title:  "Mind Reader",
			Prefix: cfg.prefix,
		})
	}
}

// handleStart registers the player, records them, and creates a session
// in its pre-game stage. Recording failures are logged, never fatal to
// the game.
func handleStart(cfg *Config, sm *sessionManager, recorder records.Recorder, path string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		player := game.PlayerInfo{
			Name:        strings.TrimSpace(r.FormValue("name")),
			Contact:     strings.TrimSpace(r.FormValue("contact")),
			Institution: strings.TrimSpace(r.FormValue("institution")),
		}

		if player.Name == "" || player.Contact == "" || player.Institution == "" {
			renderPage(cfg, w, "index", pageData{
				Title:  "Mind Reader",
				Prefix: cfg.prefix,
				Error:  "All fields are required.",
				Player: player,
			})
			return
		}

		if err := recorder.RecordPlayer(r.Context(), records.Player{
			Name:        player.Name,
			Contact:     player.Contact,
			Institution: player.Institution,
		}); err != nil {
			logf(cfg, "ERROR: Recording player: %v", err)
		}

		gameID, _ := sm.create(playerID, player)
		logf(cfg, "GAMES: Player %q created game %s/%s", player.Name, path, gameID)

		http.Redirect(w, r, cfg.prefix+path+"/"+gameID, http.StatusSeeOther)
	}
}

// serveSession renders the current stage of a session: the theme picker
// before the game begins, then the question, guess, or finished view.
func serveSession(cfg *Config, sm *sessionManager, path string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		s, ok := sm.get(gameID)
		if !ok {
			http.Redirect(w, r, cfg.prefix+"/", http.StatusSeeOther)
			return
		}

		playerID := getOrSetPlayerID(w, r)

		s.mu.Lock()
		s.lastActive = time.Now()

		data := pageData{
			Title:   "Mind Reader",
			Prefix:  cfg.prefix,
			GameURL: cfg.prefix + path + "/" + gameID,
			IsOwner: playerID != "" && playerID == s.ownerID,
			Player:  s.player,
		}

		// Transient errors surface exactly once, to the owner.
		if data.IsOwner && s.lastError != "" {
			data.Error = s.lastError
			s.lastError = ""
		}

		page := "welcome"
		if s.started {
			switch s.state.Phase() {
			case game.PhaseQuestioning:
				page = "question"
				data.Question = s.state.Question
				data.StepDisplay = s.state.Step + 1
				data.Progression = s.state.Progression

			case game.PhaseGuess:
				page = "guess"
				data.Guess = s.state.Guess

			case game.PhaseFinished:
				page = "finished"
				data.Result = s.state.Result
			}
		}
		s.mu.Unlock()

		renderPage(cfg, w, page, data)
	}
}

// handleBegin opens the remote session with the chosen theme. The theme
// is validated before any remote call; failures flash on the welcome
// page with nothing started.
func handleBegin(cfg *Config, sm *sessionManager, controller *game.Controller, path string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		s, ok := sm.get(gameID)
		if !ok {
			http.Redirect(w, r, cfg.prefix+"/", http.StatusSeeOther)
			return
		}

		sessionURL := cfg.prefix + path + "/" + gameID
		playerID := getOrSetPlayerID(w, r)

		s.mu.Lock()
		defer s.mu.Unlock()

		s.lastActive = time.Now()

		if playerID == "" || playerID != s.ownerID {
			http.Redirect(w, r, sessionURL, http.StatusSeeOther)
			return
		}
		if s.started {
			http.Redirect(w, r, sessionURL, http.StatusSeeOther)
			return
		}

		theme := r.FormValue("theme")
		childSafe := r.FormValue("child_mode") == "true"

		state, err := controller.Begin(r.Context(), s.player, theme, childSafe)
		if err != nil {
			s.lastError = beginErrorMessage(err)
			logf(cfg, "GAMES: Begin failed for %s: %v", gameID, err)
			http.Redirect(w, r, sessionURL, http.StatusSeeOther)
			return
		}

		s.state = state
		s.started = true
		s.broadcastLocked()

		logf(cfg, "GAMES: Game %s started (theme %s, child-safe %t)", gameID, state.Theme, childSafe)
		http.Redirect(w, r, sessionURL, http.StatusSeeOther)
	}
}

// handleAnswer is the single submit-action entry point: one action token
// per request, applied under the session lock, then redirect back to the
// session page (PRG).
func handleAnswer(cfg *Config, sm *sessionManager, controller *game.Controller, path string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		s, ok := sm.get(gameID)
		if !ok {
			http.Redirect(w, r, cfg.prefix+"/", http.StatusSeeOther)
			return
		}

		sessionURL := cfg.prefix + path + "/" + gameID
		playerID := getOrSetPlayerID(w, r)

		s.mu.Lock()
		defer s.mu.Unlock()

		s.lastActive = time.Now()

		if playerID == "" || playerID != s.ownerID {
			http.Redirect(w, r, sessionURL, http.StatusSeeOther)
			return
		}
		if !s.started {
			http.Redirect(w, r, sessionURL, http.StatusSeeOther)
			return
		}

		choice, err := game.ParseChoice(r.FormValue("action"))
		if err != nil {
			s.lastError = "Unknown action."
			http.Redirect(w, r, sessionURL, http.StatusSeeOther)
			return
		}

		next, err := controller.Submit(r.Context(), s.state, choice)
		if err != nil {
			// The previous state is still current; re-present it with
			// the error attached.
			s.lastError = submitErrorMessage(err)
			logf(cfg, "GAMES: Action %q on %s failed: %v", choice, gameID, err)
			http.Redirect(w, r, sessionURL, http.StatusSeeOther)
			return
		}

		s.state = next
		s.broadcastLocked()

		http.Redirect(w, r, sessionURL, http.StatusSeeOther)
	}
}

func beginErrorMessage(err error) string {
	if errors.Is(err, akinator.ErrUnknownTheme) {
		return "Please pick one of the available themes."
	}
	return "The mind reader could not be reached. Please try again."
}

func submitErrorMessage(err error) string {
	switch {
	case errors.Is(err, game.ErrCannotGoBack):
		return "You can't go back any further!"
	case errors.Is(err, game.ErrInvalidAction):
		return "That action isn't available right now."
	case errors.Is(err, akinator.ErrSessionExpired):
		return "This game has expired. Please start a new one."
	default:
		return "The mind reader could not be reached. Please try again."
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveSessionWS streams phase snapshots to any viewer of the session:
// one snapshot on connect, then one after every applied action.
func serveSessionWS(cfg *Config, sm *sessionManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		s, ok := sm.get(gameID)
		if !ok {
			http.Error(w, "unknown game id", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		ch := make(chan snapshotMessage, 8)

		s.mu.Lock()
		s.watchers[ch] = true
		first := s.snapshotLocked()
		s.mu.Unlock()

		go func() {
			defer conn.Close()

			if err := conn.WriteJSON(first); err != nil {
				return
			}
			for msg := range ch {
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			}
		}()

		// Watchers never send; reads only detect disconnect.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		s.mu.Lock()
		if _, ok := s.watchers[ch]; ok {
			delete(s.watchers, ch)
			close(ch)
		}
		s.mu.Unlock()

		_ = conn.Close()
	}
}

// qrHandler generates a PNG QR code for the current session URL.
func qrHandler(sm *sessionManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if _, ok := sm.get(gameID); !ok {
			http.Error(w, "unknown game id", http.StatusNotFound)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		// We are at /.../:gameid/qr; strip trailing "/qr" to get the game URL.
		path := strings.TrimSuffix(r.URL.Path, "/qr")

		url := scheme + "://" + r.Host + path

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

// registerMindReader sets up routes so that:
//   - /                        → registration form
//   - /start                   → create a session, redirect to it
//   - $path/:gameid            → current stage of that session
//   - $path/:gameid/begin      → open the remote game
//   - $path/:gameid/answer     → submit one action token
//   - $path/:gameid/ws         → WebSocket snapshot stream
//   - $path/:gameid/qr         → PNG QR code for that session URL
func registerMindReader(cfg *Config, path string, mux *httprouter.Router, controller *game.Controller, recorder records.Recorder) {
	sm := newSessionManager(cfg.sessionTimeout)

	mux.GET(cfg.prefix+"/", serveIndex(cfg))

	mux.POST(cfg.prefix+"/start", handleStart(cfg, sm, recorder, path))

	mux.GET(cfg.prefix+path+"/:gameid", serveSession(cfg, sm, path))

	mux.POST(cfg.prefix+path+"/:gameid/begin", handleBegin(cfg, sm, controller, path))

	mux.POST(cfg.prefix+path+"/:gameid/answer", handleAnswer(cfg, sm, controller, path))

	mux.GET(cfg.prefix+path+"/:gameid/ws", serveSessionWS(cfg, sm))

	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler(sm))
}

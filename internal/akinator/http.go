package akinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is expanded with the negotiated language, e.g.
	// https://en.akinator.com.
	DefaultBaseURL = "https://{lang}.akinator.com"

	// DefaultTimeout bounds each round-trip. The protocol does not
	// guarantee idempotent retries, so a timed-out request is surfaced
	// instead of resent.
	DefaultTimeout = 15 * time.Second

	userAgent = "Mozilla/5.0 (X11; Linux x86_64) mindreader"
)

// HTTPClient implements Client against the public HTTP endpoints of the
// guessing service. The zero value is not usable; use NewHTTPClient.
type HTTPClient struct {
	base string
	http *http.Client
}

// NewHTTPClient returns a client rooted at base. A "{lang}" placeholder
// in base is replaced with the session language. A non-positive timeout
// falls back to DefaultTimeout.
func NewHTTPClient(base string, timeout time.Duration) *HTTPClient {
	if base == "" {
		base = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &HTTPClient{
		base: strings.TrimSuffix(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) root(language string) string {
	return strings.ReplaceAll(c.base, "{lang}", language)
}

// The opening page embeds the negotiated session as hidden form inputs
// and the first question as a labelled paragraph.
var (
	sessionRe    = regexp.MustCompile(`name="session"\s+id="session"\s+value="([^"]+)"`)
	signatureRe  = regexp.MustCompile(`name="signature"\s+id="signature"\s+value="([^"]+)"`)
	identifierRe = regexp.MustCompile(`name="identifiant"\s+id="identifiant"\s+value="([^"]+)"`)
	questionRe   = regexp.MustCompile(`<p class="question-text" id="question-label">([^<]+)</p>`)
)

func (c *HTTPClient) OpenSession(ctx context.Context, language string, theme Theme, childSafe bool) (Handle, Round, error) {
	form := url.Values{
		"sid": {theme.sid()},
		"cw":  {strconv.FormatBool(childSafe)},
	}

	body, err := c.post(ctx, c.root(language)+"/game", form)
	if err != nil {
		return Handle{}, Round{}, fmt.Errorf("open session: %w", err)
	}

	page := string(body)

	session := sessionRe.FindStringSubmatch(page)
	signature := signatureRe.FindStringSubmatch(page)
	question := questionRe.FindStringSubmatch(page)
	if session == nil || signature == nil || question == nil {
		return Handle{}, Round{}, errors.New("open session: malformed game page")
	}

	h := Handle{
		Session:   session[1],
		Signature: signature[1],
		Language:  language,
		Theme:     theme,
		ChildSafe: childSafe,
	}
	if identifier := identifierRe.FindStringSubmatch(page); identifier != nil {
		h.Identifier = identifier[1]
	}

	return h, Round{Question: html.UnescapeString(question[1])}, nil
}

// answerReply is the JSON shape shared by /answer and /cancel_answer.
// Numeric fields arrive as strings.
type answerReply struct {
	Completion string `json:"completion"`

	Step        string `json:"step"`
	Progression string `json:"progression"`
	Question    string `json:"question"`

	IDProposition          string `json:"id_proposition"`
	NameProposition        string `json:"name_proposition"`
	DescriptionProposition string `json:"description_proposition"`
	Photo                  string `json:"photo"`
}

func (c *HTTPClient) SubmitAnswer(ctx context.Context, h Handle, step int, progression float64, a Answer) (Outcome, error) {
	if !h.Complete() {
		return Outcome{}, ErrIncompleteHandle
	}

	form := c.sessionForm(h, step, progression)
	form.Set("answer", strconv.Itoa(int(a)))
	form.Set("step_last_proposition", "")

	body, err := c.post(ctx, c.root(h.Language)+"/answer", form)
	if err != nil {
		return Outcome{}, fmt.Errorf("submit answer: %w", err)
	}

	var reply answerReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return Outcome{}, fmt.Errorf("submit answer: decode reply: %w", err)
	}

	switch {
	case reply.Completion == "OK" && reply.IDProposition != "":
		return Outcome{Guess: &Candidate{
			ID:          reply.IDProposition,
			Name:        reply.NameProposition,
			Description: reply.DescriptionProposition,
			PhotoURL:    reply.Photo,
		}}, nil

	case reply.Completion == "OK":
		round, err := reply.round()
		if err != nil {
			return Outcome{}, fmt.Errorf("submit answer: %w", err)
		}
		return Outcome{Round: &round}, nil

	case reply.Completion == "SOUNDLIKE":
		// The service is out of candidates; it concedes with a closing
		// message in the question slot.
		return Outcome{Final: &Verdict{
			Message:     reply.Question,
			Name:        reply.NameProposition,
			Description: reply.DescriptionProposition,
			PhotoURL:    reply.Photo,
		}}, nil

	case strings.HasPrefix(reply.Completion, "KO - TIMEOUT"):
		return Outcome{}, ErrSessionExpired

	default:
		return Outcome{}, fmt.Errorf("submit answer: completion %q", reply.Completion)
	}
}

func (c *HTTPClient) UndoLastAnswer(ctx context.Context, h Handle, step int, progression float64) (Round, error) {
	if !h.Complete() {
		return Round{}, ErrIncompleteHandle
	}

	body, err := c.post(ctx, c.root(h.Language)+"/cancel_answer", c.sessionForm(h, step, progression))
	if err != nil {
		return Round{}, fmt.Errorf("undo answer: %w", err)
	}

	var reply answerReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return Round{}, fmt.Errorf("undo answer: decode reply: %w", err)
	}

	switch {
	case reply.Completion == "OK":
		round, err := reply.round()
		if err != nil {
			return Round{}, fmt.Errorf("undo answer: %w", err)
		}
		return round, nil

	case strings.HasPrefix(reply.Completion, "KO - TIMEOUT"):
		return Round{}, ErrSessionExpired

	case strings.HasPrefix(reply.Completion, "KO"):
		return Round{}, ErrNoMoreHistory

	default:
		return Round{}, fmt.Errorf("undo answer: completion %q", reply.Completion)
	}
}

func (c *HTTPClient) sessionForm(h Handle, step int, progression float64) url.Values {
	form := url.Values{
		"sid":         {h.Theme.sid()},
		"cw":          {strconv.FormatBool(h.ChildSafe)},
		"session":     {h.Session},
		"signature":   {h.Signature},
		"step":        {strconv.Itoa(step)},
		"progression": {strconv.FormatFloat(progression, 'f', 5, 64)},
	}
	if h.Identifier != "" {
		form.Set("identifiant", h.Identifier)
	}
	return form
}

func (r answerReply) round() (Round, error) {
	step, err := strconv.Atoi(r.Step)
	if err != nil {
		return Round{}, fmt.Errorf("bad step %q", r.Step)
	}
	progression, err := strconv.ParseFloat(r.Progression, 64)
	if err != nil {
		return Round{}, fmt.Errorf("bad progression %q", r.Progression)
	}

	return Round{
		Question:    r.Question,
		Step:        step,
		Progression: progression,
	}, nil
}

func (c *HTTPClient) post(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("service returned %s", resp.Status)
	}

	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// Package akinator speaks the wire protocol of the remote guessing
// service. The service is stateful and step-ordered: every request after
// the first must carry the session, signature and step counter negotiated
// when the session was opened. All of that lives in Handle, a plain value
// the caller persists between requests, so no hidden client state survives
// a call.
package akinator

import (
	"context"
	"errors"
	"fmt"
)

// Theme selects which candidate pool the remote service draws from.
type Theme string

const (
	ThemeCharacters Theme = "characters"
	ThemeAnimals    Theme = "animals"
	ThemeObjects    Theme = "objects"
)

// ParseTheme accepts both the full theme names and their single-letter
// short forms.
func ParseTheme(s string) (Theme, error) {
	switch s {
	case "characters", "c":
		return ThemeCharacters, nil
	case "animals", "a":
		return ThemeAnimals, nil
	case "objects", "o":
		return ThemeObjects, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTheme, s)
}

// sid is the numeric subject ID the service expects on the wire.
func (t Theme) sid() string {
	switch t {
	case ThemeAnimals:
		return "14"
	case ThemeObjects:
		return "2"
	default:
		return "1"
	}
}

// Answer is the fixed answer enumeration of the remote protocol.
type Answer int

const (
	AnswerYes Answer = iota
	AnswerNo
	AnswerUnknown
	AnswerProbablyYes
	AnswerProbablyNo
)

var (
	// ErrUnknownTheme rejects an unsupported theme before any remote call.
	ErrUnknownTheme = errors.New("unknown theme")

	// ErrNoMoreHistory means the service has no earlier question to
	// return to. Expected during play, not a fault.
	ErrNoMoreHistory = errors.New("no more answer history")

	// ErrSessionExpired means the handle is stale per the service; the
	// only recovery is opening a new session.
	ErrSessionExpired = errors.New("remote session expired")

	// ErrIncompleteHandle flags a programming error: an answer or undo
	// was attempted before the session was opened.
	ErrIncompleteHandle = errors.New("incomplete session handle")
)

// Handle carries exactly the fields needed to resume a remote session
// from a fresh request. It is owned by one game session and never shared.
type Handle struct {
	Session    string `json:"session"`
	Signature  string `json:"signature"`
	Identifier string `json:"identifier"`
	Language   string `json:"language"`
	Theme      Theme  `json:"theme"`
	ChildSafe  bool   `json:"child_safe"`
}

// Complete reports whether the handle can resume a session.
func (h Handle) Complete() bool {
	return h.Session != "" && h.Signature != "" && h.Language != "" && h.Theme != ""
}

// Round is one question/answer exchange as reported by the service.
type Round struct {
	Question    string
	Step        int
	Progression float64
}

// Candidate is an entity the service proposes as its guess.
type Candidate struct {
	ID          string
	Name        string
	Description string
	PhotoURL    string
}

// Verdict ends a session on the service's side: it has run out of
// questions or candidates.
type Verdict struct {
	Message     string
	Name        string
	Description string
	PhotoURL    string
}

// Outcome is the result of submitting an answer. Exactly one field is
// set: another question, a guess proposal, or a final verdict.
type Outcome struct {
	Round *Round
	Guess *Candidate
	Final *Verdict
}

// Client is the protocol contract the game controller depends on.
type Client interface {
	// OpenSession negotiates a new remote session and returns its resume
	// handle along with the first question.
	OpenSession(ctx context.Context, language string, theme Theme, childSafe bool) (Handle, Round, error)

	// SubmitAnswer sends one answer for the current step. The caller
	// supplies the step counter and progression it last saw; the service
	// rejects requests that fall out of order.
	SubmitAnswer(ctx context.Context, h Handle, step int, progression float64, a Answer) (Outcome, error)

	// UndoLastAnswer rewinds the session by one step, returning the
	// restored round, or ErrNoMoreHistory.
	UndoLastAnswer(ctx context.Context, h Handle, step int, progression float64) (Round, error)
}

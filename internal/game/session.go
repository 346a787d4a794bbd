// Package game holds the per-player session state and the state machine
// that moves it between the question, guess-confirmation and finished
// phases. Transitions are pure: they take a Session by value and return
// the next one, so a failed remote call leaves the caller's copy exactly
// as it was.
package game

import (
	"errors"
	"fmt"

	"github.com/Seednode/mindreader/internal/akinator"
)

// Phase is the observable stage of a session.
type Phase string

const (
	// PhaseQuestioning: a question is pending and the player may answer
	// or navigate back.
	PhaseQuestioning Phase = "questioning"
	// PhaseGuess: the service proposed a candidate awaiting confirm/reject.
	PhaseGuess Phase = "guess"
	// PhaseFinished: terminal; no further actions are accepted.
	PhaseFinished Phase = "finished"
)

// Choice is one player action token.
type Choice string

const (
	ChoiceYes         Choice = "yes"
	ChoiceNo          Choice = "no"
	ChoiceUnknown     Choice = "unknown"
	ChoiceProbablyYes Choice = "probably"
	ChoiceProbablyNo  Choice = "probably-not"
	ChoiceBack        Choice = "back"
	ChoiceConfirm     Choice = "confirm"
	ChoiceReject      Choice = "reject"
)

var (
	ErrUnknownChoice = errors.New("unknown choice")

	// ErrInvalidAction: the choice is not permitted in the current phase.
	// Rejected before any remote call.
	ErrInvalidAction = errors.New("action not allowed in this phase")

	// ErrCannotGoBack: back was requested at step 0 or the service has no
	// further history. Non-fatal; the session is unchanged.
	ErrCannotGoBack = errors.New("cannot go back any further")
)

// ParseChoice maps an action token from the wire to a Choice.
func ParseChoice(s string) (Choice, error) {
	switch c := Choice(s); c {
	case ChoiceYes, ChoiceNo, ChoiceUnknown, ChoiceProbablyYes,
		ChoiceProbablyNo, ChoiceBack, ChoiceConfirm, ChoiceReject:
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownChoice, s)
}

// answerCode maps an answering choice to its protocol code. Only valid
// for the five answer choices.
func (c Choice) answerCode() akinator.Answer {
	switch c {
	case ChoiceNo:
		return akinator.AnswerNo
	case ChoiceUnknown:
		return akinator.AnswerUnknown
	case ChoiceProbablyYes:
		return akinator.AnswerProbablyYes
	case ChoiceProbablyNo:
		return akinator.AnswerProbablyNo
	default:
		return akinator.AnswerYes
	}
}

// PlayerInfo is the identifying payload collected at registration. The
// game itself never interprets it.
type PlayerInfo struct {
	Name        string
	Contact     string
	Institution string
}

// Candidate mirrors akinator.Candidate for callers that should not
// depend on the protocol package.
type Candidate struct {
	ID          string
	Name        string
	Description string
	PhotoURL    string
}

// Result records how a session ended.
type Result struct {
	Won         bool
	Name        string
	Description string
	PhotoURL    string
	Message     string
}

// Session is the full per-player game record. Exactly one of Question
// non-empty, Guess set, or Result set holds at any time.
type Session struct {
	Player    PlayerInfo
	Theme     akinator.Theme
	ChildSafe bool

	// Handle resumes the remote protocol session between requests.
	Handle akinator.Handle

	Question    string
	Step        int
	Progression float64

	Guess  *Candidate
	Result *Result
}

// Phase derives the current phase from the session contents.
func (s *Session) Phase() Phase {
	switch {
	case s.Result != nil:
		return PhaseFinished
	case s.Guess != nil:
		return PhaseGuess
	default:
		return PhaseQuestioning
	}
}

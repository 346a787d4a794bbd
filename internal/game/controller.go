package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/Seednode/mindreader/internal/akinator"
)

// Controller drives sessions through the state machine. It holds no
// per-session state of its own; callers keep the Session and are
// responsible for serializing actions on it.
type Controller struct {
	client   akinator.Client
	language string
}

func NewController(client akinator.Client, language string) *Controller {
	if language == "" {
		language = "en"
	}

	return &Controller{
		client:   client,
		language: language,
	}
}

// Begin opens a remote session and returns a fresh Session in the
// questioning phase. An unsupported theme is rejected before any remote
// call; on remote failure no session exists.
func (c *Controller) Begin(ctx context.Context, player PlayerInfo, theme string, childSafe bool) (Session, error) {
	t, err := akinator.ParseTheme(theme)
	if err != nil {
		return Session{}, err
	}

	handle, round, err := c.client.OpenSession(ctx, c.language, t, childSafe)
	if err != nil {
		return Session{}, fmt.Errorf("begin game: %w", err)
	}

	return Session{
		Player:      player,
		Theme:       t,
		ChildSafe:   childSafe,
		Handle:      handle,
		Question:    round.Question,
		Step:        round.Step,
		Progression: clamp(round.Progression),
	}, nil
}

// Submit applies one player choice to the session and returns the next
// one. The input session is never modified: on any error the caller's
// copy is still the last known-good state and the same choice may be
// retried.
func (c *Controller) Submit(ctx context.Context, s Session, choice Choice) (Session, error) {
	switch s.Phase() {
	case PhaseFinished:
		return s, ErrInvalidAction

	case PhaseGuess:
		return c.submitVerdict(ctx, s, choice)

	default:
		return c.submitAnswer(ctx, s, choice)
	}
}

// submitVerdict handles confirm/reject while a guess is pending.
func (c *Controller) submitVerdict(ctx context.Context, s Session, choice Choice) (Session, error) {
	switch choice {
	case ChoiceConfirm:
		s.Result = &Result{
			Won:         true,
			Name:        s.Guess.Name,
			Description: s.Guess.Description,
			PhotoURL:    s.Guess.PhotoURL,
			Message:     "I read your mind!",
		}
		s.Guess = nil
		s.Question = ""
		return s, nil

	case ChoiceReject:
		// A rejection is a "No" to the proposition; the service drops
		// the candidate and either resumes questioning or concedes.
		outcome, err := c.client.SubmitAnswer(ctx, s.Handle, s.Step, s.Progression, akinator.AnswerNo)
		if err != nil {
			return s, fmt.Errorf("reject guess: %w", err)
		}
		return applyOutcome(s, outcome), nil

	default:
		return s, ErrInvalidAction
	}
}

// submitAnswer handles the questioning phase: five answers plus back.
func (c *Controller) submitAnswer(ctx context.Context, s Session, choice Choice) (Session, error) {
	switch choice {
	case ChoiceBack:
		return c.goBack(ctx, s)

	case ChoiceYes, ChoiceNo, ChoiceUnknown, ChoiceProbablyYes, ChoiceProbablyNo:
		outcome, err := c.client.SubmitAnswer(ctx, s.Handle, s.Step, s.Progression, choice.answerCode())
		if err != nil {
			return s, fmt.Errorf("submit answer: %w", err)
		}
		return applyOutcome(s, outcome), nil

	default:
		return s, ErrInvalidAction
	}
}

// goBack rewinds one step. At step 0 it refuses locally, without a
// round-trip; the service reporting no history maps to the same error.
func (c *Controller) goBack(ctx context.Context, s Session) (Session, error) {
	if s.Step == 0 {
		return s, ErrCannotGoBack
	}

	round, err := c.client.UndoLastAnswer(ctx, s.Handle, s.Step, s.Progression)
	if err != nil {
		if errors.Is(err, akinator.ErrNoMoreHistory) {
			return s, ErrCannotGoBack
		}
		return s, fmt.Errorf("go back: %w", err)
	}

	s.Question = round.Question
	s.Step = round.Step
	s.Progression = clamp(round.Progression)
	s.Guess = nil
	return s, nil
}

// applyOutcome maps the three remote outcomes onto the session phases:
// another question, a proposed candidate, or a final verdict.
func applyOutcome(s Session, outcome akinator.Outcome) Session {
	switch {
	case outcome.Guess != nil:
		// Step is a question counter; it does not move while a guess is
		// on the table.
		s.Guess = &Candidate{
			ID:          outcome.Guess.ID,
			Name:        outcome.Guess.Name,
			Description: outcome.Guess.Description,
			PhotoURL:    outcome.Guess.PhotoURL,
		}
		s.Question = ""

	case outcome.Final != nil:
		s.Result = &Result{
			Won:         false,
			Name:        outcome.Final.Name,
			Description: outcome.Final.Description,
			PhotoURL:    outcome.Final.PhotoURL,
			Message:     outcome.Final.Message,
		}
		s.Guess = nil
		s.Question = ""

	case outcome.Round != nil:
		s.Question = outcome.Round.Question
		s.Step = outcome.Round.Step
		s.Progression = clamp(outcome.Round.Progression)
		s.Guess = nil
	}

	return s
}

func clamp(progression float64) float64 {
	switch {
	case progression < 0:
		return 0
	case progression > 100:
		return 100
	default:
		return progression
	}
}

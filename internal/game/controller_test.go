package game

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Seednode/mindreader/internal/akinator"
)

// fakeClient scripts the remote service: each SubmitAnswer pops the next
// outcome. It also counts calls so tests can assert that invalid actions
// never reach the wire.
type fakeClient struct {
	openRound *akinator.Round
	outcomes  []akinator.Outcome
	undo      []akinator.Round
	undoErr   error
	openErr   error
	answerErr error

	opens   int
	answers int
	undos   int
}

func (f *fakeClient) OpenSession(_ context.Context, language string, theme akinator.Theme, childSafe bool) (akinator.Handle, akinator.Round, error) {
	f.opens++
	if f.openErr != nil {
		return akinator.Handle{}, akinator.Round{}, f.openErr
	}

	h := akinator.Handle{
		Session:   "sess-1",
		Signature: "sig-1",
		Language:  language,
		Theme:     theme,
		ChildSafe: childSafe,
	}

	round := akinator.Round{Question: "Is it alive?"}
	if f.openRound != nil {
		round = *f.openRound
	}
	return h, round, nil
}

func (f *fakeClient) SubmitAnswer(_ context.Context, h akinator.Handle, step int, progression float64, _ akinator.Answer) (akinator.Outcome, error) {
	f.answers++
	if f.answerErr != nil {
		return akinator.Outcome{}, f.answerErr
	}
	if !h.Complete() {
		return akinator.Outcome{}, akinator.ErrIncompleteHandle
	}
	if len(f.outcomes) == 0 {
		return akinator.Outcome{Round: &akinator.Round{
			Question:    fmt.Sprintf("Question %d?", step+1),
			Step:        step + 1,
			Progression: progression + 5,
		}}, nil
	}

	next := f.outcomes[0]
	f.outcomes = f.outcomes[1:]
	return next, nil
}

func (f *fakeClient) UndoLastAnswer(_ context.Context, h akinator.Handle, step int, progression float64) (akinator.Round, error) {
	f.undos++
	if f.undoErr != nil {
		return akinator.Round{}, f.undoErr
	}
	if len(f.undo) > 0 {
		round := f.undo[0]
		f.undo = f.undo[1:]
		return round, nil
	}
	return akinator.Round{
		Question:    fmt.Sprintf("Question %d?", step-1),
		Step:        step - 1,
		Progression: progression - 5,
	}, nil
}

func newTestSession(t *testing.T, fake *fakeClient) (*Controller, Session) {
	t.Helper()

	c := NewController(fake, "en")
	s, err := c.Begin(context.Background(), PlayerInfo{Name: "Ann"}, "animals", false)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	return c, s
}

func TestBeginRejectsUnknownTheme(t *testing.T) {
	t.Parallel()

	fake := &fakeClient{}
	c := NewController(fake, "en")

	_, err := c.Begin(context.Background(), PlayerInfo{Name: "Ann"}, "vehicles", false)
	if !errors.Is(err, akinator.ErrUnknownTheme) {
		t.Fatalf("err = %v, want ErrUnknownTheme", err)
	}
	if fake.opens != 0 {
		t.Fatalf("remote was called %d times for an invalid theme", fake.opens)
	}
}

func TestBeginStartsQuestioning(t *testing.T) {
	t.Parallel()

	_, s := newTestSession(t, &fakeClient{})

	if got := s.Phase(); got != PhaseQuestioning {
		t.Fatalf("phase = %q, want questioning", got)
	}
	if s.Step != 0 || s.Progression != 0 {
		t.Fatalf("step = %d progression = %f, want 0/0", s.Step, s.Progression)
	}
	if s.Question == "" {
		t.Fatal("expected an opening question")
	}
	if !s.Handle.Complete() {
		t.Fatal("expected a complete resume handle")
	}
}

func TestBeginPropagatesRemoteFailure(t *testing.T) {
	t.Parallel()

	fake := &fakeClient{openErr: errors.New("connection refused")}
	c := NewController(fake, "en")

	if _, err := c.Begin(context.Background(), PlayerInfo{}, "characters", true); err == nil {
		t.Fatal("expected begin to fail")
	}
}

func TestForwardAnswersAdvanceStep(t *testing.T) {
	t.Parallel()

	c, s := newTestSession(t, &fakeClient{})
	ctx := context.Background()

	prevProgression := s.Progression
	for i := 1; i <= 5; i++ {
		next, err := c.Submit(ctx, s, ChoiceYes)
		if err != nil {
			t.Fatalf("answer %d: %v", i, err)
		}
		if next.Step != i {
			t.Fatalf("step after %d answers = %d", i, next.Step)
		}
		if next.Progression < prevProgression {
			t.Fatalf("progression decreased: %f -> %f", prevProgression, next.Progression)
		}
		if next.Question == s.Question {
			t.Fatalf("question did not change after answer %d", i)
		}
		prevProgression = next.Progression
		s = next
	}
}

func TestAnswerDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	c, s := newTestSession(t, &fakeClient{})

	before := s
	if _, err := c.Submit(context.Background(), s, ChoiceNo); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if s != before {
		t.Fatal("input session was mutated")
	}
}

func TestBackIsInverseOfAnswer(t *testing.T) {
	t.Parallel()

	fake := &fakeClient{}
	c, s := newTestSession(t, fake)
	ctx := context.Background()

	q0 := s.Question
	forward, err := c.Submit(ctx, s, ChoiceYes)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}

	fake.undo = []akinator.Round{{Question: q0, Step: 0, Progression: 0}}
	back, err := c.Submit(ctx, forward, ChoiceBack)
	if err != nil {
		t.Fatalf("back: %v", err)
	}

	if back.Step != s.Step {
		t.Fatalf("step = %d, want %d", back.Step, s.Step)
	}
	if back.Question != q0 {
		t.Fatalf("question = %q, want %q", back.Question, q0)
	}
}

func TestBackAtStepZero(t *testing.T) {
	t.Parallel()

	fake := &fakeClient{}
	c, s := newTestSession(t, fake)

	next, err := c.Submit(context.Background(), s, ChoiceBack)
	if !errors.Is(err, ErrCannotGoBack) {
		t.Fatalf("err = %v, want ErrCannotGoBack", err)
	}
	if fake.undos != 0 {
		t.Fatal("remote undo was called at step 0")
	}
	if next.Step != s.Step || next.Question != s.Question || next.Progression != s.Progression {
		t.Fatal("session changed on refused back")
	}
}

func TestProgressionStaysWithinBounds(t *testing.T) {
	t.Parallel()

	// The service occasionally reports progression a hair outside
	// [0,100]; every path that stores a round must bring it back in.
	fake := &fakeClient{
		openRound: &akinator.Round{Question: "Is it alive?", Progression: -3.2},
		outcomes: []akinator.Outcome{
			{Round: &akinator.Round{Question: "Does it fly?", Step: 1, Progression: 104.2}},
		},
		undo: []akinator.Round{{Question: "Is it alive?", Step: 0, Progression: 120.5}},
	}
	c, s := newTestSession(t, fake)
	ctx := context.Background()

	if s.Progression != 0 {
		t.Fatalf("opening progression = %f, want clamped to 0", s.Progression)
	}

	forward, err := c.Submit(ctx, s, ChoiceYes)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if forward.Progression != 100 {
		t.Fatalf("progression after answer = %f, want clamped to 100", forward.Progression)
	}

	back, err := c.Submit(ctx, forward, ChoiceBack)
	if err != nil {
		t.Fatalf("back: %v", err)
	}
	if back.Progression != 100 {
		t.Fatalf("progression after back = %f, want clamped to 100", back.Progression)
	}
}

func TestBackMapsNoMoreHistory(t *testing.T) {
	t.Parallel()

	fake := &fakeClient{undoErr: akinator.ErrNoMoreHistory}
	c, s := newTestSession(t, fake)

	forward, err := c.Submit(context.Background(), s, ChoiceYes)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}

	if _, err := c.Submit(context.Background(), forward, ChoiceBack); !errors.Is(err, ErrCannotGoBack) {
		t.Fatalf("err = %v, want ErrCannotGoBack", err)
	}
}

func guessOutcome(id string) akinator.Outcome {
	return akinator.Outcome{Guess: &akinator.Candidate{
		ID:          id,
		Name:        "Platypus",
		Description: "Monotreme",
		PhotoURL:    "https://example.com/platypus.png",
	}}
}

func TestGuessKeepsStep(t *testing.T) {
	t.Parallel()

	fake := &fakeClient{outcomes: []akinator.Outcome{guessOutcome("42")}}
	c, s := newTestSession(t, fake)

	next, err := c.Submit(context.Background(), s, ChoiceYes)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}

	if got := next.Phase(); got != PhaseGuess {
		t.Fatalf("phase = %q, want guess", got)
	}
	if next.Step != s.Step {
		t.Fatalf("step moved during guess: %d -> %d", s.Step, next.Step)
	}
	if next.Guess == nil || next.Guess.Name != "Platypus" {
		t.Fatalf("guess = %+v", next.Guess)
	}
	if next.Question != "" {
		t.Fatal("question should be empty while a guess is pending")
	}
}

func TestConfirmFinishesWon(t *testing.T) {
	t.Parallel()

	fake := &fakeClient{outcomes: []akinator.Outcome{guessOutcome("42")}}
	c, s := newTestSession(t, fake)
	ctx := context.Background()

	guessed, err := c.Submit(ctx, s, ChoiceYes)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}

	done, err := c.Submit(ctx, guessed, ChoiceConfirm)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if got := done.Phase(); got != PhaseFinished {
		t.Fatalf("phase = %q, want finished", got)
	}
	if done.Result == nil || !done.Result.Won {
		t.Fatalf("result = %+v, want won", done.Result)
	}
	if done.Result.Name != "Platypus" {
		t.Fatalf("result name = %q", done.Result.Name)
	}
	if fake.answers != 1 {
		t.Fatalf("confirm made %d extra remote calls", fake.answers-1)
	}
}

func TestRejectResumesQuestioning(t *testing.T) {
	t.Parallel()

	fake := &fakeClient{outcomes: []akinator.Outcome{
		guessOutcome("42"),
		{Round: &akinator.Round{Question: "Does it lay eggs?", Step: 1, Progression: 50}},
	}}
	c, s := newTestSession(t, fake)
	ctx := context.Background()

	guessed, err := c.Submit(ctx, s, ChoiceYes)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}

	resumed, err := c.Submit(ctx, guessed, ChoiceReject)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}

	if got := resumed.Phase(); got != PhaseQuestioning {
		t.Fatalf("phase = %q, want questioning", got)
	}
	if resumed.Guess != nil {
		t.Fatal("rejected guess still pending")
	}
}

func TestRejectWithNoCandidatesLeftFinishesLost(t *testing.T) {
	t.Parallel()

	fake := &fakeClient{outcomes: []akinator.Outcome{
		guessOutcome("42"),
		{Final: &akinator.Verdict{Message: "Bravo, you have defeated me."}},
	}}
	c, s := newTestSession(t, fake)
	ctx := context.Background()

	guessed, err := c.Submit(ctx, s, ChoiceYes)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}

	done, err := c.Submit(ctx, guessed, ChoiceReject)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}

	if got := done.Phase(); got != PhaseFinished {
		t.Fatalf("phase = %q, want finished", got)
	}
	if done.Result == nil || done.Result.Won {
		t.Fatalf("result = %+v, want lost", done.Result)
	}
	if done.Result.Message == "" {
		t.Fatal("expected the service's closing message")
	}
}

func TestInvalidActionsPerPhase(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		outcomes []akinator.Outcome
		play     []Choice
		invalid  Choice
	}{
		{
			name:    "confirm while questioning",
			invalid: ChoiceConfirm,
		},
		{
			name:    "reject while questioning",
			invalid: ChoiceReject,
		},
		{
			name:     "answer while guess pending",
			outcomes: []akinator.Outcome{guessOutcome("42")},
			play:     []Choice{ChoiceYes},
			invalid:  ChoiceYes,
		},
		{
			name:     "back while guess pending",
			outcomes: []akinator.Outcome{guessOutcome("42")},
			play:     []Choice{ChoiceYes},
			invalid:  ChoiceBack,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fake := &fakeClient{outcomes: tc.outcomes}
			c, s := newTestSession(t, fake)
			ctx := context.Background()

			for _, choice := range tc.play {
				next, err := c.Submit(ctx, s, choice)
				if err != nil {
					t.Fatalf("play %q: %v", choice, err)
				}
				s = next
			}

			calls := fake.answers + fake.undos
			next, err := c.Submit(ctx, s, tc.invalid)
			if !errors.Is(err, ErrInvalidAction) {
				t.Fatalf("err = %v, want ErrInvalidAction", err)
			}
			if fake.answers+fake.undos != calls {
				t.Fatal("invalid action reached the remote service")
			}
			if next.Phase() != s.Phase() {
				t.Fatal("invalid action changed the phase")
			}
		})
	}
}

func TestFinishedIsTerminal(t *testing.T) {
	t.Parallel()

	fake := &fakeClient{outcomes: []akinator.Outcome{guessOutcome("42")}}
	c, s := newTestSession(t, fake)
	ctx := context.Background()

	guessed, err := c.Submit(ctx, s, ChoiceYes)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	done, err := c.Submit(ctx, guessed, ChoiceConfirm)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	for _, choice := range []Choice{ChoiceYes, ChoiceBack, ChoiceConfirm, ChoiceReject} {
		next, err := c.Submit(ctx, done, choice)
		if !errors.Is(err, ErrInvalidAction) {
			t.Fatalf("%q on finished: err = %v, want ErrInvalidAction", choice, err)
		}
		if next.Result == nil || *next.Result != *done.Result {
			t.Fatalf("%q on finished changed the result", choice)
		}
	}
}

func TestRemoteFailureLeavesSessionUnchanged(t *testing.T) {
	t.Parallel()

	fake := &fakeClient{}
	c, s := newTestSession(t, fake)

	fake.answerErr = errors.New("dial tcp: i/o timeout")
	next, err := c.Submit(context.Background(), s, ChoiceYes)
	if err == nil {
		t.Fatal("expected remote failure")
	}
	if next != s {
		t.Fatal("session changed despite remote failure")
	}
}

func TestParseChoice(t *testing.T) {
	t.Parallel()

	for _, token := range []string{"yes", "no", "unknown", "probably", "probably-not", "back", "confirm", "reject"} {
		if _, err := ParseChoice(token); err != nil {
			t.Fatalf("ParseChoice(%q): %v", token, err)
		}
	}

	if _, err := ParseChoice("maybe"); !errors.Is(err, ErrUnknownChoice) {
		t.Fatalf("err = %v, want ErrUnknownChoice", err)
	}
}

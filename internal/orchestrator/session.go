package orchestrator

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/triage-ai/palisade/services/plan_guard/internal/plan"
)

// ErrInvalidTransition is returned when a session is moved along an edge
// its state machine does not have.
var ErrInvalidTransition = errors.New("invalid session transition")

// Phase is the lifecycle state of a planning session.
type Phase string

const (
	PhasePlanning     Phase = "planning"
	PhaseVerification Phase = "verification"
	PhaseDecision     Phase = "decision"
	PhaseComplete     Phase = "complete"
)

// transitions lists every permitted edge. Complete has none.
var transitions = map[Phase][]Phase{
	PhasePlanning:     {PhaseVerification, PhaseComplete},
	PhaseVerification: {PhaseDecision, PhaseComplete},
	PhaseDecision:     {PhaseComplete},
}

// Session is one planning run. It is owned by a single goroutine.
type Session struct {
	ID     string
	UserID string

	phase        Phase
	plan         *plan.PlanAction
	verification *plan.PlanVerification
	decision     *plan.Decision
}

func newSession(userID string) *Session {
	return &Session{ID: uuid.NewString(), UserID: userID, phase: PhasePlanning}
}

func (s *Session) Phase() Phase { return s.phase }

// transition moves the session forward along a permitted edge.
func (s *Session) transition(to Phase) error {
	for _, next := range transitions[s.phase] {
		if next == to {
			s.phase = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.phase, to)
}

package generator

import (
	"context"
	"errors"
	"sync"
)

// ErrGeneratorUnavailable is returned when no candidate could be obtained
// from the model, as opposed to a candidate that fails validation.
var ErrGeneratorUnavailable = errors.New("plan generator unavailable")

// GenerateRequest is one request for a candidate PlanAction document.
type GenerateRequest struct {
	Goal    string
	Context map[string]any
	// Feedback describes why the previous candidate was rejected.
	// Empty on the first attempt.
	Feedback string
}

// Generator produces candidate PlanAction documents. Output is untrusted
// and must go through the validator before use.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) ([]byte, error)
}

// Static returns a fixed sequence of candidates, then repeats the last one.
// Used for local development without a model.
type Static struct {
	mu         sync.Mutex
	candidates [][]byte
	next       int
}

func NewStatic(candidates ...[]byte) *Static {
	return &Static{candidates: candidates}
}

func (s *Static) Generate(ctx context.Context, _ GenerateRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.candidates) == 0 {
		return nil, ErrGeneratorUnavailable
	}
	c := s.candidates[s.next]
	if s.next < len(s.candidates)-1 {
		s.next++
	}
	return c, nil
}

package agent

import (
	"context"
	"time"
)

// Stub is a deterministic agent for tests and `proofloop doctor`. Each call
// consumes the next scripted result; Errs lets a step fail instead.
type Stub struct {
	Results []Result
	Errs    []error

	Calls []Request // every request seen, in order
	next  int
}

func (s *Stub) Name() string { return "stub" }

func (s *Stub) Execute(ctx context.Context, req Request, emit func(Message)) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.Calls = append(s.Calls, req)
	i := s.next
	s.next++

	if i < len(s.Errs) && s.Errs[i] != nil {
		return Result{}, s.Errs[i]
	}
	var res Result
	if i < len(s.Results) {
		res = s.Results[i]
	} else if len(s.Results) > 0 {
		res = s.Results[len(s.Results)-1]
	} else {
		res = Result{FinalText: "ok"}
	}
	if emit != nil {
		emit(Message{Type: "result", Text: res.FinalText, Timestamp: time.Now().UTC()})
	}
	return res, nil
}

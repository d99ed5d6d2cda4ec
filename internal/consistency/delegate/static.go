package delegate

import (
	"context"
	"time"
)

// Static is a canned Checker for tests. It records the last request it
// received and optionally sleeps to simulate a slow delegate.
type Static struct {
	Response Response
	Err      error
	Delay    time.Duration

	LastRequest Request
	Calls       int
}

// Check implements Checker.
func (s *Static) Check(ctx context.Context, req Request) (Response, error) {
	s.LastRequest = req
	s.Calls++
	if s.Delay > 0 {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(s.Delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if s.Err != nil {
		return Response{}, s.Err
	}
	return s.Response, nil
}

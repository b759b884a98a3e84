// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider in unit tests to feed controlled transcripts without a live
// speech-recognition backend and to verify what audio the adapter sent.
//
// Example:
//
//	p := &mock.Provider{Result: &stt.Result{Text: "hello"}}
//	res, err := p.Transcribe(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/njia-health/njia/pkg/provider/stt"
)

// Call records a single invocation of Transcribe.
type Call struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the Request passed to Transcribe.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
// Zero values cause Transcribe to return an empty Result and nil error.
// Set Err to inject a capability failure.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe. When nil, an empty Result is
	// returned instead so callers never see a nil pointer with a nil error.
	Result *stt.Result

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Calls records every invocation of Transcribe in order.
	Calls []Call
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Ctx: ctx, Req: req})
	p.mu.Unlock()

	if p.Err != nil {
		return nil, p.Err
	}
	if p.Result != nil {
		r := *p.Result
		return &r, nil
	}
	return &stt.Result{}, nil
}

// CallCount returns the number of recorded Transcribe invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

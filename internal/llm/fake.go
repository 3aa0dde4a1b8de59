package llm

import (
	"context"
	"sync"
)

// FakeResponse is one scripted outcome.
type FakeResponse struct {
	Text string
	Err  error
}

// Fake is a scripted Client for tests. Responses are returned in order;
// the last one repeats once the script runs out. Every request is kept.
type Fake struct {
	mu        sync.Mutex
	responses []FakeResponse
	requests  []Request
	calls     int

	// Block, when set, makes Complete wait for ctx to be done.
	Block bool
}

// NewFake returns a Fake answering with texts in order.
func NewFake(texts ...string) *Fake {
	f := &Fake{}
	for _, t := range texts {
		f.responses = append(f.responses, FakeResponse{Text: t})
	}
	return f
}

// Push appends a scripted response.
func (f *Fake) Push(r FakeResponse) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, r)
	return f
}

// Complete implements Client.
func (f *Fake) Complete(ctx context.Context, req Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	idx := f.calls
	f.calls++
	var resp FakeResponse
	if n := len(f.responses); n > 0 {
		resp = f.responses[min(idx, n-1)]
	}
	block := f.Block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", transportError(ctx, "fake", ctx.Err())
	}
	if err := ctx.Err(); err != nil {
		return "", transportError(ctx, "fake", err)
	}
	return resp.Text, resp.Err
}

// Requests returns a copy of the recorded requests.
func (f *Fake) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// Calls returns how many times Complete ran.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var _ Client = (*Fake)(nil)

package assist

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// scriptedProvider replies with a fixed sequence of responses and records
// every request it receives.
type scriptedProvider struct {
	mu       sync.Mutex
	replies  []Response
	err      error
	requests []Request
}

func (p *scriptedProvider) Complete(_ context.Context, req Request) (*Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req.Messages = slices.Clone(req.Messages)
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.requests) > len(p.replies) {
		return nil, errors.New("scripted provider: no reply left")
	}
	resp := p.replies[len(p.requests)-1]
	return &resp, nil
}

// messages returns the conversation sent with the i-th request.
func (p *scriptedProvider) messages(i int) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i].Messages
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

var _ Provider = (*scriptedProvider)(nil)

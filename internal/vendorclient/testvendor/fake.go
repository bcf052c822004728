// Package testvendor provides an in-memory fake Transport for exercising
// vendorclient.Client and archiver behavior without a network call.
package testvendor

import (
	"context"
	"fmt"
	"sync"

	"github.com/wisplidn/caiyuangungun-go/internal/frame"
)

// Call records one invocation the fake received.
type Call struct {
	Endpoint string
	Params   map[string]string
}

// Fake is a scripted Transport: each endpoint is given a queue of
// responses to return in order, or a function to compute one dynamically
// (for pagination tests where the response depends on the offset).
type Fake struct {
	mu        sync.Mutex
	calls     []Call
	queues    map[string][]response
	handlers  map[string]func(params map[string]string) (frame.Frame, error)
	failAfter map[string]int
}

type response struct {
	frame frame.Frame
	err   error
}

func New() *Fake {
	return &Fake{
		queues:    make(map[string][]response),
		handlers:  make(map[string]func(params map[string]string) (frame.Frame, error)),
		failAfter: make(map[string]int),
	}
}

// Enqueue schedules f to be returned the next time endpoint is called.
func (f *Fake) Enqueue(endpoint string, fr frame.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[endpoint] = append(f.queues[endpoint], response{frame: fr})
}

// EnqueueError schedules an error to be returned the next time endpoint is called.
func (f *Fake) EnqueueError(endpoint string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[endpoint] = append(f.queues[endpoint], response{err: err})
}

// Handle installs a dynamic responder for endpoint, used by pagination
// tests that need to branch on the offset/limit params.
func (f *Fake) Handle(endpoint string, fn func(params map[string]string) (frame.Frame, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[endpoint] = fn
}

// Calls returns every call the fake has observed, in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *Fake) Do(_ context.Context, endpoint string, params map[string]string) (frame.Frame, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Endpoint: endpoint, Params: cloneParams(params)})
	handler := f.handlers[endpoint]
	var queue []response
	if handler == nil {
		queue = f.queues[endpoint]
	}
	f.mu.Unlock()

	if handler != nil {
		return handler(params)
	}
	if len(queue) == 0 {
		return frame.Frame{}, fmt.Errorf("testvendor: no response queued for endpoint %q", endpoint)
	}

	f.mu.Lock()
	next := f.queues[endpoint][0]
	f.queues[endpoint] = f.queues[endpoint][1:]
	f.mu.Unlock()

	return next.frame, next.err
}

func cloneParams(p map[string]string) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

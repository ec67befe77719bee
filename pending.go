package lspbridge

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"
)

// maxTrackedRequests caps the pending table of a single session.
const maxTrackedRequests = 4096

// envelope is the part of a JSON-RPC message the relay looks at.
// Payloads are forwarded untouched; the peek only feeds bookkeeping.
type envelope struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

func peekEnvelope(payload []byte) (id string, method string, ok bool) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", "", false
	}

	raw := bytes.TrimSpace(env.ID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", env.Method, true
	}
	return string(raw), env.Method, true
}

type pendingRequest struct {
	method string
	sent   time.Time
}

// pendingRequests maps the ids of client requests to their method and send
// time until the backend answers them. It belongs to one session.
type pendingRequests struct {
	mu       sync.Mutex
	requests map[string]pendingRequest
	now      func() time.Time
}

func newPendingRequests() *pendingRequests {
	return &pendingRequests{
		requests: make(map[string]pendingRequest),
		now:      time.Now,
	}
}

// track records payload when it is a request: it has both an id and a method.
func (p *pendingRequests) track(payload []byte) {
	id, method, ok := peekEnvelope(payload)
	if !ok || id == "" || method == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.requests == nil || len(p.requests) >= maxTrackedRequests {
		return
	}
	p.requests[id] = pendingRequest{method: method, sent: p.now()}
}

// resolve drops the request answered by payload. A response carries an id
// and no method; requests sent by the backend are ignored.
func (p *pendingRequests) resolve(payload []byte) (method string, elapsed time.Duration, ok bool) {
	id, m, parsed := peekEnvelope(payload)
	if !parsed || id == "" || m != "" {
		return "", 0, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	req, found := p.requests[id]
	if !found {
		return "", 0, false
	}
	delete(p.requests, id)

	return req.method, p.now().Sub(req.sent), true
}

// abandon clears the table and returns how many requests were unanswered.
// Later calls to track are ignored.
func (p *pendingRequests) abandon() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.requests)
	p.requests = nil
	return n
}

func (p *pendingRequests) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

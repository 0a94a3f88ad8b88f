package engine

import (
	"context"
	"sync"
)

// Token is a cooperative cancellation flag for one job. Workers check it at
// step checkpoints and bind their job context so an in-flight probe unblocks.
type Token struct {
	mu       sync.Mutex
	done     chan struct{}
	canceled bool
	cancel   context.CancelFunc
}

func newToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Canceled reports whether Cancel has fired.
func (t *Token) Canceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

// Done is closed once the token is canceled.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Bind attaches a context cancel func. If the token already fired, cancel is
// invoked immediately.
func (t *Token) Bind(cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.canceled {
		cancel()
		return
	}
	t.cancel = cancel
}

func (t *Token) fire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.canceled {
		return
	}
	t.canceled = true
	close(t.done)
	if t.cancel != nil {
		t.cancel()
	}
}

// Tokens is the registry of live cancellation tokens keyed by job id.
type Tokens struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

// NewTokens creates an empty registry.
func NewTokens() *Tokens {
	return &Tokens{tokens: make(map[string]*Token)}
}

// Acquire returns the job's token, creating it if needed.
func (r *Tokens) Acquire(jobID string) *Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.tokens[jobID]
	if !ok {
		tok = newToken()
		r.tokens[jobID] = tok
	}
	return tok
}

// Cancel fires the job's token. It reports whether a token was registered.
func (r *Tokens) Cancel(jobID string) bool {
	r.mu.Lock()
	tok, ok := r.tokens[jobID]
	r.mu.Unlock()
	if ok {
		tok.fire()
	}
	return ok
}

// Release forgets a finished job's token.
func (r *Tokens) Release(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, jobID)
}

// Len reports the number of live tokens.
func (r *Tokens) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

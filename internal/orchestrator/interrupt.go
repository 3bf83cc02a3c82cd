package orchestrator

import "sync"

// InterruptToken is a single-shot signal raised by STT voice-activity-start
// and consumed by the currently-running speak pipeline. It is reset at the
// start of every new turn.
//
// Safe for concurrent use: Raise may be called from the STT event-handling
// goroutine while Raised/Done are polled from the speak pipeline goroutine.
type InterruptToken struct {
	mu     sync.Mutex
	raised bool
	done   chan struct{}
}

// NewInterruptToken returns a token in the un-raised state.
func NewInterruptToken() *InterruptToken {
	return &InterruptToken{done: make(chan struct{})}
}

// Raise sets the token exactly once; subsequent calls are no-ops. Returns
// true if this call was the one that raised it (i.e. the first speech-start
// detection within the utterance).
func (t *InterruptToken) Raise() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.raised {
		return false
	}
	t.raised = true
	close(t.done)
	return true
}

// Raised reports whether the token has been raised.
func (t *InterruptToken) Raised() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.raised
}

// Done returns a channel that is closed when the token is raised, suitable
// for use in a select alongside context cancellation and data channels.
func (t *InterruptToken) Done() <-chan struct{} {
	return t.done
}

// Reset returns a fresh, un-raised token for the next turn. The old token is
// left as-is (any code still holding it continues to observe its prior
// state); callers should replace their reference with the new one.
func Reset() *InterruptToken {
	return NewInterruptToken()
}

package agent

import (
	"fmt"
	"sync"

	"github.com/m4xw311/thinkact/errors"
)

var (
	// ErrCancelled matches every *CancelledError.
	ErrCancelled = errors.Sentinel("request cancelled")
	// ErrAgentUsed is returned by a second Query on the same Agent.
	ErrAgentUsed = errors.Sentinel("agent already ran a query")
)

// Canceller answers whether a request has been cancelled. It is polled
// before each model call and after each action.
type Canceller interface {
	IsCancelled(requestID string) bool
}

// CancelledError reports a query stopped by its canceller or context.
type CancelledError struct {
	RequestID string
	Turn      int
	// Cause is the context error, if the context ended.
	Cause error
}

func (e *CancelledError) Error() string {
	msg := fmt.Sprintf("request %s cancelled at turn %d", e.RequestID, e.Turn)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

func (e *CancelledError) Unwrap() error { return e.Cause }

// Cancellations is an in-memory Canceller shared between a front end and
// the agents it runs. The zero value is ready to use.
type Cancellations struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewCancellations returns an empty set.
func NewCancellations() *Cancellations {
	return &Cancellations{}
}

// Cancel marks requestID; the owning loop stops at its next checkpoint.
func (c *Cancellations) Cancel(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ids == nil {
		c.ids = make(map[string]struct{})
	}
	c.ids[requestID] = struct{}{}
}

// IsCancelled reports whether Cancel was called for requestID.
func (c *Cancellations) IsCancelled(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ids[requestID]
	return ok
}

// Forget drops a finished request.
func (c *Cancellations) Forget(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ids, requestID)
}

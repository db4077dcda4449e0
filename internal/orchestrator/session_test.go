package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestSessionStartRequestCancelsPrevious covers the single-active-request
// rule: a new request against a live chatId cancels the previous one.
func TestSessionStartRequestCancelsPrevious(t *testing.T) {
	sess := &session{}

	ctx1, cancel1 := context.WithCancel(context.Background())
	gen1 := sess.startRequest(cancel1)

	ctx2, cancel2 := context.WithCancel(context.Background())
	gen2 := sess.startRequest(cancel2)

	assert.Error(t, ctx1.Err(), "starting a second request must cancel the first")
	assert.NoError(t, ctx2.Err(), "the second request's own context must remain live")
	assert.NotEqual(t, gen1, gen2)

	cancel2()
}

// TestSessionEndRequestDoesNotClobberNewerRequest guards against a cleanup
// race: a superseded request's deferred cleanup must not clear the cancel
// func installed by the request that superseded it.
func TestSessionEndRequestDoesNotClobberNewerRequest(t *testing.T) {
	sess := &session{}

	_, cancel1 := context.WithCancel(context.Background())
	gen1 := sess.startRequest(cancel1)

	_, cancel2 := context.WithCancel(context.Background())
	sess.startRequest(cancel2)
	defer cancel2()

	// Request 1's deferred cleanup runs after it has already been
	// superseded; it must be a no-op with respect to request 2's cancel.
	sess.endRequest(gen1)

	assert.True(t, sess.isActive(), "request 2's cancel func must still be installed")
}

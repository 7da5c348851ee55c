package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spindleworks/spindle/internal/transport"
)

func newTestSink() *Upstream {
	return New(&recorder{}, &transport.Command{}, blockingHeader(), "echo@process", nil)
}

func TestRegistryGetKeepsIntermediateJobs(t *testing.T) {
	r := NewRegistry()
	up := newTestSink()
	r.Register(1, up)

	assert.Same(t, up, r.Get(1, false))
	assert.Equal(t, 1, r.Len(), "intermediate lookup must not remove the job")

	assert.Same(t, up, r.Get(1, true))
	assert.Equal(t, 0, r.Len(), "terminal lookup removes the job")
	assert.Nil(t, r.Get(1, true))
}

func TestRegistryCompleteRemovesOnce(t *testing.T) {
	r := NewRegistry()
	up := newTestSink()
	r.Register(3, up)

	assert.Same(t, up, r.Complete(3))
	assert.Nil(t, r.Complete(3))
}

func TestRegistryUnknownKey(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Get(99, false))
	assert.Nil(t, r.Get(99, true))
	assert.Equal(t, 0, r.Len())
}

func TestRegistryDrain(t *testing.T) {
	r := NewRegistry()
	r.Register(1, newTestSink())
	r.Register(2, newTestSink())

	drained := r.Drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Drain())
}

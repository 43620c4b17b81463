package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCaster struct {
	mu    sync.Mutex
	votes map[string]string
	err   error
}

func (c *recordingCaster) CastVote(_ context.Context, identity, candidate string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.votes == nil {
		c.votes = make(map[string]string)
	}
	c.votes[identity] = candidate
	return nil
}

// blockingCaster holds every call until release is closed or ctx ends.
type blockingCaster struct {
	entered chan struct{}
	release chan struct{}
}

func (c *blockingCaster) CastVote(ctx context.Context, _, _ string) error {
	c.entered <- struct{}{}
	select {
	case <-c.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func waitResult(t *testing.T, ch <-chan *ProcessingResult) *ProcessingResult {
	t.Helper()
	select {
	case res := <-ch:
		require.NotNil(t, res)
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for queue result")
		return nil
	}
}

func TestQueueProcessesVotes(t *testing.T) {
	defer leaktest.Check(t)()

	caster := &recordingCaster{}
	qp := NewQueueProcessor(caster, 16, 4, nil)
	qp.Start(context.Background())
	defer qp.Stop()

	results := []<-chan *ProcessingResult{
		qp.QueueVote("alice", "A"),
		qp.QueueVote("bob", "B"),
		qp.QueueVote("carol", "A"),
	}
	for _, ch := range results {
		res := waitResult(t, ch)
		assert.True(t, res.Success)
		assert.NoError(t, res.Err)
		assert.NotZero(t, res.RequestID)
	}

	caster.mu.Lock()
	defer caster.mu.Unlock()
	assert.Equal(t, map[string]string{"alice": "A", "bob": "B", "carol": "A"}, caster.votes)
}

func TestQueueReportsCasterError(t *testing.T) {
	defer leaktest.Check(t)()

	caster := &recordingCaster{err: ErrNotRegistered}
	qp := NewQueueProcessor(caster, 4, 1, nil)
	qp.Start(context.Background())
	defer qp.Stop()

	res := waitResult(t, qp.QueueVote("mallory", "A"))
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrNotRegistered)
	assert.Equal(t, ErrNotRegistered.Error(), res.ErrorMessage)
}

func TestQueueFull(t *testing.T) {
	defer leaktest.Check(t)()

	caster := &blockingCaster{
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	qp := NewQueueProcessor(caster, 1, 1, nil)
	qp.Start(context.Background())
	defer qp.Stop()

	first := qp.QueueVote("alice", "A")
	<-caster.entered

	second := qp.QueueVote("bob", "A")
	third := qp.QueueVote("carol", "A")

	res := waitResult(t, third)
	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, ErrQueueFull))

	close(caster.release)
	assert.True(t, waitResult(t, first).Success)
	assert.True(t, waitResult(t, second).Success)
}

func TestQueueStopFailsWaitingRequests(t *testing.T) {
	defer leaktest.Check(t)()

	qp := NewQueueProcessor(&recordingCaster{}, 4, 1, nil)

	// never started, so nothing drains the queue
	waiting := qp.QueueVote("alice", "A")
	assert.Len(t, qp.voteCh, 1)

	qp.Stop()
	res := waitResult(t, waiting)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrQueueStopped)

	res = waitResult(t, qp.QueueVote("bob", "A"))
	assert.ErrorIs(t, res.Err, ErrQueueStopped)

	// idempotent
	qp.Stop()
}

func TestQueueStopsWithContext(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	qp := NewQueueProcessor(&recordingCaster{}, 4, 3, nil)
	qp.Start(ctx)
	cancel()
	qp.Stop()
}

func TestQueueWithVotingService(t *testing.T) {
	defer leaktest.Check(t)()

	vs := newTestService(t, Options{BatchSize: 2}, "alice", "bob")
	qp := NewQueueProcessor(vs, 8, 2, nil)
	qp.Start(context.Background())

	a := qp.QueueVote("alice", "A")
	b := qp.QueueVote("bob", "B")
	assert.True(t, waitResult(t, a).Success)
	assert.True(t, waitResult(t, b).Success)

	dup := waitResult(t, qp.QueueVote("alice", "B"))
	assert.False(t, dup.Success)

	qp.Stop()
	require.NoError(t, vs.Flush(context.Background()))
	assert.Equal(t, 2, vs.Results().TotalVotes)
}

package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"voting-ledger/logging"
)

var (
	ErrQueueFull    = errors.New("vote queue is full")
	ErrQueueStopped = errors.New("vote queue is stopped")
)

// VoteCaster is the part of VotingService the queue drives.
type VoteCaster interface {
	CastVote(ctx context.Context, identity, candidate string) error
}

// QueueProcessor hands vote requests to a fixed pool of workers so that
// request handlers never block on proof-of-work.
type QueueProcessor struct {
	caster  VoteCaster
	voteCh  chan *VoteRequest
	workers int
	metrics *Metrics
	log     *logrus.Entry

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// VoteRequest represents a queued vote casting request
type VoteRequest struct {
	ID        uuid.UUID
	Identity  string
	Candidate string
	ResultCh  chan<- *ProcessingResult
}

// ProcessingResult contains the result of an asynchronous operation
type ProcessingResult struct {
	Success      bool
	RequestID    uuid.UUID
	Err          error
	ErrorMessage string
	Timestamp    int64
}

// NewQueueProcessor creates a queue holding up to queueSize requests, served
// by workers goroutines once started.
func NewQueueProcessor(caster VoteCaster, queueSize, workers int, m *Metrics) *QueueProcessor {
	if queueSize < 1 {
		queueSize = 1
	}
	if workers < 1 {
		workers = 1
	}
	if m == nil {
		m = NopMetrics()
	}
	return &QueueProcessor{
		caster:  caster,
		voteCh:  make(chan *VoteRequest, queueSize),
		workers: workers,
		metrics: m,
		log:     logging.Module("queue"),
	}
}

// Start launches the workers. They run until Stop is called or ctx is done.
func (qp *QueueProcessor) Start(ctx context.Context) {
	qp.mu.Lock()
	defer qp.mu.Unlock()

	if qp.started || qp.stopped {
		return
	}
	qp.started = true

	ctx, qp.cancel = context.WithCancel(ctx)
	for i := 0; i < qp.workers; i++ {
		qp.wg.Add(1)
		go qp.voteWorker(ctx, i)
	}

	qp.log.WithField("workers", qp.workers).Info("vote queue started")
}

// QueueVote adds a vote casting request to the processing queue. It never
// blocks: a full or stopped queue answers immediately with a failed result.
func (qp *QueueProcessor) QueueVote(identity, candidate string) <-chan *ProcessingResult {
	resultCh := make(chan *ProcessingResult, 1)
	req := &VoteRequest{
		ID:        uuid.New(),
		Identity:  identity,
		Candidate: candidate,
		ResultCh:  resultCh,
	}

	qp.mu.Lock()
	defer qp.mu.Unlock()

	if qp.stopped {
		resultCh <- failedResult(req.ID, ErrQueueStopped)
		close(resultCh)
		return resultCh
	}

	select {
	case qp.voteCh <- req:
	default:
		qp.metrics.QueueDropped.Add(1)
		qp.log.WithField("request", req.ID).Warn("vote queue is full, request dropped")
		resultCh <- failedResult(req.ID, ErrQueueFull)
		close(resultCh)
	}
	return resultCh
}

// Stop shuts the workers down and fails every request still waiting in the
// queue with ErrQueueStopped. It is safe to call more than once.
func (qp *QueueProcessor) Stop() {
	qp.mu.Lock()
	if qp.stopped {
		qp.mu.Unlock()
		return
	}
	qp.stopped = true
	if qp.cancel != nil {
		qp.cancel()
	}
	qp.mu.Unlock()

	qp.wg.Wait()

	// no sender can reach voteCh once stopped is set
	for {
		select {
		case req := <-qp.voteCh:
			req.ResultCh <- failedResult(req.ID, ErrQueueStopped)
			close(req.ResultCh)
		default:
			qp.log.Info("vote queue stopped")
			return
		}
	}
}

func (qp *QueueProcessor) voteWorker(ctx context.Context, id int) {
	defer qp.wg.Done()

	log := qp.log.WithField("worker", id)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-qp.voteCh:
			start := time.Now()
			err := qp.caster.CastVote(ctx, req.Identity, req.Candidate)

			if err != nil {
				log.WithError(err).WithField("request", req.ID).Debug("vote refused")
				req.ResultCh <- failedResult(req.ID, err)
			} else {
				log.WithFields(logging.Fields{
					"request": req.ID,
					"took":    time.Since(start),
				}).Debug("vote processed")
				req.ResultCh <- &ProcessingResult{
					Success:   true,
					RequestID: req.ID,
					Timestamp: time.Now().Unix(),
				}
			}
			close(req.ResultCh)
		}
	}
}

func failedResult(id uuid.UUID, err error) *ProcessingResult {
	return &ProcessingResult{
		Success:      false,
		RequestID:    id,
		Err:          err,
		ErrorMessage: err.Error(),
		Timestamp:    time.Now().Unix(),
	}
}

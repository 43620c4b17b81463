package service

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"voting-ledger/anonymizer"
	"voting-ledger/blockchain/ledger"
	"voting-ledger/logging"
	"voting-ledger/models"
	"voting-ledger/registry"
)

var (
	ErrNotRegistered = errors.New("voter not registered")
	ErrVotingClosed  = errors.New("voting session has ended")
)

type Status struct {
	VotingActive     bool        `json:"voting_active"`
	StartedAt        time.Time   `json:"started_at"`
	EndsAt           *time.Time  `json:"ends_at,omitempty"`
	ChainLength      int         `json:"chain_length"`
	PendingVotes     int         `json:"pending_votes"`
	SealedVotes      int         `json:"sealed_votes"`
	RegisteredVoters int         `json:"registered_voters"`
	Difficulty       uint8       `json:"difficulty"`
	TipHash          common.Hash `json:"tip_hash"`
}

// VoterStatus is a registration as presented to administrators.
type VoterStatus struct {
	Fingerprint  common.Hash `json:"fingerprint"`
	RegisteredAt time.Time   `json:"registered_at"`
	HasVoted     bool        `json:"has_voted"`
}

// ChainStore receives a copy of the chain after every mined block.
type ChainStore interface {
	SaveChain([]models.Block) error
}

type Options struct {
	// BatchSize is the pending pool size that triggers mining. Values below 1
	// mean every vote is mined on its own.
	BatchSize  int
	Difficulty uint8
	Session    *VotingSession
	Store      ChainStore
	Metrics    *Metrics
	Logger     *logrus.Entry
}

// VotingService is the workflow around the ledger: registered voters cast
// votes, and once enough are pending they are mined into a block.
type VotingService struct {
	ledger     *ledger.Ledger
	registry   *registry.VoterRegistry
	session    *VotingSession
	store      ChainStore
	metrics    *Metrics
	batchSize  int
	difficulty uint8
	log        *logrus.Entry

	// held across export and save so snapshots land in chain order
	snapshotMu sync.Mutex
}

func NewVotingService(l *ledger.Ledger, reg *registry.VoterRegistry, opts Options) *VotingService {
	vs := &VotingService{
		ledger:     l,
		registry:   reg,
		session:    opts.Session,
		store:      opts.Store,
		metrics:    opts.Metrics,
		batchSize:  opts.BatchSize,
		difficulty: opts.Difficulty,
		log:        opts.Logger,
	}

	if vs.session == nil {
		vs.session = NewVotingSession(0)
	}
	if vs.metrics == nil {
		vs.metrics = NopMetrics()
	}
	if vs.batchSize < 1 {
		vs.batchSize = 1
	}
	if vs.log == nil {
		vs.log = logging.Module("service")
	}

	vs.metrics.ChainHeight.Set(float64(l.Len()))
	vs.metrics.PendingVotes.Set(float64(l.PendingCount()))
	return vs
}

func (vs *VotingService) RegisterVoter(identity, adminKey string) (common.Hash, error) {
	return vs.registry.Register(identity, adminKey)
}

// CastVote records a vote for a registered identity and mines the pending
// pool once it reaches the batch size.
func (vs *VotingService) CastVote(ctx context.Context, identity, candidate string) error {
	if !vs.session.IsActive() {
		vs.reject("closed")
		return ErrVotingClosed
	}

	fp, err := anonymizer.Fingerprint(identity)
	if err != nil {
		vs.reject("malformed")
		return err
	}

	if !vs.registry.IsRegistered(fp) {
		vs.reject("unregistered")
		return ErrNotRegistered
	}

	vote, err := models.NewVote(fp, candidate, time.Now())
	if err != nil {
		vs.reject("malformed")
		return err
	}

	if err := vs.ledger.SubmitVote(vote); err != nil {
		switch {
		case errors.Is(err, ledger.ErrDuplicateVote):
			vs.reject("duplicate")
		case errors.Is(err, ledger.ErrPendingPoolFull):
			vs.reject("pool_full")
		default:
			vs.reject("malformed")
		}
		return err
	}

	vs.metrics.VotesSubmitted.Add(1)
	pending := vs.ledger.PendingCount()
	vs.metrics.PendingVotes.Set(float64(pending))

	// the vote is accepted either way; a failed batch stays pending for Flush
	if pending >= vs.batchSize {
		if _, err := vs.MinePending(ctx); err != nil && !errors.Is(err, ledger.ErrEmptyPendingPool) {
			vs.log.WithError(err).WithField("pending", pending).Warn("mining vote batch failed")
		}
	}

	return nil
}

// MinePending seals the pending pool into a block and snapshots the chain.
// A failed snapshot is logged; the block stays on the chain.
func (vs *VotingService) MinePending(ctx context.Context) (*models.Block, error) {
	start := time.Now()
	block, err := vs.ledger.MinePending(ctx, vs.difficulty)
	if err != nil {
		return nil, err
	}

	vs.metrics.SealSeconds.Observe(time.Since(start).Seconds())
	vs.metrics.BlocksMined.Add(1)
	vs.metrics.ChainHeight.Set(float64(vs.ledger.Len()))
	vs.metrics.PendingVotes.Set(float64(vs.ledger.PendingCount()))

	vs.saveSnapshot(block.Index)
	return block, nil
}

func (vs *VotingService) saveSnapshot(index uint64) {
	if vs.store == nil {
		return
	}

	vs.snapshotMu.Lock()
	defer vs.snapshotMu.Unlock()

	if err := vs.store.SaveChain(vs.ledger.Export()); err != nil {
		vs.log.WithError(err).WithField("index", index).Error("failed to save chain snapshot")
	}
}

// Flush mines whatever is pending, regardless of batch size.
func (vs *VotingService) Flush(ctx context.Context) error {
	if vs.ledger.PendingCount() == 0 {
		return nil
	}
	if _, err := vs.MinePending(ctx); err != nil && !errors.Is(err, ledger.ErrEmptyPendingPool) {
		return err
	}
	return nil
}

// EndVotingSession closes the session and mines any votes still pending.
func (vs *VotingService) EndVotingSession(ctx context.Context) error {
	vs.session.End()
	vs.log.Info("voting session ended")
	return vs.Flush(ctx)
}

// Authorize checks an administrator key.
func (vs *VotingService) Authorize(adminKey string) error {
	return vs.registry.Authorize(adminKey)
}

// Status summarizes the session and the chain.
func (vs *VotingService) Status() *Status {
	st := &Status{
		VotingActive:     vs.session.IsActive(),
		StartedAt:        vs.session.StartedAt(),
		ChainLength:      vs.ledger.Len(),
		PendingVotes:     vs.ledger.PendingCount(),
		SealedVotes:      vs.ledger.SealedVotes(),
		RegisteredVoters: vs.registry.Count(),
		Difficulty:       vs.ledger.Difficulty(),
		TipHash:          vs.ledger.Tip().Hash,
	}
	if end := vs.session.EndsAt(); !end.IsZero() {
		st.EndsAt = &end
	}
	return st
}

func (vs *VotingService) IsVotingActive() bool {
	return vs.session.IsActive()
}

// Validate checks the whole chain.
func (vs *VotingService) Validate() (bool, error) {
	if err := vs.ledger.ValidateErr(); err != nil {
		vs.metrics.ValidationFailures.Add(1)
		vs.log.WithError(err).Warn("chain validation failed")
		return false, err
	}
	return true, nil
}

func (vs *VotingService) Chain() []models.Block {
	return vs.ledger.Export()
}

// HasVoted reports whether the fingerprint has a vote pending or sealed.
func (vs *VotingService) HasVoted(fp common.Hash) bool {
	return vs.ledger.HasVoted(fp)
}

// Voters lists every registration in registration order, marking those whose
// vote is pending or sealed.
func (vs *VotingService) Voters() []VoterStatus {
	regs := vs.registry.Voters()
	out := make([]VoterStatus, len(regs))
	for i, r := range regs {
		out[i] = VoterStatus{
			Fingerprint:  r.Fingerprint,
			RegisteredAt: r.RegisteredAt,
			HasVoted:     vs.ledger.HasVoted(r.Fingerprint),
		}
	}
	return out
}

func (vs *VotingService) RegisteredCount() int {
	return vs.registry.Count()
}

func (vs *VotingService) reject(reason string) {
	vs.metrics.VotesRejected.With("reason", reason).Add(1)
}

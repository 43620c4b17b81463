// Package ledger holds the authoritative vote chain: the sealed blocks, the
// pool of votes waiting to be sealed and the set of voters already counted.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"voting-ledger/logging"
	"voting-ledger/models"
)

// Ledger is safe for concurrent use. The write lock covers every mutation of
// chain and pending; full-chain reads hold the read lock so they never see a
// half-appended block.
type Ledger struct {
	mu sync.RWMutex

	chain   []models.Block
	pending []models.Vote

	sealed *fingerprintSet
	queued map[common.Hash]struct{}

	difficulty uint8
	maxPending int
	now        func() time.Time
	log        *logrus.Entry
}

// New creates a ledger holding only a genesis block sealed at difficulty.
// difficulty is also the floor every later block must meet.
func New(difficulty uint8, opts ...Option) *Ledger {
	l := newLedger(difficulty, opts)

	genesis := models.NewBlock(0, nil, common.Hash{}, l.now())
	if err := genesis.Seal(l.difficulty); err != nil {
		// an empty block always serializes and Seal has no deadline
		panic(err)
	}
	l.chain = []models.Block{genesis}

	l.log.WithFields(logging.Fields{
		"hash":       genesis.Hash.Hex(),
		"difficulty": difficulty,
	}).Debug("created genesis block")

	return l
}

// Restore rebuilds a ledger from an exported chain. The chain must pass
// ValidateChain at difficulty.
func Restore(blocks []models.Block, difficulty uint8, opts ...Option) (*Ledger, error) {
	if err := models.ValidateChain(blocks, difficulty); err != nil {
		return nil, errors.Wrap(err, "restoring chain")
	}

	l := newLedger(difficulty, opts)
	l.chain = models.CopyChain(blocks)
	for _, block := range l.chain {
		for _, vote := range block.Transactions {
			l.sealed.Add(vote.VoterFingerprint)
		}
	}

	l.log.WithFields(logging.Fields{
		"blocks": len(l.chain),
		"votes":  l.sealed.Len(),
	}).Info("restored chain")

	return l, nil
}

func newLedger(difficulty uint8, opts []Option) *Ledger {
	l := &Ledger{
		pending:    make([]models.Vote, 0),
		sealed:     newFingerprintSet(),
		queued:     make(map[common.Hash]struct{}),
		difficulty: difficulty,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logging.Module("ledger")
	}
	return l
}

// SubmitVote queues a vote for the next block.
func (l *Ledger) SubmitVote(vote models.Vote) error {
	if err := vote.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fp := vote.VoterFingerprint
	if _, ok := l.queued[fp]; ok || l.sealed.Has(fp) {
		return ErrDuplicateVote
	}

	if l.maxPending > 0 && len(l.pending) >= l.maxPending {
		return ErrPendingPoolFull
	}

	l.pending = append(l.pending, vote)
	l.queued[fp] = struct{}{}

	l.log.WithField("pending", len(l.pending)).Debug("vote queued")
	return nil
}

// MinePending seals every pending vote into a new block and appends it. The
// proof-of-work search runs without holding the lock; if another block lands
// on the chain meanwhile the candidate is discarded and rebuilt on the new tip.
// Blocks are sealed at the larger of difficulty and the ledger's floor.
func (l *Ledger) MinePending(ctx context.Context, difficulty uint8) (*models.Block, error) {
	if difficulty < l.difficulty {
		difficulty = l.difficulty
	}

	for {
		l.mu.RLock()
		if len(l.pending) == 0 {
			l.mu.RUnlock()
			return nil, ErrEmptyPendingPool
		}
		tip := l.chain[len(l.chain)-1]
		candidate := models.NewBlock(tip.Index+1, l.pending, tip.Hash, l.now())
		l.mu.RUnlock()

		start := time.Now()
		if err := candidate.SealContext(ctx, difficulty); err != nil {
			return nil, err
		}

		l.mu.Lock()
		if l.chain[len(l.chain)-1].Hash != tip.Hash {
			l.mu.Unlock()
			l.log.WithField("index", candidate.Index).Debug("chain tip moved while sealing, retrying")
			continue
		}

		l.chain = append(l.chain, candidate)

		// votes submitted while sealing stay queued for the next block
		rest := l.pending[len(candidate.Transactions):]
		l.pending = append(make([]models.Vote, 0, len(rest)), rest...)
		for _, vote := range candidate.Transactions {
			delete(l.queued, vote.VoterFingerprint)
			l.sealed.Add(vote.VoterFingerprint)
		}
		pendingLeft := len(l.pending)
		l.mu.Unlock()

		l.log.WithFields(logging.Fields{
			"index":   candidate.Index,
			"votes":   len(candidate.Transactions),
			"nonce":   candidate.Nonce,
			"hash":    candidate.Hash.Hex(),
			"pending": pendingLeft,
			"took":    time.Since(start),
		}).Info("mined block")

		sealed := candidate.Clone()
		return &sealed, nil
	}
}

// Validate reports whether the whole chain is intact.
func (l *Ledger) Validate() bool {
	if err := l.ValidateErr(); err != nil {
		l.log.WithError(err).Warn("chain validation failed")
		return false
	}
	return true
}

// ValidateErr is Validate returning the first integrity failure.
func (l *Ledger) ValidateErr() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return models.ValidateChain(l.chain, l.difficulty)
}

// Tally counts sealed votes per candidate. Pending votes are not counted.
func (l *Ledger) Tally() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	results := make(map[string]int)
	for _, block := range l.chain {
		for _, vote := range block.Transactions {
			results[vote.Candidate]++
		}
	}
	return results
}

// Export returns a deep copy of the chain in order.
func (l *Ledger) Export() []models.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return models.CopyChain(l.chain)
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.chain)
}

func (l *Ledger) PendingCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.pending)
}

// Tip returns a copy of the most recently appended block.
func (l *Ledger) Tip() models.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.chain[len(l.chain)-1].Clone()
}

// HasVoted reports whether a vote with this fingerprint is sealed or pending.
func (l *Ledger) HasVoted(fp common.Hash) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.queued[fp]
	return ok || l.sealed.Has(fp)
}

// SealedVotes returns the number of votes in the chain.
func (l *Ledger) SealedVotes() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.sealed.Len()
}

func (l *Ledger) Difficulty() uint8 {
	return l.difficulty
}

// Package registry tracks which voter fingerprints have been approved to vote.
package registry

import (
	"crypto/subtle"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"voting-ledger/anonymizer"
	"voting-ledger/logging"
	"voting-ledger/models"
)

var (
	ErrMissingAdminKey   = errors.New("admin key is not configured")
	ErrInvalidAdminKey   = errors.New("invalid admin key")
	ErrAlreadyRegistered = errors.New("voter already registered")
)

// Store persists the full set of registrations after every change.
type Store interface {
	SaveVoters([]models.VoterRegistration) error
}

type VoterRegistry struct {
	mu       sync.RWMutex
	voters   map[common.Hash]models.VoterRegistration
	adminKey string
	store    Store
	now      func() time.Time
	log      *logrus.Entry
}

// New returns a registry seeded with existing registrations. store may be nil.
func New(adminKey string, existing []models.VoterRegistration, store Store) (*VoterRegistry, error) {
	if adminKey == "" {
		return nil, ErrMissingAdminKey
	}

	r := &VoterRegistry{
		voters:   make(map[common.Hash]models.VoterRegistration, len(existing)),
		adminKey: adminKey,
		store:    store,
		now:      time.Now,
		log:      logging.Module("registry"),
	}
	for _, v := range existing {
		r.voters[v.Fingerprint] = v
	}
	return r, nil
}

// Register approves an identity and returns its fingerprint. A missing
// identity is reported before a bad admin key. The identity itself is not
// retained.
func (r *VoterRegistry) Register(identity, adminKey string) (common.Hash, error) {
	fp, err := anonymizer.Fingerprint(identity)
	if err != nil {
		return common.Hash{}, err
	}

	if err := r.Authorize(adminKey); err != nil {
		return common.Hash{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.voters[fp]; ok {
		return common.Hash{}, ErrAlreadyRegistered
	}

	r.voters[fp] = models.VoterRegistration{
		Fingerprint:  fp,
		RegisteredAt: r.now().UTC(),
	}

	if r.store != nil {
		if err := r.store.SaveVoters(r.snapshotLocked()); err != nil {
			delete(r.voters, fp)
			return common.Hash{}, errors.Wrap(err, "saving registration")
		}
	}

	r.log.WithField("fingerprint", fp.Hex()).Info("registered voter")
	return fp, nil
}

// Authorize checks adminKey against the configured key in constant time.
func (r *VoterRegistry) Authorize(adminKey string) error {
	if subtle.ConstantTimeCompare([]byte(adminKey), []byte(r.adminKey)) != 1 {
		return ErrInvalidAdminKey
	}
	return nil
}

func (r *VoterRegistry) IsRegistered(fp common.Hash) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.voters[fp]
	return ok
}

func (r *VoterRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.voters)
}

// Voters returns all registrations ordered by registration time.
func (r *VoterRegistry) Voters() []models.VoterRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.snapshotLocked()
}

func (r *VoterRegistry) snapshotLocked() []models.VoterRegistration {
	out := make([]models.VoterRegistration, 0, len(r.voters))
	for _, v := range r.voters {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].Fingerprint.Hex() < out[j].Fingerprint.Hex()
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out
}

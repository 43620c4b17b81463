package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Vote is a single cast ballot. The JSON encoding of a Vote is both its
// presented form and the bytes that go into a block hash.
type Vote struct {
	VoterFingerprint common.Hash `json:"voter_fingerprint"`
	Candidate        string      `json:"candidate"`
	CastAt           time.Time   `json:"cast_at"`
}

func NewVote(fingerprint common.Hash, candidate string, castAt time.Time) (Vote, error) {
	v := Vote{
		VoterFingerprint: fingerprint,
		Candidate:        candidate,
		CastAt:           castAt.UTC(),
	}
	if err := v.Validate(); err != nil {
		return Vote{}, err
	}
	return v, nil
}

// Validate reports whether every field of the vote is present and encodable.
func (v Vote) Validate() error {
	if v.VoterFingerprint == (common.Hash{}) {
		return errors.Wrap(ErrInvalidVote, "missing voter fingerprint")
	}
	if strings.TrimSpace(v.Candidate) == "" {
		return errors.Wrap(ErrInvalidVote, "missing candidate")
	}
	if v.CastAt.IsZero() {
		return errors.Wrap(ErrInvalidVote, "missing cast time")
	}
	if y := v.CastAt.Year(); y < 0 || y > 9999 {
		return errors.Wrapf(ErrInvalidVote, "cast time %d out of range", y)
	}
	return nil
}

// Canonical returns the JSON encoding of the vote.
func (v Vote) Canonical() ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encoding vote")
	}
	return data, nil
}

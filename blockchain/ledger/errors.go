package ledger

import "github.com/pkg/errors"

var (
	ErrDuplicateVote    = errors.New("voter has already voted")
	ErrPendingPoolFull  = errors.New("pending vote pool is full")
	ErrEmptyPendingPool = errors.New("no pending votes to mine")
)

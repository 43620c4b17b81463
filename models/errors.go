package models

import "github.com/pkg/errors"

var (
	ErrInvalidVote = errors.New("invalid vote")

	ErrEmptyChain           = errors.New("chain has no blocks")
	ErrInvalidGenesis       = errors.New("invalid genesis block")
	ErrInvalidIndex         = errors.New("block index out of sequence")
	ErrBrokenLink           = errors.New("previous hash does not match predecessor")
	ErrInvalidSeal          = errors.New("block seal does not verify")
	ErrDuplicateFingerprint = errors.New("voter fingerprint sealed more than once")
)

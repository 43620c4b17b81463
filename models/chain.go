package models

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// ValidateChain checks every block's seal, its index, its link to the
// predecessor and that no voter fingerprint is sealed twice. It returns the
// first failure found.
func ValidateChain(blocks []Block, difficulty uint8) error {
	if len(blocks) == 0 {
		return ErrEmptyChain
	}

	genesis := &blocks[0]
	if genesis.PreviousHash != (common.Hash{}) || len(genesis.Transactions) != 0 {
		return ErrInvalidGenesis
	}

	seen := make(map[common.Hash]struct{})
	for i := range blocks {
		block := &blocks[i]

		if block.Index != uint64(i) {
			return errors.Wrapf(ErrInvalidIndex, "position %d holds index %d", i, block.Index)
		}

		if i > 0 && block.PreviousHash != blocks[i-1].Hash {
			return errors.Wrapf(ErrBrokenLink, "block %d", i)
		}

		if !block.VerifySeal(difficulty) {
			return errors.Wrapf(ErrInvalidSeal, "block %d", i)
		}

		for j, vote := range block.Transactions {
			if err := vote.Validate(); err != nil {
				return errors.Wrapf(err, "block %d transaction %d", i, j)
			}
			if _, ok := seen[vote.VoterFingerprint]; ok {
				return errors.Wrapf(ErrDuplicateFingerprint, "block %d transaction %d", i, j)
			}
			seen[vote.VoterFingerprint] = struct{}{}
		}
	}

	return nil
}

// CopyChain deep copies a slice of blocks.
func CopyChain(blocks []Block) []Block {
	out := make([]Block, len(blocks))
	for i := range blocks {
		out[i] = blocks[i].Clone()
	}
	return out
}

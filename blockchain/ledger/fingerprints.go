package ledger

import (
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/ethereum/go-ethereum/common"
)

const (
	expectedVoters = 100000
	falsePositive  = 0.01
)

// fingerprintSet is an exact set fronted by a bloom filter so that the common
// case, a voter who has not voted yet, is answered without touching the map.
type fingerprintSet struct {
	filter *bloom.BloomFilter
	exact  map[common.Hash]struct{}
}

func newFingerprintSet() *fingerprintSet {
	return &fingerprintSet{
		filter: bloom.NewWithEstimates(expectedVoters, falsePositive),
		exact:  make(map[common.Hash]struct{}),
	}
}

func (s *fingerprintSet) Add(fp common.Hash) {
	s.filter.Add(fp[:])
	s.exact[fp] = struct{}{}
}

func (s *fingerprintSet) Has(fp common.Hash) bool {
	if !s.filter.Test(fp[:]) {
		return false
	}
	_, ok := s.exact[fp]
	return ok
}

func (s *fingerprintSet) Len() int {
	return len(s.exact)
}

package models

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/bits"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// MaxDifficulty is the largest number of leading zero bits a seal may require.
const MaxDifficulty = 255

// ctx is polled once per this many nonce attempts
const sealCheckInterval = 1 << 14

type Block struct {
	Index        uint64      `json:"index"`
	Transactions []Vote      `json:"transactions"`
	CreatedAt    time.Time   `json:"created_at"`
	PreviousHash common.Hash `json:"previous_hash"`
	Hash         common.Hash `json:"hash"`
	Nonce        uint64      `json:"nonce"`
}

// NewBlock returns an unsealed block. The transactions are copied.
func NewBlock(index uint64, transactions []Vote, previousHash common.Hash, createdAt time.Time) Block {
	txs := make([]Vote, len(transactions))
	copy(txs, transactions)

	return Block{
		Index:        index,
		Transactions: txs,
		CreatedAt:    createdAt.UTC(),
		PreviousHash: previousHash,
	}
}

// Seal searches nonces upward from zero until the block hash has at least
// difficulty leading zero bits.
func (b *Block) Seal(difficulty uint8) error {
	return b.SealContext(context.Background(), difficulty)
}

// SealContext is Seal with cancellation. On error the block is left unchanged.
func (b *Block) SealContext(ctx context.Context, difficulty uint8) error {
	buf, err := b.preimage()
	if err != nil {
		return errors.Wrap(err, "serializing block")
	}
	nonceBytes := buf[len(buf)-8:]

	for nonce := uint64(0); ; nonce++ {
		if nonce%sealCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return errors.Wrapf(err, "sealing block %d", b.Index)
			}
		}

		binary.BigEndian.PutUint64(nonceBytes, nonce)
		hash := sha256.Sum256(buf)
		if MeetsDifficulty(hash, difficulty) {
			b.Nonce = nonce
			b.Hash = hash
			return nil
		}
	}
}

// VerifySeal recomputes the hash from the current fields and checks it against
// the stored hash and the difficulty.
func (b *Block) VerifySeal(difficulty uint8) bool {
	calculated, err := b.ComputeHash()
	if err != nil {
		return false
	}
	return calculated == b.Hash && MeetsDifficulty(calculated, difficulty)
}

func (b *Block) ComputeHash() (common.Hash, error) {
	buf, err := b.preimage()
	if err != nil {
		return common.Hash{}, err
	}
	return sha256.Sum256(buf), nil
}

// preimage lays out index, transactions, creation time, previous hash and
// nonce. The nonce is always the final 8 bytes.
func (b *Block) preimage() ([]byte, error) {
	txs, err := canonicalTransactions(b.Transactions)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 8+len(txs)+8+common.HashLength+8)
	buf = binary.BigEndian.AppendUint64(buf, b.Index)
	buf = append(buf, txs...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(b.CreatedAt.UnixNano()))
	buf = append(buf, b.PreviousHash[:]...)
	buf = binary.BigEndian.AppendUint64(buf, b.Nonce)
	return buf, nil
}

func canonicalTransactions(votes []Vote) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range votes {
		if i > 0 {
			buf.WriteByte(',')
		}
		data, err := v.Canonical()
		if err != nil {
			return nil, errors.Wrapf(err, "transaction %d", i)
		}
		buf.Write(data)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// MeetsDifficulty reports whether hash has at least difficulty leading zero bits.
func MeetsDifficulty(hash common.Hash, difficulty uint8) bool {
	need := int(difficulty)
	for _, octet := range hash {
		if need <= 0 {
			return true
		}
		if octet != 0 {
			return bits.LeadingZeros8(octet) >= need
		}
		need -= 8
	}
	return need <= 0
}

// Clone returns a deep copy of the block.
func (b Block) Clone() Block {
	b.Transactions = append(make([]Vote, 0, len(b.Transactions)), b.Transactions...)
	return b
}

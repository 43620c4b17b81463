package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// VoterRegistration records that an identity was approved to vote. Only the
// fingerprint of the identity is kept.
type VoterRegistration struct {
	Fingerprint  common.Hash `json:"fingerprint" msgpack:"f"`
	RegisteredAt time.Time   `json:"registered_at" msgpack:"t"`
}

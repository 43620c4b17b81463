// Package anonymizer turns caller-supplied voter identities into pseudonymous
// fingerprints. Raw identities never leave this package.
package anonymizer

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

var ErrEmptyIdentity = errors.New("identity token is empty")

// Fingerprint returns the Keccak-256 digest of the trimmed identity token.
func Fingerprint(identity string) (common.Hash, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return common.Hash{}, ErrEmptyIdentity
	}
	return keccak256([]byte(identity)), nil
}

func keccak256(data ...[]byte) common.Hash {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	var h common.Hash
	d.Sum(h[:0])
	return h
}

package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"

	"github.com/creachadair/atomicfile"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"voting-ledger/models"
)

const votersFile = "voters.msgpack"

// VoterStorage persists voter registrations as a single msgpack file.
type VoterStorage struct {
	path string
	mu   sync.Mutex
}

func NewVoterStorage(dataDir string) (*VoterStorage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, errors.Wrap(err, "creating data directory")
	}
	return &VoterStorage{path: filepath.Join(dataDir, votersFile)}, nil
}

func (s *VoterStorage) SaveVoters(voters []models.VoterRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := msgpack.Marshal(voters)
	if err != nil {
		return errors.Wrap(err, "encoding voters")
	}

	if _, err := atomicfile.WriteAll(s.path, bytes.NewReader(data), 0600); err != nil {
		return errors.Wrap(err, "writing voters file")
	}
	return nil
}

// LoadVoters returns the saved registrations, or nil if nothing was saved yet.
func (s *VoterStorage) LoadVoters() ([]models.VoterRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "reading voters file")
	}

	var voters []models.VoterRegistration
	if err := msgpack.Unmarshal(data, &voters); err != nil {
		return nil, errors.Wrap(err, "decoding voters")
	}
	return voters, nil
}

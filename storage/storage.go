// Package storage keeps point-in-time snapshots of the vote chain and the
// voter registry on disk.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/creachadair/atomicfile"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"voting-ledger/logging"
	"voting-ledger/models"
)

const (
	chainFilePattern = "votes_chain_*.json"
	snapshotLayout   = "20060102150405.000000000"

	DefaultKeep = 5
)

type BlockchainStorage struct {
	dataDir string
	keep    int
	mutex   sync.RWMutex
	log     *logrus.Entry
}

type chainFile struct {
	path      string
	timestamp int64
}

type chainFiles []chainFile

func (f chainFiles) Len() int           { return len(f) }
func (f chainFiles) Less(i, j int) bool { return f[i].timestamp < f[j].timestamp }
func (f chainFiles) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }

// New opens (creating if needed) a snapshot directory. keep is the number of
// snapshots retained after each save; values below 1 mean DefaultKeep.
func New(dataDir string, keep int) (*BlockchainStorage, error) {
	absPath, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, errors.Wrap(err, "resolving data directory")
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, errors.Wrap(err, "creating data directory")
	}

	if keep < 1 {
		keep = DefaultKeep
	}

	return &BlockchainStorage{
		dataDir: absPath,
		keep:    keep,
		log:     logging.Module("storage"),
	}, nil
}

func (s *BlockchainStorage) Dir() string {
	return s.dataDir
}

// SaveChain writes the chain to a new timestamped snapshot and prunes old ones.
func (s *BlockchainStorage) SaveChain(chain []models.Block) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(chain) == 0 {
		return errors.New("cannot save empty chain")
	}

	data, err := json.MarshalIndent(chain, "", "    ")
	if err != nil {
		return errors.Wrap(err, "encoding chain")
	}

	filename := filepath.Join(s.dataDir, fmt.Sprintf("votes_chain_%s.json", time.Now().UTC().Format(snapshotLayout)))
	if _, err := atomicfile.WriteAll(filename, bytes.NewReader(data), 0644); err != nil {
		return errors.Wrap(err, "writing chain snapshot")
	}

	if err := s.cleanupOldFiles(s.keep); err != nil {
		s.log.WithError(err).Warn("failed to prune old snapshots")
	}

	s.log.WithFields(logging.Fields{
		"blocks": len(chain),
		"file":   filename,
	}).Debug("saved chain snapshot")
	return nil
}

// LoadLatestChain returns the newest snapshot, or nil if there is none.
func (s *BlockchainStorage) LoadLatestChain() ([]models.Block, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	files, err := s.listSnapshots()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	latest := files[len(files)-1].path

	data, err := os.ReadFile(latest)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", latest)
	}

	var chain []models.Block
	if err := json.Unmarshal(data, &chain); err != nil {
		return nil, errors.Wrapf(err, "decoding chain from %s", latest)
	}

	s.log.WithFields(logging.Fields{
		"blocks": len(chain),
		"file":   latest,
	}).Info("loaded chain snapshot")
	return chain, nil
}

// listSnapshots returns snapshot files sorted oldest first.
func (s *BlockchainStorage) listSnapshots() (chainFiles, error) {
	paths, err := filepath.Glob(filepath.Join(s.dataDir, chainFilePattern))
	if err != nil {
		return nil, errors.Wrap(err, "listing snapshots")
	}

	var files chainFiles
	for _, path := range paths {
		base := filepath.Base(path)
		stamp := strings.TrimSuffix(strings.TrimPrefix(base, "votes_chain_"), ".json")
		ts, err := time.Parse(snapshotLayout, stamp)
		if err != nil {
			s.log.WithField("file", base).Warn("ignoring snapshot with invalid timestamp")
			continue
		}
		files = append(files, chainFile{path: path, timestamp: ts.UnixNano()})
	}

	sort.Sort(files)
	return files, nil
}

func (s *BlockchainStorage) cleanupOldFiles(keep int) error {
	files, err := s.listSnapshots()
	if err != nil {
		return err
	}

	for i := 0; i < len(files)-keep; i++ {
		if err := os.Remove(files[i].path); err != nil {
			s.log.WithError(err).WithField("file", files[i].path).Warn("failed to remove old snapshot")
			continue
		}
		s.log.WithField("file", files[i].path).Debug("removed old snapshot")
	}

	return nil
}

package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"voting-ledger/logging"
)

// MaxDifficulty bounds the configured seal difficulty. Genesis is sealed at
// startup without a deadline, so the search has to finish.
const MaxDifficulty = 32

const (
	Cfg_listenAddr         = "listen_addr"
	Cfg_storageDir         = "storage_dir"
	Cfg_difficulty         = "difficulty"
	Cfg_batchSize          = "batch_size"
	Cfg_maxPending         = "max_pending"
	Cfg_queueSize          = "queue_size"
	Cfg_workers            = "workers"
	Cfg_sessionDuration    = "session_duration"
	Cfg_adminKey           = "admin_key"
	Cfg_snapshotKeep       = "snapshot_keep"
	Cfg_corsAllowedOrigins = "cors_allowed_origins"
	Cfg_verbose            = "verbose"
)

var (
	ErrMissingAdminKey   = errors.New("admin_key must be set")
	ErrInvalidDifficulty = errors.New("difficulty out of range")

	defaults = map[string]interface{}{
		Cfg_listenAddr:         ":5000",
		Cfg_storageDir:         "blockchain_data",
		Cfg_difficulty:         12,
		Cfg_batchSize:          5,
		Cfg_maxPending:         10000,
		Cfg_queueSize:          1000,
		Cfg_workers:            4,
		Cfg_sessionDuration:    time.Duration(0),
		Cfg_adminKey:           "",
		Cfg_snapshotKeep:       5,
		Cfg_corsAllowedOrigins: []string{"*"},
		Cfg_verbose:            false,
	}
)

func init() {
	SetDefaults(viper.GetViper())
}

func SetDefaults(v *viper.Viper) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

type Config struct {
	ListenAddr         string
	StorageDir         string
	Difficulty         uint8
	BatchSize          int
	MaxPending         int
	QueueSize          int
	Workers            int
	SessionDuration    time.Duration
	AdminKey           string
	SnapshotKeep       int
	CORSAllowedOrigins []string
	Verbose            bool
}

// GetConfig reads voting-ledger.yaml and VOTING_* environment variables into
// the global viper instance. A missing file is not an error.
func GetConfig() (*Config, error) {
	viper.SetConfigType("yaml")
	viper.SetConfigName("voting-ledger")
	viper.AddConfigPath("/etc/voting-ledger/")
	viper.AddConfigPath("$HOME/.voting-ledger")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("VOTING")
	viper.AutomaticEnv()
	err := viper.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logging.Module("config").Warn("no config found")
		} else {
			return nil, errors.Wrap(err, "reading config file")
		}
	}

	c, err := FromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}

	c.applyLogLevel()
	return c, nil
}

func (c *Config) applyLogLevel() {
	if c.Verbose {
		logging.SetLevel(logrus.DebugLevel)
		logging.Module("config").WithField("level", "debug").Debug("setting log level")
	}
}

// FromViper builds and validates a Config from v.
func FromViper(v *viper.Viper) (*Config, error) {
	difficulty := v.GetInt(Cfg_difficulty)
	if difficulty < 0 || difficulty > MaxDifficulty {
		return nil, errors.Wrapf(ErrInvalidDifficulty, "got %d, want 0-%d", difficulty, MaxDifficulty)
	}

	c := &Config{
		ListenAddr:         v.GetString(Cfg_listenAddr),
		StorageDir:         v.GetString(Cfg_storageDir),
		Difficulty:         uint8(difficulty),
		BatchSize:          v.GetInt(Cfg_batchSize),
		MaxPending:         v.GetInt(Cfg_maxPending),
		QueueSize:          v.GetInt(Cfg_queueSize),
		Workers:            v.GetInt(Cfg_workers),
		SessionDuration:    v.GetDuration(Cfg_sessionDuration),
		AdminKey:           v.GetString(Cfg_adminKey),
		SnapshotKeep:       v.GetInt(Cfg_snapshotKeep),
		CORSAllowedOrigins: v.GetStringSlice(Cfg_corsAllowedOrigins),
		Verbose:            v.GetBool(Cfg_verbose),
	}

	if c.AdminKey == "" {
		return nil, ErrMissingAdminKey
	}
	if c.BatchSize < 1 {
		return nil, errors.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.MaxPending < 0 {
		return nil, errors.Errorf("max_pending must not be negative, got %d", c.MaxPending)
	}

	return c, nil
}

// Package snapshot persists the engine state as a single JSON document.
//
// Writes are whole-file overwrites through a temp file and rename. The store
// assumes exactly one writer process; concurrent processes against the same
// path are unsupported.
package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/swaybot/sway/config"
	"github.com/swaybot/sway/internal/ledger"
	"github.com/swaybot/sway/internal/orderbook"
)

// Snapshot is the full persisted engine state: ledger, order book and the
// settings in effect, embedded together for atomic restore.
type Snapshot struct {
	SavedAt   time.Time       `json:"saved_at"`
	Ledger    ledger.State    `json:"ledger"`
	OrderBook orderbook.State `json:"order_book"`
	Settings  config.Settings `json:"settings"`
	// LastSentiment index value of the last executed trade, for hysteresis.
	LastSentiment *float64 `json:"last_sentiment,omitempty"`
	// LastTradeTime per-wallet cooldown anchor.
	LastTradeTime map[string]time.Time `json:"last_trade_time,omitempty"`
	// FailedSaves consecutive snapshot write failures, surfaced as a
	// degraded-health signal to the observability layer.
	FailedSaves int `json:"failed_saves,omitempty"`
}

// Store is the storage port for engine snapshots.
type Store interface {
	Load() (*Snapshot, error)
	Save(snapshot Snapshot) error
}

// FileStore implements Store on a single JSON file.
type FileStore struct {
	path string
}

// NewFileStore creates the parent directory and returns a file-backed store.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create snapshot dir")
	}
	return &FileStore{path: path}, nil
}

// Load reads the snapshot from disk. A missing or empty file returns nil
// without error so a first start proceeds from on-chain balances.
func (s *FileStore) Load() (*Snapshot, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read snapshot")
	}
	if len(payload) == 0 {
		return nil, nil
	}

	var snapshot Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}

	return &snapshot, nil
}

// Save writes the snapshot atomically via a temp file and rename.
func (s *FileStore) Save(snapshot Snapshot) error {
	snapshot.SavedAt = time.Now()

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write snapshot temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist snapshot")
	}

	return nil
}

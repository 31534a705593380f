package executor

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"

	"github.com/swaybot/sway/internal/domain"
)

const (
	intentKeyPrefix     = "swap_intent_"
	intentStatusPending = "pending"
	intentStatusDone    = "done"
	intentStatusFailed  = "failed"

	walSegmentThreshold = 1000
	walMaxSegments      = 100
)

// IntentRecord is one persisted swap attempt. A pending record that never
// reached done or failed marks a crash mid-bundle.
type IntentRecord struct {
	ID        string                `json:"id"`
	Status    string                `json:"status"`
	Direction domain.TradeDirection `json:"direction"`
	Sentiment float64               `json:"sentiment"`
	Amount    decimal.Decimal       `json:"amount"`
	BundleID  string                `json:"bundle_id,omitempty"`
	Error     string                `json:"error,omitempty"`
	Time      time.Time             `json:"time"`
}

// Journal is the append-only execution journal backed by a WAL. Every swap
// attempt is prepared before submission and resolved after, so restarts can
// see attempts that were cut off in flight. Safe for concurrent use.
type Journal struct {
	mu      sync.Mutex
	wal     *gowal.Wal
	pending map[string]*IntentRecord
}

// NewJournal opens the WAL directory and replays unresolved intents.
func NewJournal(dir string) (*Journal, error) {
	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "intent_",
		SegmentThreshold: walSegmentThreshold,
		MaxSegments:      walMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init execution journal")
	}

	pending := make(map[string]*IntentRecord)
	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, intentKeyPrefix) {
			continue
		}
		var record IntentRecord
		if err := json.Unmarshal(msg.Value, &record); err != nil {
			continue
		}
		if record.Status == intentStatusPending {
			stored := record
			pending[record.ID] = &stored
		} else {
			delete(pending, record.ID)
		}
	}

	return &Journal{wal: wal, pending: pending}, nil
}

// Prepare writes a pending intent before the bundle is submitted.
func (j *Journal) Prepare(direction domain.TradeDirection, sentiment float64, amount decimal.Decimal) (*IntentRecord, error) {
	record := &IntentRecord{
		ID:        uuid.New().String(),
		Status:    intentStatusPending,
		Direction: direction,
		Sentiment: sentiment,
		Amount:    amount,
		Time:      time.Now(),
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.persist(record); err != nil {
		return nil, err
	}

	j.pending[record.ID] = record
	return record, nil
}

// MarkDone resolves the intent after the bundle landed.
func (j *Journal) MarkDone(record *IntentRecord, bundleID string) error {
	if record == nil {
		return nil
	}
	record.Status = intentStatusDone
	record.BundleID = bundleID
	record.Error = ""
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.pending, record.ID)
	return j.persist(record)
}

// MarkFailed resolves the intent after a classified failure.
func (j *Journal) MarkFailed(record *IntentRecord, cause error) error {
	if record == nil {
		return nil
	}
	record.Status = intentStatusFailed
	if cause != nil {
		record.Error = cause.Error()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.pending, record.ID)
	return j.persist(record)
}

// Pending returns intents that were prepared but never resolved, typically
// because the process died mid-bundle.
func (j *Journal) Pending() []IntentRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]IntentRecord, 0, len(j.pending))
	for _, record := range j.pending {
		out = append(out, *record)
	}
	return out
}

// Close closes the underlying WAL.
func (j *Journal) Close() error {
	return j.wal.Close()
}

// persist requires j.mu held: the WAL index allocation is read-then-write.
func (j *Journal) persist(record *IntentRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "marshal swap intent")
	}
	key := fmt.Sprintf("%s%s", intentKeyPrefix, record.ID)
	return j.wal.Write(j.wal.CurrentIndex()+1, key, payload)
}

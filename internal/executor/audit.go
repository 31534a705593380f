package executor

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/swaybot/sway/internal/domain"
)

var auditHeader = []string{
	"time", "intent_id", "direction", "sentiment", "amount",
	"price", "base_change", "quote_change", "tx_id", "outcome",
}

// AuditLog is the append-only CSV audit trail. Every swap attempt is recorded
// regardless of outcome.
type AuditLog struct {
	mu   sync.Mutex
	path string
}

// NewAuditLog creates the parent directory and writes the header when the
// file does not exist yet.
func NewAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create audit log dir")
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, errors.Wrap(err, "create audit log")
		}
		w := csv.NewWriter(f)
		if err := w.Write(auditHeader); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "write audit header")
		}
		w.Flush()
		if err := f.Close(); err != nil {
			return nil, errors.Wrap(err, "close audit log")
		}
	}

	return &AuditLog{path: path}, nil
}

// auditEntry is one row of the trail.
type auditEntry struct {
	Time        time.Time
	IntentID    string
	Direction   domain.TradeDirection
	Sentiment   float64
	Amount      decimal.Decimal
	Price       decimal.Decimal
	BaseChange  decimal.Decimal
	QuoteChange decimal.Decimal
	TxID        string
	Outcome     string
}

// Record appends one entry to the trail.
func (a *AuditLog) Record(entry auditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "open audit log")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		entry.Time.UTC().Format(time.RFC3339),
		entry.IntentID,
		string(entry.Direction),
		decimal.NewFromFloat(entry.Sentiment).String(),
		entry.Amount.String(),
		entry.Price.String(),
		entry.BaseChange.String(),
		entry.QuoteChange.String(),
		entry.TxID,
		entry.Outcome,
	}); err != nil {
		return errors.Wrap(err, "write audit row")
	}
	w.Flush()

	return errors.Wrap(w.Error(), "flush audit row")
}

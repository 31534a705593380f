package config

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/swaybot/sway/internal/domain"
)

const defaultSettingsTTL = 30 * time.Second

// SettingsProvider serves the current settings with a short TTL cache so each
// cycle sees one consistent view without re-reading the backing loader on
// every call.
type SettingsProvider struct {
	mu       sync.RWMutex
	current  Settings
	loadedAt time.Time
	ttl      time.Duration
	loader   func() (Settings, error)
	logger   *zap.Logger
	now      func() time.Time
}

// NewSettingsProvider builds a provider seeded with initial settings. The
// loader is optional; without it the provider only changes through Update.
func NewSettingsProvider(initial Settings, loader func() (Settings, error), logger *zap.Logger) *SettingsProvider {
	return &SettingsProvider{
		current: initial,
		ttl:     defaultSettingsTTL,
		loader:  loader,
		logger:  logger,
		now:     time.Now,
	}
}

// Current returns the cached settings, refreshing from the loader when the
// TTL elapsed. A failed refresh keeps serving the previous settings.
func (p *SettingsProvider) Current() Settings {
	p.mu.RLock()
	fresh := p.loader == nil || p.now().Sub(p.loadedAt) < p.ttl
	settings := p.current
	p.mu.RUnlock()

	if fresh {
		return settings
	}

	loaded, err := p.loader()
	if err != nil {
		p.logger.Warn("settings refresh failed, keeping cached settings", zap.Error(err))
		return settings
	}
	if err := loaded.Validate(); err != nil {
		p.logger.Warn("refreshed settings are invalid, keeping cached settings", zap.Error(err))
		return settings
	}

	p.mu.Lock()
	p.current = loaded
	p.loadedAt = p.now()
	settings = p.current
	p.mu.Unlock()

	return settings
}

// Replace swaps the full settings document, validating first. Used when
// restoring the settings embedded in a persisted snapshot.
func (p *SettingsProvider) Replace(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	p.current = settings
	p.loadedAt = p.now()
	p.mu.Unlock()
	return nil
}

// SettingsPatch is a partial settings mutation; nil fields stay unchanged.
type SettingsPatch struct {
	SentimentBoundaries  *domain.SentimentBoundaries                `json:"sentiment_boundaries,omitempty"`
	SentimentMultipliers map[domain.SentimentBucket]decimal.Decimal `json:"sentiment_multipliers,omitempty"`
	SizingMethod         *domain.SizingMethod                       `json:"sizing_method,omitempty"`
	StrategicPercent     *decimal.Decimal                           `json:"strategic_percent,omitempty"`
	MinProfitPercent     *decimal.Decimal                           `json:"min_profit_percent,omitempty"`
	Cooldown             *time.Duration                             `json:"cooldown,omitempty"`
	MinSentimentChange   *float64                                   `json:"min_sentiment_change,omitempty"`
	MonitorMode          *bool                                      `json:"monitor_mode,omitempty"`
	Mode                 *string                                    `json:"mode,omitempty"`
	AllocationThreshold  *float64                                   `json:"allocation_threshold,omitempty"`
	MinTradeSize         *decimal.Decimal                           `json:"min_trade_size,omitempty"`
}

// Update applies a partial patch atomically. The patched settings are
// validated as a whole; an invalid result leaves the current settings intact.
func (p *SettingsProvider) Update(patch SettingsPatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.current
	if patch.SentimentBoundaries != nil {
		next.SentimentBoundaries = *patch.SentimentBoundaries
	}
	if patch.SentimentMultipliers != nil {
		merged := make(map[domain.SentimentBucket]decimal.Decimal, len(next.SentimentMultipliers))
		for k, v := range next.SentimentMultipliers {
			merged[k] = v
		}
		for k, v := range patch.SentimentMultipliers {
			merged[k] = v
		}
		next.SentimentMultipliers = merged
	}
	if patch.SizingMethod != nil {
		next.SizingMethod = *patch.SizingMethod
	}
	if patch.StrategicPercent != nil {
		next.StrategicPercent = *patch.StrategicPercent
	}
	if patch.MinProfitPercent != nil {
		next.MinProfitPercent = *patch.MinProfitPercent
	}
	if patch.Cooldown != nil {
		next.Cooldown = *patch.Cooldown
	}
	if patch.MinSentimentChange != nil {
		next.MinSentimentChange = *patch.MinSentimentChange
	}
	if patch.MonitorMode != nil {
		next.MonitorMode = *patch.MonitorMode
	}
	if patch.Mode != nil {
		next.Mode = *patch.Mode
	}
	if patch.AllocationThreshold != nil {
		next.AllocationThreshold = *patch.AllocationThreshold
	}
	if patch.MinTradeSize != nil {
		next.MinTradeSize = *patch.MinTradeSize
	}

	if err := next.Validate(); err != nil {
		return err
	}

	p.current = next
	p.loadedAt = p.now()
	return nil
}

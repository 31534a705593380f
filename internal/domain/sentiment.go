package domain

import "fmt"

// SentimentBucket discretization of the external 0-100 sentiment index.
type SentimentBucket string

const (
	SentimentExtremeFear  SentimentBucket = "extreme_fear"
	SentimentFear         SentimentBucket = "fear"
	SentimentNeutral      SentimentBucket = "neutral"
	SentimentGreed        SentimentBucket = "greed"
	SentimentExtremeGreed SentimentBucket = "extreme_greed"
)

// IsNeutral reports whether the bucket carries no trade signal.
func (b SentimentBucket) IsNeutral() bool {
	return b == SentimentNeutral
}

// Direction maps the bucket to the traded side: fear buys, greed sells.
// Neutral has no direction and returns false.
func (b SentimentBucket) Direction() (TradeDirection, bool) {
	switch b {
	case SentimentExtremeFear, SentimentFear:
		return TradeDirectionBuy, true
	case SentimentGreed, SentimentExtremeGreed:
		return TradeDirectionSell, true
	default:
		return "", false
	}
}

// SentimentBoundaries four ascending thresholds splitting the 0-100 index
// into the five buckets.
type SentimentBoundaries [4]float64

// Validate checks the thresholds are strictly ascending and inside 0-100.
func (s SentimentBoundaries) Validate() error {
	prev := 0.0
	for i, b := range s {
		if b <= prev || b >= 100 {
			return fmt.Errorf("sentiment boundaries must be strictly ascending within (0,100), got %v at position %d", b, i)
		}
		prev = b
	}
	return nil
}

// Bucket classifies an index value against the boundaries.
func (s SentimentBoundaries) Bucket(index float64) SentimentBucket {
	switch {
	case index < s[0]:
		return SentimentExtremeFear
	case index < s[1]:
		return SentimentFear
	case index <= s[2]:
		return SentimentNeutral
	case index <= s[3]:
		return SentimentGreed
	default:
		return SentimentExtremeGreed
	}
}

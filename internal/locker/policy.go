package locker

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TakeoverMode decides how displaced funders are refunded when a single
// contributor takes over the whole cap.
type TakeoverMode int32

const (
	// TakeoverPush refunds displaced funders in the takeover call
	TakeoverPush TakeoverMode = iota
	// TakeoverPull parks displaced balances until RefundDueSingle
	TakeoverPull
)

func (m TakeoverMode) String() string {
	switch m {
	case TakeoverPush:
		return "push"
	case TakeoverPull:
		return "pull"
	default:
		return "unknown"
	}
}

// LiquidationPolicy picks the collateral recipient when no single provider exists.
type LiquidationPolicy int32

const (
	LiquidateToLargest LiquidationPolicy = iota
	LiquidateToTreasury
)

func (p LiquidationPolicy) String() string {
	switch p {
	case LiquidateToLargest:
		return "largest"
	case LiquidateToTreasury:
		return "treasury"
	default:
		return "unknown"
	}
}

// Policy is the per-currency template a locker is created with.
type Policy struct {
	GracePeriod        time.Duration     // Rescue delay after the funding window
	LateTolerance      time.Duration     // Liquidation delay after NextDueTime
	PenaltyRateBps     int64             // Penalty per overdue cycle, bps of PaymentRate
	MaxRatePerCycleBps int64             // Cap on PaymentRate, bps of principal
	Takeover           TakeoverMode      //
	Liquidation        LiquidationPolicy //
	Treasury           uuid.UUID         // Required when Liquidation == LiquidateToTreasury
}

// DefaultPolicy is used when no template is configured for a currency
var DefaultPolicy = Policy{
	GracePeriod:        7 * 24 * time.Hour,
	LateTolerance:      24 * time.Hour,
	PenaltyRateBps:     1_000, // 10%
	MaxRatePerCycleBps: 5_000, // 50%
	Takeover:           TakeoverPush,
	Liquidation:        LiquidateToLargest,
}

// Validate checks that policy parameters are within valid ranges.
func (p Policy) Validate() error {
	if p.GracePeriod < 0 {
		return fmt.Errorf("grace_period must be >= 0, got %s", p.GracePeriod)
	}
	if p.LateTolerance < 0 {
		return fmt.Errorf("late_tolerance must be >= 0, got %s", p.LateTolerance)
	}
	if p.PenaltyRateBps < 0 {
		return fmt.Errorf("penalty_rate_bps must be >= 0, got %d", p.PenaltyRateBps)
	}
	if p.MaxRatePerCycleBps <= 0 {
		return fmt.Errorf("max_rate_per_cycle_bps must be > 0, got %d", p.MaxRatePerCycleBps)
	}
	if p.Takeover != TakeoverPush && p.Takeover != TakeoverPull {
		return fmt.Errorf("unknown takeover mode %d", p.Takeover)
	}
	switch p.Liquidation {
	case LiquidateToLargest:
	case LiquidateToTreasury:
		if p.Treasury == uuid.Nil {
			return fmt.Errorf("treasury liquidation requires a treasury account")
		}
	default:
		return fmt.Errorf("unknown liquidation policy %d", p.Liquidation)
	}
	return nil
}

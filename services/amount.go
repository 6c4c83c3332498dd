// services/amount.go
package services

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SplitReward divides total evenly across n completers. The remainder stays with the treasury.
func SplitReward(total int64, n int) (share, remainder int64) {
	if n <= 0 {
		return 0, total
	}
	return total / int64(n), total % int64(n)
}

// ToUIAmount converts base units to token units, e.g. 1500000 with 6 decimals is 1.5.
func ToUIAmount(amount int64, decimals int) decimal.Decimal {
	return decimal.New(amount, -int32(decimals))
}

// ToBaseUnits scales a UI amount by 10^decimals. Fractions below one base unit are rejected.
func ToBaseUnits(ui decimal.Decimal, decimals int) (int64, error) {
	scaled := ui.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidRewardAmount, ui, decimals)
	}
	if !scaled.IsPositive() {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidRewardAmount, ui)
	}
	if scaled.GreaterThan(decimal.NewFromInt(1<<63 - 1)) {
		return 0, fmt.Errorf("%w: %s overflows", ErrInvalidRewardAmount, ui)
	}
	return scaled.IntPart(), nil
}

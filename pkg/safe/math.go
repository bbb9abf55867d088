package safe

import (
	"fmt"
	"math"
)

// Add performs uint64 addition and fails on overflow. Ledger balances are
// unsigned and must never wrap.
func Add(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, fmt.Errorf("safe: add overflow: %d + %d", a, b)
	}
	return a + b, nil
}

// Sub performs uint64 subtraction and fails on underflow.
func Sub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, fmt.Errorf("safe: sub underflow: %d - %d", a, b)
	}
	return a - b, nil
}

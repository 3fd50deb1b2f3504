// Package gas implements native-unit gas accounting for contract calls.
package gas

import (
	"math"

	"github.com/contractvm/wasmhost/types"
)

// Meter tracks gas consumption against a fixed budget. Consumption either
// succeeds in full or fails without partial deduction; once the budget is
// exhausted the meter pins used == limit and every further Consume fails.
type Meter struct {
	limit     uint64
	used      uint64
	exhausted bool
}

// NewMeter creates a meter with the given budget.
func NewMeter(limit uint64) *Meter {
	return &Meter{limit: limit}
}

// Consume deducts amount from the remaining budget.
func (m *Meter) Consume(amount uint64) error {
	if m.exhausted || amount > m.limit-m.used {
		m.used = m.limit
		m.exhausted = true
		return types.OutOfGasError{}
	}
	m.used += amount
	return nil
}

// ConsumeSized deducts a base cost plus a per-byte cost for size bytes.
// The total saturates instead of wrapping.
func (m *Meter) ConsumeSized(base, perByte, size uint64) error {
	total := base
	if perByte != 0 && size != 0 {
		if size > (math.MaxUint64-base)/perByte {
			total = math.MaxUint64
		} else {
			total = base + perByte*size
		}
	}
	return m.Consume(total)
}

// Limit returns the budget.
func (m *Meter) Limit() uint64 { return m.limit }

// Used returns the gas consumed so far.
func (m *Meter) Used() uint64 { return m.used }

// Remaining returns the unused part of the budget.
func (m *Meter) Remaining() uint64 { return m.limit - m.used }

// Exhausted reports whether the budget has run out.
func (m *Meter) Exhausted() bool { return m.exhausted }

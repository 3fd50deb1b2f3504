package types

// GasReport is a breakdown of the gas consumed by a contract call.
type GasReport struct {
	// Limit is the gas budget of the call.
	Limit uint64
	// Used is the gas actually consumed. On exhaustion Used == Limit.
	Used uint64
	// Remaining is the unused part of the budget.
	Remaining uint64
}

// NewGasReport builds a report from the budget and the amount consumed.
func NewGasReport(limit, used uint64) GasReport {
	if used > limit {
		used = limit
	}
	return GasReport{
		Limit:     limit,
		Used:      used,
		Remaining: limit - used,
	}
}

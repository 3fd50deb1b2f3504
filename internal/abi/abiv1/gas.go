package abiv1

import (
	"math"
)

// Reserved export names of the in-guest metering machinery. Contracts must
// not declare them themselves.
const (
	exportGasLimit          = "gas_limit"
	exportGasLimitExhausted = "gas_limit_exhausted"
)

// gasScalingFactor converts between transaction gas and the guest-visible
// gas unit. The conversion is exact in both directions so every replica
// computes identical charges.
const gasScalingFactor = 1

// txGasToWasm converts a transaction gas amount to guest gas.
func txGasToWasm(gas uint64) uint64 {
	if gas > math.MaxUint64/gasScalingFactor {
		return math.MaxUint64
	}
	return gas * gasScalingFactor
}

// wasmGasToTx converts a guest gas amount to transaction gas.
func wasmGasToTx(gas uint64) uint64 {
	return gas / gasScalingFactor
}

package engine

import (
	"encoding/json"
	"log"
	"math"
	"strconv"
	"strings"
)

// denominatorEpsilon is the smallest denominator magnitude the metric divides by.
const denominatorEpsilon = 1e-9

// SanitizedInput holds risk-adjusted-return inputs that are safe for arithmetic.
type SanitizedInput struct {
	APY       float64
	RiskScore float64

	// ConversionFailed is set when either raw value could not be read as a number.
	ConversionFailed bool

	// Clamped is set when either value was negative or non-finite and replaced by 0.
	Clamped bool
}

// Sanitized reports whether any input was altered.
func (s SanitizedInput) Sanitized() bool {
	return s.ConversionFailed || s.Clamped
}

// RiskAdjustedReturn computes apy / (1 + risk_score/10).
// Returns 0 when the denominator is non-finite or smaller than 1e-9 in magnitude.
func (s SanitizedInput) RiskAdjustedReturn() float64 {
	d := 1 + s.RiskScore/10
	if math.IsNaN(d) || math.IsInf(d, 0) || math.Abs(d) < denominatorEpsilon {
		return 0
	}
	return s.APY / d
}

// Sanitize coerces and clamps raw apy and risk_score values.
// It never fails; problems are recorded as flags and logged.
func Sanitize(rawAPY, rawRisk any) SanitizedInput {
	var in SanitizedInput

	apy, ok := ToFloat(rawAPY)
	if !ok {
		in.ConversionFailed = true
	}
	risk, ok := ToFloat(rawRisk)
	if !ok {
		in.ConversionFailed = true
	}

	var clamped bool
	in.APY, clamped = clamp(apy)
	in.Clamped = clamped
	in.RiskScore, clamped = clamp(risk)
	in.Clamped = in.Clamped || clamped

	if in.ConversionFailed {
		log.Printf("[SANITIZE] conversion failure: apy=%v risk_score=%v", rawAPY, rawRisk)
	}
	if in.Clamped {
		log.Printf("[SANITIZE] clamped: apy=%v->%v risk_score=%v->%v", apy, in.APY, risk, in.RiskScore)
	}
	return in
}

// ToFloat converts a decoded JSON value to float64.
// Accepts numbers, json.Number and numeric strings. Non-finite results are returned as-is.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func clamp(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, true
	}
	return v, false
}

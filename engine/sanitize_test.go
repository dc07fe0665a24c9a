package engine_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/becomeliminal/yieldmind/engine"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name           string
		apy, risk      any
		wantAPY        float64
		wantRisk       float64
		wantConversion bool
		wantClamped    bool
	}{
		{name: "plain numbers", apy: 15.2, risk: 4.0, wantAPY: 15.2, wantRisk: 4},
		{name: "ints", apy: 10, risk: 2, wantAPY: 10, wantRisk: 2},
		{name: "json numbers", apy: json.Number("18.7"), risk: json.Number("5"), wantAPY: 18.7, wantRisk: 5},
		{name: "numeric strings", apy: " 12.5 ", risk: "3", wantAPY: 12.5, wantRisk: 3},
		{name: "negative apy", apy: -5.0, risk: 2.0, wantAPY: 0, wantRisk: 2, wantClamped: true},
		{name: "negative risk", apy: 10.0, risk: -10.0, wantAPY: 10, wantRisk: 0, wantClamped: true},
		{name: "nan apy", apy: math.NaN(), risk: 1.0, wantAPY: 0, wantRisk: 1, wantClamped: true},
		{name: "inf risk", apy: 1.0, risk: math.Inf(1), wantAPY: 1, wantRisk: 0, wantClamped: true},
		{name: "nan string", apy: "NaN", risk: "-Inf", wantAPY: 0, wantRisk: 0, wantClamped: true},
		{name: "non numeric string", apy: "high", risk: 2.0, wantAPY: 0, wantRisk: 2, wantConversion: true},
		{name: "nil", apy: nil, risk: nil, wantConversion: true},
		{name: "bool and object", apy: true, risk: map[string]any{}, wantConversion: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.Sanitize(tt.apy, tt.risk)
			if got.APY != tt.wantAPY {
				t.Errorf("APY = %v, want %v", got.APY, tt.wantAPY)
			}
			if got.RiskScore != tt.wantRisk {
				t.Errorf("RiskScore = %v, want %v", got.RiskScore, tt.wantRisk)
			}
			if got.ConversionFailed != tt.wantConversion {
				t.Errorf("ConversionFailed = %v, want %v", got.ConversionFailed, tt.wantConversion)
			}
			if got.Clamped != tt.wantClamped {
				t.Errorf("Clamped = %v, want %v", got.Clamped, tt.wantClamped)
			}
			if got.Sanitized() != (tt.wantConversion || tt.wantClamped) {
				t.Errorf("Sanitized = %v", got.Sanitized())
			}
		})
	}
}

func TestRiskAdjustedReturn(t *testing.T) {
	tests := []struct {
		apy, risk float64
	}{
		{apy: 15.2, risk: 4},
		{apy: 12.5, risk: 3},
		{apy: 18.7, risk: 5},
		{apy: 10, risk: 0},
		{apy: 0, risk: 10},
	}
	for _, tt := range tests {
		want := tt.apy / (1 + tt.risk/10)
		got := engine.Sanitize(tt.apy, tt.risk).RiskAdjustedReturn()
		if got != want {
			t.Errorf("RiskAdjustedReturn(%v, %v) = %v, want %v", tt.apy, tt.risk, got, want)
		}
	}
}

func TestRiskAdjustedReturn_AlwaysFiniteAndNonNegative(t *testing.T) {
	values := []any{-10.0, -1e308, math.NaN(), math.Inf(-1), math.Inf(1), 0.0, 1e308, "x", nil}
	for _, apy := range values {
		for _, risk := range values {
			got := engine.Sanitize(apy, risk).RiskAdjustedReturn()
			if math.IsNaN(got) || math.IsInf(got, 0) || got < 0 {
				t.Errorf("RiskAdjustedReturn(%v, %v) = %v, want finite >= 0", apy, risk, got)
			}
		}
	}
}

func TestRiskAdjustedReturn_DenominatorGuard(t *testing.T) {
	// Inputs that bypass Sanitize can still produce a degenerate denominator.
	in := engine.SanitizedInput{APY: 5, RiskScore: -10}
	if got := in.RiskAdjustedReturn(); got != 0 {
		t.Errorf("zero denominator: got %v, want 0", got)
	}
	in = engine.SanitizedInput{APY: 5, RiskScore: math.Inf(1)}
	if got := in.RiskAdjustedReturn(); got != 0 {
		t.Errorf("infinite denominator: got %v, want 0", got)
	}
}

func TestToFloat(t *testing.T) {
	if v, ok := engine.ToFloat(json.Number("abc")); ok {
		t.Errorf("json.Number(abc) = %v, ok; want failure", v)
	}
	if v, ok := engine.ToFloat(int64(7)); !ok || v != 7 {
		t.Errorf("int64(7) = %v, %v", v, ok)
	}
	if v, ok := engine.ToFloat(float32(1.5)); !ok || v != 1.5 {
		t.Errorf("float32(1.5) = %v, %v", v, ok)
	}
	if _, ok := engine.ToFloat([]int{1}); ok {
		t.Error("slice should not convert")
	}
}

// Package risk computes the liquidity impact, slippage and risk tier of a
// requested transfer against a market snapshot. It has no side effects.
package risk

import (
	"fmt"
	"math"

	"github.com/web8kameleon-hub/tokengate/internal/models"
)

// MaxSlippagePct caps the simplified slippage model.
const MaxSlippagePct = 50.0

// Tier thresholds on liquidity impact and slippage, in percent.
const (
	criticalImpactPct = 20.0
	highImpactPct     = 10.0
	highSlippagePct   = 10.0
	mediumImpactPct   = 5.0
)

// Limits bound a single transfer.
type Limits struct {
	MaxTransferUSD       float64
	MaxLiquidityFraction float64
}

// LiquidityImpact returns amountUSD as a percentage of liquidity. Without
// liquidity any transfer has full impact.
func LiquidityImpact(amountUSD, liquidityUSD float64) float64 {
	if liquidityUSD <= 0 {
		return 100
	}
	return amountUSD / liquidityUSD * 100
}

// Slippage is twice the liquidity impact, capped at MaxSlippagePct.
func Slippage(impactPct float64) float64 {
	return math.Min(impactPct*2, MaxSlippagePct)
}

// Tier grades a transfer: above 20% impact is critical, above 10% impact
// or slippage is high, above 5% impact is medium.
func Tier(impactPct, slippagePct float64) models.RiskTier {
	switch {
	case impactPct > criticalImpactPct:
		return models.RiskCritical
	case impactPct > highImpactPct || slippagePct > highSlippagePct:
		return models.RiskHigh
	case impactPct > mediumImpactPct:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// MaxRecommended is the lower of the single-transfer cap and the liquidity
// share allowed by MaxLiquidityFraction.
func MaxRecommended(liquidityUSD float64, l Limits) float64 {
	return math.Max(0, math.Min(l.MaxTransferUSD, liquidityUSD*l.MaxLiquidityFraction))
}

// Assess computes impact, slippage, tier and the recommended maximum for
// amountUSD against snap.
func Assess(snap models.MarketSnapshot, amountUSD float64, l Limits) models.RiskAssessment {
	impact := LiquidityImpact(amountUSD, snap.LiquidityUSD)
	slippage := Slippage(impact)

	a := models.RiskAssessment{
		AmountUSD:          amountUSD,
		LiquidityImpactPct: impact,
		SlippagePct:        slippage,
		Tier:               Tier(impact, slippage),
		Warnings:           []string{},
		MaxRecommendedUSD:  MaxRecommended(snap.LiquidityUSD, l),
	}

	if !snap.Verified {
		a.Warnings = append(a.Warnings, "underlying asset is not verified")
	}
	if snap.LiquidityUSD <= 0 {
		a.Warnings = append(a.Warnings, "no liquidity reported for the asset")
	}
	if amountUSD > a.MaxRecommendedUSD {
		a.Warnings = append(a.Warnings,
			fmt.Sprintf("amount $%.2f exceeds recommended maximum $%.2f", amountUSD, a.MaxRecommendedUSD))
	}
	if a.Tier == models.RiskHigh || a.Tier == models.RiskCritical {
		a.Warnings = append(a.Warnings,
			fmt.Sprintf("%s risk: %.2f%% liquidity impact, %.2f%% estimated slippage", a.Tier, impact, slippage))
	}
	return a
}

package opportunity

import "math"

// Spread is the result of comparing two venue prices for the same
// instrument. It mirrors the profit/direction bookkeeping the teacher
// lineage's arb engine keeps on its Opportunity type, generalized from a
// single hardcoded venue pair to any two prices.
type Spread struct {
	SpreadAbs     float64
	SpreadPct     float64
	ImpliedProfit float64
	Direction     Direction
}

// Compute implements the spread formula from spec.md §4.5:
//
//	spreadAbs = |a - b|
//	midPrice  = (a + b) / 2
//	spreadPct = 100 * spreadAbs / midPrice
//	direction = BUY_A_SELL_B if a < b else BUY_B_SELL_A
//	impliedProfit = spreadAbs * notionalUnits
//
// priceA and priceB must both be positive; callers are expected to have
// already dropped stale/invalid entries before calling Compute.
func Compute(priceA, priceB, notionalUnits float64) Spread {
	spreadAbs := math.Abs(priceA - priceB)
	mid := (priceA + priceB) / 2
	var spreadPct float64
	if mid != 0 {
		spreadPct = 100 * spreadAbs / mid
	}
	direction := DirectionBuyBSellA
	if priceA < priceB {
		direction = DirectionBuyASellB
	}
	return Spread{
		SpreadAbs:     spreadAbs,
		SpreadPct:     spreadPct,
		ImpliedProfit: spreadAbs * notionalUnits,
		Direction:     direction,
	}
}

// Finite reports whether every numeric field of s is finite, per the
// "all numeric fields finite" validation clause in spec.md §4.5 step 5.
func (s Spread) Finite() bool {
	return isFinite(s.SpreadAbs) && isFinite(s.SpreadPct) && isFinite(s.ImpliedProfit)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// AlertPriority computes floor(spreadPct * 10) per spec.md §3, used for
// OPEN_OR_UPDATE events (CLOSE events use the peak spread instead — see
// internal/engine).
func AlertPriority(spreadPct float64) int {
	return int(math.Floor(spreadPct * 10))
}

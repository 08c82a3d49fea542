package pricing

import "math"

// PlanType identifies a purchasable plan.
type PlanType string

const (
	PlanBasic   PlanType = "basic"
	PlanPremium PlanType = "premium"
)

// Valid reports whether the plan type is one of the known plans.
func (p PlanType) Valid() bool {
	return p == PlanBasic || p == PlanPremium
}

// Base monthly prices in cents. Schools are billed for ten months of the
// academic year, not twelve.
const (
	basePriceBasic   = 299
	basePricePremium = 599

	billedMonthsPerYear = 10
)

// Quote is the computed annual price for a seat count on a plan.
// Amounts are in cents.
type Quote struct {
	PlanType     PlanType
	SeatCount    int
	PerSeatPrice int64
	TotalAmount  int64
	DiscountRate float64
}

// Volume discount bands, highest threshold first. Bands are inclusive of
// their lower bound.
var discountBands = []struct {
	minSeats int
	rate     float64
}{
	{5000, 0.15},
	{3000, 0.13},
	{2000, 0.09},
	{1000, 0.07},
	{500, 0.05},
}

// DiscountFor returns the volume discount rate for a seat count.
func DiscountFor(seatCount int) float64 {
	for _, band := range discountBands {
		if seatCount >= band.minSeats {
			return band.rate
		}
	}
	return 0
}

// Calculate computes the annual per-seat price and total for a checkout.
// Pure and deterministic: the same inputs always produce the same quote.
func Calculate(seatCount int, plan PlanType) (Quote, error) {
	if seatCount <= 0 {
		return Quote{}, ErrInvalidSeatCount
	}
	if !plan.Valid() {
		return Quote{}, ErrInvalidPlanType
	}

	base := float64(basePriceBasic)
	if plan == PlanPremium {
		base = float64(basePricePremium)
	}

	discount := DiscountFor(seatCount)
	perSeat := int64(math.Round(base * (1 - discount) * billedMonthsPerYear))

	return Quote{
		PlanType:     plan,
		SeatCount:    seatCount,
		PerSeatPrice: perSeat,
		TotalAmount:  perSeat * int64(seatCount),
		DiscountRate: discount,
	}, nil
}

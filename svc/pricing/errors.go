package pricing

import "errors"

var (
	ErrInvalidSeatCount = errors.New("seat count must be greater than zero")
	ErrInvalidPlanType  = errors.New("unknown plan type")
)

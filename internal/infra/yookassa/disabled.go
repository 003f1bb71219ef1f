package yookassa

import "context"

// Disabled replaces the real client when shop credentials are not
// configured. Every call reports the gateway as unavailable; the bot keeps
// running with payments switched off.
type Disabled struct{}

func (Disabled) CreateCharge(context.Context, int64, int64, string, string) (Charge, error) {
	return Charge{}, ErrUnavailable
}

func (Disabled) GetChargeStatus(context.Context, string) (ChargeState, error) {
	return ChargeState{}, ErrUnavailable
}

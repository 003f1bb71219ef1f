package enums

import "strings"

type ChargeStatus string

const (
	ChargeStatusPending   ChargeStatus = "pending"
	ChargeStatusSucceeded ChargeStatus = "succeeded"
	ChargeStatusCanceled  ChargeStatus = "canceled"
)

func ParseChargeStatus(raw string) ChargeStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "succeeded":
		return ChargeStatusSucceeded
	case "canceled":
		return ChargeStatusCanceled
	default:
		return ChargeStatusPending
	}
}

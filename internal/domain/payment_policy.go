package domain

import "fmt"

// OverPaymentPolicy decides what happens to a payment larger than the
// outstanding balance.
type OverPaymentPolicy string

const (
	OverPaymentReject OverPaymentPolicy = "reject"
	OverPaymentCap    OverPaymentPolicy = "cap"
)

func (p *OverPaymentPolicy) UnmarshalText(text []byte) error {
	switch v := OverPaymentPolicy(text); v {
	case OverPaymentReject, OverPaymentCap:
		*p = v
		return nil
	case "":
		*p = OverPaymentReject
		return nil
	default:
		return fmt.Errorf("unknown over-payment policy %q (want reject or cap)", string(text))
	}
}

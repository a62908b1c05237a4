// Package nut05 contains structs as defined in [NUT-05]
//
// [NUT-05]: https://github.com/cashubtc/nuts/blob/main/05.md
package nut05

import "github.com/elnosh/nutmelt/cashu"

type State int

const (
	Unpaid State = iota
	Pending
	Paid
	Unknown
)

func (state State) String() string {
	switch state {
	case Unpaid:
		return "UNPAID"
	case Pending:
		return "PENDING"
	case Paid:
		return "PAID"
	default:
		return "unknown"
	}
}

func StringToState(state string) State {
	switch state {
	case "UNPAID":
		return Unpaid
	case "PENDING":
		return Pending
	case "PAID":
		return Paid
	}
	return Unknown
}

type PostMeltQuoteBolt11Request struct {
	Request string `json:"request"`
	Unit    string `json:"unit"`
}

type PostMeltQuoteBolt11Response struct {
	Quote      string `json:"quote"`
	Amount     uint64 `json:"amount"`
	FeeReserve uint64 `json:"fee_reserve"`
	Paid       bool   `json:"paid"`
	State      string `json:"state,omitempty"`
	Expiry     int64  `json:"expiry"`
}

type PostMeltBolt11Request struct {
	Quote  string       `json:"quote"`
	Inputs cashu.Proofs `json:"inputs"`
}

type PostMeltBolt11Response struct {
	Paid     *bool  `json:"paid,omitempty"`
	State    string `json:"state,omitempty"`
	Preimage string `json:"payment_preimage,omitempty"`
}

// IsPaid reports whether the mint settled the melt. Older mints only
// send the paid flag, newer ones send the state. A response where the
// flag and the state disagree is not paid.
func (r PostMeltBolt11Response) IsPaid() bool {
	statePaid := StringToState(r.State) == Paid
	switch {
	case r.Paid == nil:
		return statePaid
	case len(r.State) == 0:
		return *r.Paid
	default:
		return *r.Paid && statePaid
	}
}

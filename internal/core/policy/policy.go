// Package policy computes cancellation eligibility. The engine is a pure
// function of the booking, the clock, and the initiator, so eligibility can
// be re-derived at any time, e.g. during dispute review.
package policy

import (
	"time"

	"github.com/kidsclubhq/bookingpay/internal/core/domain"
)

// Initiator is who asked for the cancellation.
type Initiator string

const (
	InitiatorParent   Initiator = "PARENT"
	InitiatorProvider Initiator = "PROVIDER"
)

// RefundMethod is a settlement rail a parent may choose.
type RefundMethod string

const (
	MethodCash   RefundMethod = "CASH"
	MethodCredit RefundMethod = "CREDIT"
)

// Reason codes explaining an eligibility outcome.
const (
	ReasonOutsideCutoff     = "outside_cutoff"
	ReasonInsideCutoff      = "inside_cutoff"
	ReasonProviderCancelled = "provider_cancelled"
	ReasonNoShow            = "no_show"
)

// DefaultParentCutoff is the window before activity start inside which a
// parent-initiated cancellation is restricted to credit.
const DefaultParentCutoff = 24 * time.Hour

// Eligibility is the outcome of a cancellation policy check.
type Eligibility struct {
	Refundable      bool
	Methods         []RefundMethod
	AdminFeePence   int64
	RefundablePence int64
	Reason          string
}

// Allows reports whether the given method is permitted by this eligibility.
func (e Eligibility) Allows(m RefundMethod) bool {
	for _, allowed := range e.Methods {
		if allowed == m {
			return true
		}
	}
	return false
}

// Engine holds the provider-configured cancellation terms.
type Engine struct {
	adminFeePence int64
	parentCutoff  time.Duration
}

func NewEngine(adminFeePence int64, parentCutoff time.Duration) *Engine {
	if parentCutoff <= 0 {
		parentCutoff = DefaultParentCutoff
	}
	return &Engine{
		adminFeePence: adminFeePence,
		parentCutoff:  parentCutoff,
	}
}

// Eligibility determines how a cancellation of the booking at the given time
// would settle:
//
//   - provider initiated → parent's choice of cash or credit, no fee
//   - parent initiated, more than the cutoff before start → choice of cash
//     or credit, fixed admin fee
//   - parent initiated, inside the cutoff → credit only, same fee
//   - activity already started → nothing refundable (no-show)
func (e *Engine) Eligibility(b *domain.Booking, now time.Time, initiator Initiator) Eligibility {
	if initiator == InitiatorProvider {
		return Eligibility{
			Refundable:      true,
			Methods:         []RefundMethod{MethodCash, MethodCredit},
			AdminFeePence:   0,
			RefundablePence: b.AmountPence,
			Reason:          ReasonProviderCancelled,
		}
	}

	if !now.Before(b.ActivityStart) {
		return Eligibility{Reason: ReasonNoShow}
	}

	fee := e.adminFeePence
	refundable := b.AmountPence - fee
	if refundable < 0 {
		refundable = 0
	}

	if b.ActivityStart.Sub(now) > e.parentCutoff {
		return Eligibility{
			Refundable:      refundable > 0,
			Methods:         []RefundMethod{MethodCash, MethodCredit},
			AdminFeePence:   fee,
			RefundablePence: refundable,
			Reason:          ReasonOutsideCutoff,
		}
	}

	return Eligibility{
		Refundable:      refundable > 0,
		Methods:         []RefundMethod{MethodCredit},
		AdminFeePence:   fee,
		RefundablePence: refundable,
		Reason:          ReasonInsideCutoff,
	}
}

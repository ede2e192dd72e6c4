package policy

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kidsclubhq/bookingpay/internal/core/domain"
)

func testBooking(amountPence int64, startsIn time.Duration) *domain.Booking {
	return &domain.Booking{
		ID:            uuid.New(),
		ParentID:      uuid.New(),
		AmountPence:   amountPence,
		ActivityStart: time.Now().Add(startsIn),
		Status:        domain.StatusConfirmed,
	}
}

func TestEligibility_ParentOutsideCutoff(t *testing.T) {
	engine := NewEngine(500, 24*time.Hour)
	b := testBooking(5000, 48*time.Hour)

	elig := engine.Eligibility(b, time.Now(), InitiatorParent)

	if !elig.Refundable {
		t.Fatal("expected refundable outside cutoff")
	}
	if !elig.Allows(MethodCash) || !elig.Allows(MethodCredit) {
		t.Errorf("expected both methods allowed, got %v", elig.Methods)
	}
	if elig.AdminFeePence != 500 {
		t.Errorf("expected fee 500, got %d", elig.AdminFeePence)
	}
	if elig.RefundablePence != 4500 {
		t.Errorf("expected refundable 4500, got %d", elig.RefundablePence)
	}
	if elig.Reason != ReasonOutsideCutoff {
		t.Errorf("expected reason %s, got %s", ReasonOutsideCutoff, elig.Reason)
	}
}

func TestEligibility_ParentInsideCutoff_CreditOnlySameFee(t *testing.T) {
	engine := NewEngine(500, 24*time.Hour)
	b := testBooking(5000, 6*time.Hour)

	elig := engine.Eligibility(b, time.Now(), InitiatorParent)

	if !elig.Refundable {
		t.Fatal("expected refundable inside cutoff")
	}
	if elig.Allows(MethodCash) {
		t.Error("cash must not be allowed inside the cutoff")
	}
	if !elig.Allows(MethodCredit) {
		t.Error("credit must be allowed inside the cutoff")
	}
	if elig.AdminFeePence != 500 {
		t.Errorf("expected the same fee 500, got %d", elig.AdminFeePence)
	}
	if elig.RefundablePence != 4500 {
		t.Errorf("expected refundable 4500, got %d", elig.RefundablePence)
	}
	if elig.Reason != ReasonInsideCutoff {
		t.Errorf("expected reason %s, got %s", ReasonInsideCutoff, elig.Reason)
	}
}

func TestEligibility_ProviderCancellation_FullNoFee(t *testing.T) {
	engine := NewEngine(500, 24*time.Hour)
	b := testBooking(5000, 2*time.Hour)

	elig := engine.Eligibility(b, time.Now(), InitiatorProvider)

	if !elig.Refundable {
		t.Fatal("expected provider cancellation to be refundable")
	}
	if elig.AdminFeePence != 0 {
		t.Errorf("expected no fee, got %d", elig.AdminFeePence)
	}
	if elig.RefundablePence != 5000 {
		t.Errorf("expected full amount 5000, got %d", elig.RefundablePence)
	}
	if !elig.Allows(MethodCash) || !elig.Allows(MethodCredit) {
		t.Errorf("expected both methods allowed, got %v", elig.Methods)
	}
}

func TestEligibility_NoShow_NothingRefundable(t *testing.T) {
	engine := NewEngine(500, 24*time.Hour)
	b := testBooking(5000, -1*time.Hour)

	elig := engine.Eligibility(b, time.Now(), InitiatorParent)

	if elig.Refundable {
		t.Error("expected not refundable after activity start")
	}
	if elig.RefundablePence != 0 {
		t.Errorf("expected refundable 0, got %d", elig.RefundablePence)
	}
	if elig.Reason != ReasonNoShow {
		t.Errorf("expected reason %s, got %s", ReasonNoShow, elig.Reason)
	}
}

func TestEligibility_FeeExceedsAmount(t *testing.T) {
	engine := NewEngine(500, 24*time.Hour)
	b := testBooking(300, 48*time.Hour)

	elig := engine.Eligibility(b, time.Now(), InitiatorParent)

	if elig.Refundable {
		t.Error("expected not refundable when the fee swallows the amount")
	}
	if elig.RefundablePence != 0 {
		t.Errorf("expected refundable 0, got %d", elig.RefundablePence)
	}
}

func TestEligibility_DefaultCutoffApplied(t *testing.T) {
	engine := NewEngine(0, 0)
	b := testBooking(1000, 12*time.Hour)

	elig := engine.Eligibility(b, time.Now(), InitiatorParent)

	if elig.Allows(MethodCash) {
		t.Error("12h before start should fall inside the 24h default cutoff")
	}
}

package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kidsclubhq/bookingpay/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedBooking(t *testing.T, repo *MockFinanceRepository, method domain.PaymentMethod, amountPence int64) *domain.Booking {
	t.Helper()
	b := &domain.Booking{
		ID:               uuid.New(),
		ParentID:         uuid.New(),
		ChildID:          uuid.New(),
		ProviderID:       uuid.New(),
		VenueID:          uuid.New(),
		ActivityID:       uuid.New(),
		ParentEmail:      "parent@example.com",
		ActivityStart:    time.Now().Add(72 * time.Hour),
		AmountPence:      amountPence,
		PaymentMethod:    method,
		PaymentReference: "ch_" + uuid.NewString()[:8],
		Status:           domain.StatusConfirmed,
	}
	if err := repo.CreateBooking(context.Background(), b); err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	return b
}

func TestIssuer_Settle_CardCreatesPendingRefund(t *testing.T) {
	repo := NewMockFinanceRepository()
	issuer := NewIssuer(repo, 12, testLogger())
	b := seedBooking(t, repo, domain.PaymentCard, 5000)

	cancelled := domain.StatusCancelled
	s, err := issuer.Settle(context.Background(), SettleRequest{
		BookingID:      b.ID,
		AmountPence:    4500,
		FeePence:       500,
		Method:         SettleCard,
		Actor:          domain.Actor{ID: b.ParentID, Role: domain.RoleParent},
		Reason:         "cancelled",
		TransitionTo:   &cancelled,
		ExpectedStatus: domain.StatusConfirmed,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if s.CardPence != 4500 || s.CreditPence != 0 {
		t.Errorf("expected 4500 on card rail, got card=%d credit=%d", s.CardPence, s.CreditPence)
	}
	// Invariant: refunded + credited + fee == settled portion of the charge.
	if s.CardPence+s.CreditPence+s.FeePence != 5000 {
		t.Errorf("settlement does not account for full amount: %d+%d+%d != 5000",
			s.CardPence, s.CreditPence, s.FeePence)
	}

	refunds := repo.RefundsForBooking(b.ID)
	if len(refunds) != 1 {
		t.Fatalf("expected 1 refund row, got %d", len(refunds))
	}
	if refunds[0].Status != domain.RefundPending {
		t.Errorf("expected PENDING refund, got %s", refunds[0].Status)
	}
	if refunds[0].FeePence != 500 {
		t.Errorf("expected fee 500 on refund row, got %d", refunds[0].FeePence)
	}

	stored, _ := repo.FindBookingByID(context.Background(), b.ID)
	if stored.Status != domain.StatusCancelled {
		t.Errorf("expected booking cancelled, got %s", stored.Status)
	}
}

func TestIssuer_Settle_MixedSplitsOddPennyToCredit(t *testing.T) {
	repo := NewMockFinanceRepository()
	issuer := NewIssuer(repo, 12, testLogger())
	b := seedBooking(t, repo, domain.PaymentMixed, 5001)

	s, err := issuer.Settle(context.Background(), SettleRequest{
		BookingID:   b.ID,
		AmountPence: 5001,
		Method:      SettleMixed,
		Actor:       domain.Actor{ID: b.ParentID, Role: domain.RoleParent},
		Reason:      "refund",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if s.CardPence != 2500 {
		t.Errorf("expected 2500 on card, got %d", s.CardPence)
	}
	if s.CreditPence != 2501 {
		t.Errorf("expected odd penny on credit rail, got %d", s.CreditPence)
	}
	if s.CardPence+s.CreditPence != 5001 {
		t.Errorf("split lost money: %d+%d != 5001", s.CardPence, s.CreditPence)
	}

	credits := repo.CreditsForParent(b.ParentID)
	if len(credits) != 1 {
		t.Fatalf("expected 1 credit row, got %d", len(credits))
	}
	if credits[0].AmountPence != 2501 {
		t.Errorf("expected credit of 2501, got %d", credits[0].AmountPence)
	}
	if credits[0].BookingID == nil || *credits[0].BookingID != b.ID {
		t.Error("expected credit linked to the booking")
	}
}

func TestIssuer_Settle_CreditOnlyCarriesFeeOnCreditRow(t *testing.T) {
	repo := NewMockFinanceRepository()
	issuer := NewIssuer(repo, 12, testLogger())
	b := seedBooking(t, repo, domain.PaymentCard, 5000)

	s, err := issuer.Settle(context.Background(), SettleRequest{
		BookingID:   b.ID,
		AmountPence: 4500,
		FeePence:    500,
		Method:      SettleCredit,
		Actor:       domain.Actor{ID: b.ParentID, Role: domain.RoleParent},
		Reason:      "cancelled",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if s.CreditPence != 4500 || s.CardPence != 0 {
		t.Errorf("expected 4500 on credit rail, got card=%d credit=%d", s.CardPence, s.CreditPence)
	}

	// With no refund row, the credit row must carry the retained fee so the
	// booking reads as fully settled.
	credits := repo.CreditsForParent(b.ParentID)
	if len(credits) != 1 {
		t.Fatalf("expected 1 credit row, got %d", len(credits))
	}
	if credits[0].FeePence != 500 {
		t.Errorf("expected fee 500 on credit row, got %d", credits[0].FeePence)
	}

	settled, err := repo.SettledTotalPence(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("settled total: %v", err)
	}
	if settled != 5000 {
		t.Errorf("expected 5000 settled, got %d", settled)
	}
}

func TestIssuer_Settle_MixedDoesNotDoubleCountFee(t *testing.T) {
	repo := NewMockFinanceRepository()
	issuer := NewIssuer(repo, 12, testLogger())
	b := seedBooking(t, repo, domain.PaymentMixed, 5000)

	_, err := issuer.Settle(context.Background(), SettleRequest{
		BookingID:   b.ID,
		AmountPence: 4500,
		FeePence:    500,
		Method:      SettleMixed,
		Actor:       domain.Actor{ID: b.ParentID, Role: domain.RoleParent},
		Reason:      "cancelled",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// The refund row carries the fee; the credit row must not repeat it.
	credits := repo.CreditsForParent(b.ParentID)
	if len(credits) != 1 {
		t.Fatalf("expected 1 credit row, got %d", len(credits))
	}
	if credits[0].FeePence != 0 {
		t.Errorf("expected no fee on credit row, got %d", credits[0].FeePence)
	}

	settled, err := repo.SettledTotalPence(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("settled total: %v", err)
	}
	if settled != 5000 {
		t.Errorf("expected 5000 settled, got %d", settled)
	}
}

func TestIssuer_Settle_RejectsSecondPendingRefund(t *testing.T) {
	repo := NewMockFinanceRepository()
	issuer := NewIssuer(repo, 12, testLogger())
	b := seedBooking(t, repo, domain.PaymentCard, 10000)

	_, err := issuer.Settle(context.Background(), SettleRequest{
		BookingID:   b.ID,
		AmountPence: 1000,
		Method:      SettleCard,
		Actor:       domain.SystemActor,
		Reason:      "first",
	})
	if err != nil {
		t.Fatalf("first settlement failed: %v", err)
	}

	_, err = issuer.Settle(context.Background(), SettleRequest{
		BookingID:   b.ID,
		AmountPence: 1000,
		Method:      SettleCard,
		Actor:       domain.SystemActor,
		Reason:      "second",
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !domain.IsErrorCode(err, domain.ErrCodeDuplicatePendingRefund) {
		t.Errorf("expected DUPLICATE_PENDING_REFUND, got %v", err)
	}

	if n := len(repo.RefundsForBooking(b.ID)); n != 1 {
		t.Errorf("expected exactly 1 refund row, got %d", n)
	}
}

func TestIssuer_Settle_RejectsOverSettlement(t *testing.T) {
	repo := NewMockFinanceRepository()
	issuer := NewIssuer(repo, 12, testLogger())
	b := seedBooking(t, repo, domain.PaymentCard, 5000)

	_, err := issuer.Settle(context.Background(), SettleRequest{
		BookingID:   b.ID,
		AmountPence: 3000,
		Method:      SettleCredit,
		Actor:       domain.SystemActor,
		Reason:      "partial",
	})
	if err != nil {
		t.Fatalf("first settlement failed: %v", err)
	}

	// 3000 already settled; another 3000 would exceed the 5000 charged.
	_, err = issuer.Settle(context.Background(), SettleRequest{
		BookingID:   b.ID,
		AmountPence: 3000,
		Method:      SettleCredit,
		Actor:       domain.SystemActor,
		Reason:      "too much",
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !domain.IsErrorCode(err, domain.ErrCodeInsufficientAmount) {
		t.Errorf("expected INSUFFICIENT_AMOUNT, got %v", err)
	}
}

func TestIssuer_Settle_InvalidAmount(t *testing.T) {
	repo := NewMockFinanceRepository()
	issuer := NewIssuer(repo, 12, testLogger())
	b := seedBooking(t, repo, domain.PaymentCard, 5000)

	_, err := issuer.Settle(context.Background(), SettleRequest{
		BookingID:   b.ID,
		AmountPence: 0,
		Method:      SettleCard,
		Actor:       domain.SystemActor,
	})
	if !domain.IsErrorCode(err, domain.ErrCodeInvalidAmount) {
		t.Errorf("expected INVALID_AMOUNT, got %v", err)
	}
}

func TestIssuer_Settle_TerminalGuardSkippedWithoutTransition(t *testing.T) {
	repo := NewMockFinanceRepository()
	issuer := NewIssuer(repo, 12, testLogger())
	b := seedBooking(t, repo, domain.PaymentCard, 5000)

	// Cancel the booking first.
	stored, _ := repo.FindBookingByID(context.Background(), b.ID)
	if err := stored.Cancel("gone", time.Now()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := repo.UpdateBooking(context.Background(), stored); err != nil {
		t.Fatalf("update: %v", err)
	}

	// A settlement without a transition (chargeback path) still goes through.
	_, err := issuer.Settle(context.Background(), SettleRequest{
		BookingID:   b.ID,
		AmountPence: 5000,
		Method:      SettleCard,
		Actor:       domain.SystemActor,
		Reason:      "chargeback_lost",
	})
	if err != nil {
		t.Fatalf("expected settlement on terminal booking without transition, got %v", err)
	}
}

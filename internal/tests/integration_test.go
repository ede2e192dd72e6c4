package tests

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kidsclubhq/bookingpay/internal/adapters/repo"
	"github.com/kidsclubhq/bookingpay/internal/core/domain"
	"github.com/kidsclubhq/bookingpay/internal/core/policy"
	"github.com/kidsclubhq/bookingpay/internal/core/ports"
	"github.com/kidsclubhq/bookingpay/internal/core/service"
	"github.com/kidsclubhq/bookingpay/internal/core/service/testhelpers"
)

type integrationEnv struct {
	td      *testhelpers.TestDatabase
	repo    ports.FinanceRepository
	ledger  *service.Ledger
	issuer  *service.Issuer
	gateway *service.MockPaymentGateway
	mailer  *service.MockMailer
}

func setupIntegration(t *testing.T) *integrationEnv {
	t.Helper()

	td := testhelpers.SetupTestDatabase(t)
	t.Cleanup(func() { td.Cleanup(t) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	financeRepo := repo.NewFinanceRepository(td.DB)
	gateway := &service.MockPaymentGateway{}
	mailer := &service.MockMailer{}
	issuer := service.NewIssuer(financeRepo, 12, logger)
	engine := policy.NewEngine(500, 24*time.Hour)
	ledger := service.NewLedger(financeRepo, engine, issuer, gateway, mailer, logger)

	return &integrationEnv{
		td:      td,
		repo:    financeRepo,
		ledger:  ledger,
		issuer:  issuer,
		gateway: gateway,
		mailer:  mailer,
	}
}

func seedIntegrationBooking(t *testing.T, r ports.FinanceRepository, method domain.PaymentMethod, amountPence int64) *domain.Booking {
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
	if err := r.CreateBooking(context.Background(), b); err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	return b
}

func TestIntegration_CancellationSettlesExactlyOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	env := setupIntegration(t)
	ctx := context.Background()
	b := seedIntegrationBooking(t, env.repo, domain.PaymentCard, 5000)

	actor := domain.Actor{ID: b.ParentID, Role: domain.RoleParent}
	result, err := env.ledger.Cancel(ctx, b.ID, actor, "holiday moved", policy.MethodCash)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if result.RefundedPence != 4500 {
		t.Errorf("expected 4500 refunded, got %d", result.RefundedPence)
	}
	if result.FeePence != 500 {
		t.Errorf("expected 500 fee retained, got %d", result.FeePence)
	}
	if result.RefundedPence+result.CreditedPence+result.FeePence != b.AmountPence {
		t.Errorf("settlement does not add up to the charge: %d + %d + %d != %d",
			result.RefundedPence, result.CreditedPence, result.FeePence, b.AmountPence)
	}

	stored, err := env.repo.FindBookingByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("find booking: %v", err)
	}
	if stored.Status != domain.StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", stored.Status)
	}

	settled, err := env.repo.SettledTotalPence(ctx, b.ID)
	if err != nil {
		t.Fatalf("settled total: %v", err)
	}
	if settled != 5000 {
		t.Errorf("expected the full 5000 accounted for, got %d", settled)
	}
	if env.gateway.CreateRefundCalls() != 1 {
		t.Errorf("expected 1 gateway call, got %d", env.gateway.CreateRefundCalls())
	}

	// A second cancellation attempt must not settle again.
	_, err = env.ledger.Cancel(ctx, b.ID, actor, "again", policy.MethodCash)
	if !domain.IsErrorCode(err, domain.ErrCodeAlreadyTerminal) {
		t.Errorf("expected ALREADY_TERMINAL, got %v", err)
	}
	if env.gateway.CreateRefundCalls() != 1 {
		t.Errorf("expected no further gateway calls, got %d", env.gateway.CreateRefundCalls())
	}
}

func TestIntegration_PendingRefundUniquePerBooking(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	env := setupIntegration(t)
	ctx := context.Background()
	b := seedIntegrationBooking(t, env.repo, domain.PaymentCard, 5000)

	first := &domain.RefundTransaction{
		ID:          uuid.New(),
		BookingID:   b.ID,
		AmountPence: 1000,
		Method:      domain.RefundCard,
		Reason:      "partial",
		Status:      domain.RefundPending,
		ActorID:     b.ParentID,
		ActorRole:   domain.RoleParent,
	}
	if err := env.repo.CreateRefund(ctx, first); err != nil {
		t.Fatalf("first refund: %v", err)
	}

	second := &domain.RefundTransaction{
		ID:          uuid.New(),
		BookingID:   b.ID,
		AmountPence: 1000,
		Method:      domain.RefundCard,
		Reason:      "partial again",
		Status:      domain.RefundPending,
		ActorID:     b.ParentID,
		ActorRole:   domain.RoleParent,
	}
	err := env.repo.CreateRefund(ctx, second)
	if !domain.IsErrorCode(err, domain.ErrCodeDuplicatePendingRefund) {
		t.Fatalf("expected DUPLICATE_PENDING_REFUND from the partial index, got %v", err)
	}

	// Reconciling the first row frees the slot.
	if err := env.ledger.ReconcileRefund(ctx, first.ID, true, "gw-ref-1"); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if err := env.repo.CreateRefund(ctx, second); err != nil {
		t.Errorf("expected a new pending refund after reconciliation, got %v", err)
	}
}

func TestIntegration_ConcurrentTransitionConflict(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	env := setupIntegration(t)
	ctx := context.Background()
	b := seedIntegrationBooking(t, env.repo, domain.PaymentCard, 5000)

	// Two readers load the same confirmed booking.
	first, err := env.repo.FindBookingByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	second, err := env.repo.FindBookingByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}

	if err := first.Cancel("first writer", time.Now()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := env.repo.TransitionBooking(ctx, first, domain.StatusConfirmed); err != nil {
		t.Fatalf("first transition: %v", err)
	}

	// The stale writer predicates on CONFIRMED, which no longer holds.
	if err := second.Cancel("second writer", time.Now()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	err = env.repo.TransitionBooking(ctx, second, domain.StatusConfirmed)
	if !domain.IsErrorCode(err, domain.ErrCodeStatusConflict) {
		t.Errorf("expected STATUS_CONFLICT, got %v", err)
	}
}

func TestIntegration_CreditOrderingAndExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	env := setupIntegration(t)
	ctx := context.Background()
	parentID := uuid.New()
	now := time.Now()

	seedCredit := func(expiresIn time.Duration, amount int64) *domain.WalletCredit {
		c := &domain.WalletCredit{
			ID:          uuid.New(),
			ParentID:    parentID,
			AmountPence: amount,
			ExpiryDate:  now.Add(expiresIn),
			Source:      domain.SourceCancellationRefund,
			Status:      domain.CreditActive,
		}
		if err := env.repo.CreateCredit(ctx, c); err != nil {
			t.Fatalf("seed credit: %v", err)
		}
		return c
	}

	late := seedCredit(720*time.Hour, 2000)
	early := seedCredit(24*time.Hour, 1000)
	expired := seedCredit(-time.Hour, 500)

	var got []*domain.WalletCredit
	err := env.repo.WithTx(ctx, func(txRepo ports.FinanceRepository) error {
		var txErr error
		got, txErr = txRepo.FindAvailableCredits(ctx, parentID, nil, now)
		return txErr
	})
	if err != nil {
		t.Fatalf("find credits: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 usable credits, got %d", len(got))
	}
	if got[0].ID != early.ID || got[1].ID != late.ID {
		t.Error("expected credits ordered soonest expiry first")
	}

	n, err := env.repo.ExpireCredits(ctx, now, 100)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 credit expired, got %d", n)
	}

	var status string
	err = env.td.DB.Pool.QueryRow(ctx, "SELECT status FROM wallet_credits WHERE id = $1", expired.ID).Scan(&status)
	if err != nil {
		t.Fatalf("reload credit: %v", err)
	}
	if status != string(domain.CreditExpired) {
		t.Errorf("expected EXPIRED, got %s", status)
	}
}

func TestIntegration_CreditOnlyCancellationFullySettles(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	env := setupIntegration(t)
	ctx := context.Background()
	b := seedIntegrationBooking(t, env.repo, domain.PaymentCard, 5000)

	// Inside the cutoff, so only the credit rail is available.
	b.ActivityStart = time.Now().Add(6 * time.Hour)
	if err := env.repo.UpdateBooking(ctx, b); err != nil {
		t.Fatalf("update: %v", err)
	}

	actor := domain.Actor{ID: b.ParentID, Role: domain.RoleParent}
	result, err := env.ledger.Cancel(ctx, b.ID, actor, "last minute", policy.MethodCredit)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if result.CreditedPence != 4500 || result.FeePence != 500 {
		t.Fatalf("expected 4500 credited with fee 500, got %+v", result)
	}

	// The retained fee counts as settled even though no refund row exists.
	settled, err := env.repo.SettledTotalPence(ctx, b.ID)
	if err != nil {
		t.Fatalf("settled total: %v", err)
	}
	if settled != 5000 {
		t.Errorf("expected 5000 settled, got %d", settled)
	}

	// Nothing is left to give back, fee included.
	provider := domain.Actor{ID: b.ProviderID, Role: domain.RoleProvider}
	_, err = env.ledger.PartialRefund(ctx, b.ID, 500, service.SettleCard, provider, "fee again")
	if !domain.IsErrorCode(err, domain.ErrCodeInsufficientAmount) {
		t.Errorf("expected INSUFFICIENT_AMOUNT, got %v", err)
	}
	if env.gateway.CreateRefundCalls() != 0 {
		t.Errorf("expected no gateway calls, got %d", env.gateway.CreateRefundCalls())
	}
}

func TestIntegration_TFCSweepSelection(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	env := setupIntegration(t)
	ctx := context.Background()
	now := time.Now()

	seedTFC := func(status domain.BookingStatus, deadline time.Time) *domain.Booking {
		b := seedIntegrationBooking(t, env.repo, domain.PaymentTFC, 5000)
		b.Status = status
		b.TFCDeadline = &deadline
		if err := env.repo.UpdateBooking(ctx, b); err != nil {
			t.Fatalf("update: %v", err)
		}
		return b
	}

	// Unpaid TFC bookings awaiting payment, in either holding state.
	pendingSoon := seedTFC(domain.StatusPending, now.Add(24*time.Hour))
	tfcPendingSoon := seedTFC(domain.StatusTFCPending, now.Add(24*time.Hour))
	pendingExpired := seedTFC(domain.StatusPending, now.Add(-time.Hour))
	tfcPendingExpired := seedTFC(domain.StatusTFCPending, now.Add(-time.Hour))

	// A card booking with a stray deadline must never be swept.
	cardDeadline := now.Add(24 * time.Hour)
	card := seedIntegrationBooking(t, env.repo, domain.PaymentCard, 5000)
	card.TFCDeadline = &cardDeadline
	if err := env.repo.UpdateBooking(ctx, card); err != nil {
		t.Fatalf("update: %v", err)
	}

	reminders, err := env.repo.FindTFCReminderCandidates(ctx, now, 48*time.Hour, 10)
	if err != nil {
		t.Fatalf("reminder candidates: %v", err)
	}
	reminderIDs := map[uuid.UUID]bool{}
	for _, b := range reminders {
		reminderIDs[b.ID] = true
	}
	if len(reminders) != 2 || !reminderIDs[pendingSoon.ID] || !reminderIDs[tfcPendingSoon.ID] {
		t.Errorf("expected both unpaid bookings inside the window, got %d: %v", len(reminders), reminderIDs)
	}
	if reminderIDs[card.ID] {
		t.Error("card booking must not be a reminder candidate")
	}

	var expiredIDs map[uuid.UUID]bool
	err = env.repo.WithTx(ctx, func(txRepo ports.FinanceRepository) error {
		expired, txErr := txRepo.FindTFCExpiredBookings(ctx, now, 10)
		if txErr != nil {
			return txErr
		}
		expiredIDs = map[uuid.UUID]bool{}
		for _, b := range expired {
			expiredIDs[b.ID] = true
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expired bookings: %v", err)
	}
	if len(expiredIDs) != 2 || !expiredIDs[pendingExpired.ID] || !expiredIDs[tfcPendingExpired.ID] {
		t.Errorf("expected both past-deadline unpaid bookings, got %v", expiredIDs)
	}
}

func TestIntegration_TransactionRollsBackAtomically(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	env := setupIntegration(t)
	ctx := context.Background()
	boom := errors.New("forced failure")
	bookingID := uuid.New()

	err := env.repo.WithTx(ctx, func(txRepo ports.FinanceRepository) error {
		b := &domain.Booking{
			ID:               bookingID,
			ParentID:         uuid.New(),
			ChildID:          uuid.New(),
			ProviderID:       uuid.New(),
			VenueID:          uuid.New(),
			ActivityID:       uuid.New(),
			ParentEmail:      "parent@example.com",
			ActivityStart:    time.Now().Add(72 * time.Hour),
			AmountPence:      5000,
			PaymentMethod:    domain.PaymentCard,
			PaymentReference: "ch_rollback",
			Status:           domain.StatusConfirmed,
		}
		if err := txRepo.CreateBooking(ctx, b); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected forced failure surfaced, got %v", err)
	}

	_, err = env.repo.FindBookingByID(ctx, bookingID)
	if !domain.IsErrorCode(err, domain.ErrCodeBookingNotFound) {
		t.Errorf("expected the insert rolled back, got %v", err)
	}
}

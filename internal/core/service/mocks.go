package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kidsclubhq/bookingpay/internal/core/domain"
	"github.com/kidsclubhq/bookingpay/internal/core/ports"
)

// MockFinanceRepository is an in-memory FinanceRepository for tests. Reads
// return copies so callers mutating an entity do not touch the "stored" row
// until they write it back, which is what makes the optimistic transition
// checks meaningful. Any method can be overridden through its Fn field.
type MockFinanceRepository struct {
	mu          sync.RWMutex
	bookings    map[uuid.UUID]*domain.Booking
	activities  map[uuid.UUID]*domain.Activity
	refunds     map[uuid.UUID]*domain.RefundTransaction
	credits     map[uuid.UUID]*domain.WalletCredit
	chargebacks map[uuid.UUID]*domain.Chargeback
	notified    []*domain.Notification
	audit       []*domain.AuditEvent

	FindTFCReminderCandidatesFn func(ctx context.Context, now time.Time, window time.Duration, limit int) ([]*domain.Booking, error)
	FindTFCExpiredBookingsFn    func(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error)
	CreateRefundFn              func(ctx context.Context, r *domain.RefundTransaction) error
	CreateCreditFn              func(ctx context.Context, c *domain.WalletCredit) error
	ExpireCreditsFn             func(ctx context.Context, now time.Time, limit int) (int64, error)
	WithTxFn                    func(ctx context.Context, fn func(ports.FinanceRepository) error) error
}

func NewMockFinanceRepository() *MockFinanceRepository {
	return &MockFinanceRepository{
		bookings:    make(map[uuid.UUID]*domain.Booking),
		activities:  make(map[uuid.UUID]*domain.Activity),
		refunds:     make(map[uuid.UUID]*domain.RefundTransaction),
		credits:     make(map[uuid.UUID]*domain.WalletCredit),
		chargebacks: make(map[uuid.UUID]*domain.Chargeback),
	}
}

func (m *MockFinanceRepository) CreateBooking(ctx context.Context, b *domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MockFinanceRepository) FindBookingByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.bookings[id]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, domain.NewBookingNotFoundError(id.String())
}

func (m *MockFinanceRepository) FindBookingByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return m.FindBookingByID(ctx, id)
}

func (m *MockFinanceRepository) TransitionBooking(ctx context.Context, b *domain.Booking, expected domain.BookingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.bookings[b.ID]
	if !ok {
		return domain.NewBookingNotFoundError(b.ID.String())
	}
	if stored.Status != expected {
		return domain.NewStatusConflictError(b.ID, expected)
	}
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MockFinanceRepository) UpdateBooking(ctx context.Context, b *domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.ID]; !ok {
		return domain.NewBookingNotFoundError(b.ID.String())
	}
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MockFinanceRepository) SetDisputeLock(ctx context.Context, bookingID uuid.UUID, locked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return domain.NewBookingNotFoundError(bookingID.String())
	}
	b.DisputeLocked = locked
	return nil
}

func (m *MockFinanceRepository) FindTFCReminderCandidates(ctx context.Context, now time.Time, window time.Duration, limit int) ([]*domain.Booking, error) {
	if m.FindTFCReminderCandidatesFn != nil {
		return m.FindTFCReminderCandidatesFn(ctx, now, window, limit)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Booking
	for _, b := range m.bookings {
		if b.PaymentMethod != domain.PaymentTFC || b.TFCDeadline == nil {
			continue
		}
		if b.Status != domain.StatusPending && b.Status != domain.StatusTFCPending {
			continue
		}
		if b.TFCDeadline.After(now) && b.TFCDeadline.Before(now.Add(window)) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockFinanceRepository) FindTFCExpiredBookings(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error) {
	if m.FindTFCExpiredBookingsFn != nil {
		return m.FindTFCExpiredBookingsFn(ctx, now, limit)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Booking
	for _, b := range m.bookings {
		if b.PaymentMethod != domain.PaymentTFC || b.TFCDeadline == nil {
			continue
		}
		if b.Status != domain.StatusPending && b.Status != domain.StatusTFCPending {
			continue
		}
		if b.TFCDeadline.Before(now) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockFinanceRepository) FindActivityByID(ctx context.Context, id uuid.UUID) (*domain.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.activities[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, domain.NewActivityNotFoundError(id.String())
}

func (m *MockFinanceRepository) CountActiveBookings(ctx context.Context, activityID uuid.UUID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, b := range m.bookings {
		if b.ActivityID == activityID && !b.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (m *MockFinanceRepository) AddActivity(a *domain.Activity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.activities[a.ID] = &cp
}

func (m *MockFinanceRepository) CreateRefund(ctx context.Context, r *domain.RefundTransaction) error {
	if m.CreateRefundFn != nil {
		return m.CreateRefundFn(ctx, r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Mirrors the partial unique index on pending refunds.
	for _, existing := range m.refunds {
		if existing.BookingID == r.BookingID && existing.Status == domain.RefundPending {
			return domain.NewDuplicatePendingRefundError(r.BookingID)
		}
	}
	cp := *r
	m.refunds[r.ID] = &cp
	return nil
}

func (m *MockFinanceRepository) FindRefundByID(ctx context.Context, id uuid.UUID) (*domain.RefundTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.refunds[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, domain.NewRefundNotFoundError(id.String())
}

func (m *MockFinanceRepository) FindRefundByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.RefundTransaction, error) {
	return m.FindRefundByID(ctx, id)
}

func (m *MockFinanceRepository) FindPendingRefundByBooking(ctx context.Context, bookingID uuid.UUID) (*domain.RefundTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.refunds {
		if r.BookingID == bookingID && r.Status == domain.RefundPending {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockFinanceRepository) UpdateRefund(ctx context.Context, r *domain.RefundTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refunds[r.ID]; !ok {
		return domain.NewRefundNotFoundError(r.ID.String())
	}
	cp := *r
	m.refunds[r.ID] = &cp
	return nil
}

func (m *MockFinanceRepository) SettledTotalPence(ctx context.Context, bookingID uuid.UUID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, r := range m.refunds {
		if r.BookingID == bookingID && r.Status != domain.RefundFailed {
			total += r.AmountPence + r.FeePence
		}
	}
	for _, c := range m.credits {
		if c.BookingID != nil && *c.BookingID == bookingID {
			total += c.AmountPence + c.FeePence
		}
	}
	return total, nil
}

func (m *MockFinanceRepository) CreateCredit(ctx context.Context, c *domain.WalletCredit) error {
	if m.CreateCreditFn != nil {
		return m.CreateCreditFn(ctx, c)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.credits[c.ID] = &cp
	return nil
}

func (m *MockFinanceRepository) FindAvailableCredits(ctx context.Context, parentID uuid.UUID, providerID *uuid.UUID, now time.Time) ([]*domain.WalletCredit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.WalletCredit
	for _, c := range m.credits {
		if c.ParentID != parentID || !c.Usable(now) {
			continue
		}
		// Credits with no provider scope are spendable anywhere.
		if providerID != nil && c.ProviderID != nil && *c.ProviderID != *providerID {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiryDate.Before(out[j].ExpiryDate)
	})
	return out, nil
}

func (m *MockFinanceRepository) UpdateCredit(ctx context.Context, c *domain.WalletCredit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.credits[c.ID] = &cp
	return nil
}

func (m *MockFinanceRepository) ExpireCredits(ctx context.Context, now time.Time, limit int) (int64, error) {
	if m.ExpireCreditsFn != nil {
		return m.ExpireCreditsFn(ctx, now, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.credits {
		if c.Status == domain.CreditActive && c.ExpiryDate.Before(now) {
			c.Status = domain.CreditExpired
			n++
		}
	}
	return n, nil
}

func (m *MockFinanceRepository) CreateChargeback(ctx context.Context, c *domain.Chargeback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.chargebacks[c.ID] = &cp
	return nil
}

func (m *MockFinanceRepository) FindChargebackByID(ctx context.Context, id uuid.UUID) (*domain.Chargeback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.chargebacks[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, domain.NewChargebackNotFoundError(id.String())
}

func (m *MockFinanceRepository) FindChargebackByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Chargeback, error) {
	return m.FindChargebackByID(ctx, id)
}

func (m *MockFinanceRepository) UpdateChargeback(ctx context.Context, c *domain.Chargeback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chargebacks[c.ID]; !ok {
		return domain.NewChargebackNotFoundError(c.ID.String())
	}
	cp := *c
	m.chargebacks[c.ID] = &cp
	return nil
}

func (m *MockFinanceRepository) CreateNotification(ctx context.Context, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.notified {
		if existing.BookingID == n.BookingID && existing.Kind == n.Kind && existing.Reference == n.Reference {
			return domain.NewDuplicateNotificationError(n.BookingID, n.Kind)
		}
	}
	cp := *n
	m.notified = append(m.notified, &cp)
	return nil
}

func (m *MockFinanceRepository) HasNotification(ctx context.Context, bookingID uuid.UUID, kind domain.NotificationKind, reference string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.notified {
		if n.BookingID == bookingID && n.Kind == kind && n.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockFinanceRepository) AppendAuditEvent(ctx context.Context, e *domain.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.audit = append(m.audit, &cp)
	return nil
}

func (m *MockFinanceRepository) WithTx(ctx context.Context, fn func(ports.FinanceRepository) error) error {
	if m.WithTxFn != nil {
		return m.WithTxFn(ctx, fn)
	}
	return fn(m)
}

// Test inspection helpers.

func (m *MockFinanceRepository) RefundsForBooking(bookingID uuid.UUID) []*domain.RefundTransaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.RefundTransaction
	for _, r := range m.refunds {
		if r.BookingID == bookingID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out
}

func (m *MockFinanceRepository) CreditsForParent(parentID uuid.UUID) []*domain.WalletCredit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.WalletCredit
	for _, c := range m.credits {
		if c.ParentID == parentID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiryDate.Before(out[j].ExpiryDate)
	})
	return out
}

func (m *MockFinanceRepository) NotificationCount(bookingID uuid.UUID, kind domain.NotificationKind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, record := range m.notified {
		if record.BookingID == bookingID && record.Kind == kind {
			n++
		}
	}
	return n
}

func (m *MockFinanceRepository) AuditEvents() []*domain.AuditEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.AuditEvent, len(m.audit))
	copy(out, m.audit)
	return out
}

// MockPaymentGateway is an in-memory PaymentGateway.
type MockPaymentGateway struct {
	mu             sync.Mutex
	CreateRefundFn func(ctx context.Context, paymentReference string, amountPence int64, idempotencyKey string) (*domain.GatewayRefund, error)
	GetRefundFn    func(ctx context.Context, refundID string) (*domain.GatewayRefund, error)
	calls          int
}

func (g *MockPaymentGateway) CreateRefund(ctx context.Context, paymentReference string, amountPence int64, idempotencyKey string) (*domain.GatewayRefund, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.CreateRefundFn != nil {
		return g.CreateRefundFn(ctx, paymentReference, amountPence, idempotencyKey)
	}
	return &domain.GatewayRefund{RefundID: "gw-ref-" + idempotencyKey, Status: "pending", ProcessedAt: time.Now()}, nil
}

func (g *MockPaymentGateway) GetRefund(ctx context.Context, refundID string) (*domain.GatewayRefund, error) {
	if g.GetRefundFn != nil {
		return g.GetRefundFn(ctx, refundID)
	}
	return &domain.GatewayRefund{RefundID: refundID, Status: "processed", ProcessedAt: time.Now()}, nil
}

func (g *MockPaymentGateway) CreateRefundCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// MockMailer records sends instead of dispatching them.
type MockMailer struct {
	mu     sync.Mutex
	SendFn func(ctx context.Context, template, recipient string, vars map[string]string) error
	sent   []string
}

func (m *MockMailer) Send(ctx context.Context, template, recipient string, vars map[string]string) error {
	m.mu.Lock()
	m.sent = append(m.sent, template)
	m.mu.Unlock()
	if m.SendFn != nil {
		return m.SendFn(ctx, template, recipient, vars)
	}
	return nil
}

func (m *MockMailer) SentTemplates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}

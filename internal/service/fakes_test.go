package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nusawave/prepaidnet/internal/domain"
	"github.com/nusawave/prepaidnet/internal/infrastructure/radius"
)

// recordingDispatcher captures dispatched events for assertions.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (d *recordingDispatcher) Dispatch(_ context.Context, e domain.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
}

func (d *recordingDispatcher) names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.events))
	for i, e := range d.events {
		out[i] = e.EventName()
	}
	return out
}

// coreEnv wires the services against in-memory fakes and the mock AAA store.
type coreEnv struct {
	custRepo   *fakeCustomerRepo
	pkgRepo    *fakePackageRepo
	subRepo    *fakeSubRepo
	usageRepo  *fakeUsageRepo
	acctRepo   *fakeAcctRepo
	payRepo    *fakePaymentRepo
	store      *radius.InMemory
	aaa        *AaaAdapter
	dispatcher *recordingDispatcher
	subs       *SubscriptionService
	payments   *PaymentService
}

func newCoreEnv() *coreEnv {
	env := &coreEnv{
		custRepo:   newFakeCustomerRepo(),
		pkgRepo:    newFakePackageRepo(),
		subRepo:    newFakeSubRepo(),
		usageRepo:  newFakeUsageRepo(),
		acctRepo:   newFakeAcctRepo(),
		payRepo:    newFakePaymentRepo(),
		store:      radius.NewInMemory(),
		dispatcher: &recordingDispatcher{},
	}
	env.aaa = NewAaaAdapter(env.store, env.subRepo)
	env.subs = NewSubscriptionService(env.subRepo, env.custRepo, env.pkgRepo, env.usageRepo, env.acctRepo, env.aaa, env.dispatcher)
	env.payments = NewPaymentService(env.payRepo, env.custRepo, env.pkgRepo, env.subs, &MockGatewayClient{}, env.dispatcher)
	return env
}

func (e *coreEnv) seedCustomer(t *testing.T, username string) *domain.Customer {
	t.Helper()
	c := &domain.Customer{
		Phone:    "+628" + username,
		FullName: "Test " + username,
		Username: username,
		Password: "rahasia123",
		Status:   domain.CustomerActive,
	}
	if err := e.custRepo.Create(context.Background(), c); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return c
}

func (e *coreEnv) seedPackage(t *testing.T, mutate func(*domain.Package)) *domain.Package {
	t.Helper()
	p := &domain.Package{
		Name:              "Rumahan 10 Mbps",
		Price:             150000,
		Currency:          "IDR",
		DurationUnit:      domain.DurationMonth,
		DurationCount:     1,
		BandwidthUpKbps:   2048,
		BandwidthDownKbps: 10240,
		SimultaneousUse:   1,
		IsActive:          true,
	}
	if mutate != nil {
		mutate(p)
	}
	if err := e.pkgRepo.Create(context.Background(), p); err != nil {
		t.Fatalf("seed package: %v", err)
	}
	return p
}

func (e *coreEnv) seedActiveSub(t *testing.T, customer *domain.Customer, pkg *domain.Package) *domain.Subscription {
	t.Helper()
	now := time.Now().UTC()
	expires := pkg.ExpiryFrom(now)
	sub := &domain.Subscription{
		CustomerID: customer.ID,
		PackageID:  pkg.ID,
		Status:     domain.SubscriptionActive,
		StartsAt:   &now,
		ExpiresAt:  &expires,
	}
	if err := e.subRepo.Create(context.Background(), sub); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return sub
}

// In-memory repository fakes mirroring the Mongo implementations' CAS and
// counter semantics closely enough to exercise the services.

type fakeCustomerRepo struct {
	mu        sync.Mutex
	customers map[string]*domain.Customer
	seq       int
}

func newFakeCustomerRepo() *fakeCustomerRepo {
	return &fakeCustomerRepo{customers: make(map[string]*domain.Customer)}
}

func (r *fakeCustomerRepo) Create(_ context.Context, c *domain.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.customers {
		if existing.Phone == c.Phone {
			return domain.ErrDuplicatePhone
		}
	}
	r.seq++
	if c.ID == "" {
		c.ID = fmt.Sprintf("cust-%d", r.seq)
	}
	cp := *c
	r.customers[c.ID] = &cp
	return nil
}

func (r *fakeCustomerRepo) GetByID(_ context.Context, id string) (*domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.customers[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCustomerRepo) GetByPhone(_ context.Context, phone string) (*domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.customers {
		if c.Phone == phone {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeCustomerRepo) GetByUsername(_ context.Context, username string) (*domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.customers {
		if c.Username == username {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeCustomerRepo) Update(_ context.Context, c *domain.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.customers[c.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *c
	r.customers[c.ID] = &cp
	return nil
}

func (r *fakeCustomerRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.customers[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.customers, id)
	return nil
}

type fakePackageRepo struct {
	mu       sync.Mutex
	packages map[string]*domain.Package
	seq      int
}

func newFakePackageRepo() *fakePackageRepo {
	return &fakePackageRepo{packages: make(map[string]*domain.Package)}
}

func (r *fakePackageRepo) Create(_ context.Context, p *domain.Package) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if p.ID == "" {
		p.ID = fmt.Sprintf("pkg-%d", r.seq)
	}
	cp := *p
	r.packages[p.ID] = &cp
	return nil
}

func (r *fakePackageRepo) GetByID(_ context.Context, id string) (*domain.Package, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.packages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakePackageRepo) GetActivePackages(_ context.Context) ([]*domain.Package, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Package
	for _, p := range r.packages {
		if p.IsActive {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakePackageRepo) GetTrialPackage(_ context.Context) (*domain.Package, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.packages {
		if p.IsTrial && p.IsActive {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakePackageRepo) Update(_ context.Context, p *domain.Package) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.packages[p.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *p
	r.packages[p.ID] = &cp
	return nil
}

func (r *fakePackageRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.packages[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.packages, id)
	return nil
}

type fakeSubRepo struct {
	mu   sync.Mutex
	subs map[string]*domain.Subscription
	seq  int
}

func newFakeSubRepo() *fakeSubRepo {
	return &fakeSubRepo{subs: make(map[string]*domain.Subscription)}
}

func (r *fakeSubRepo) Create(_ context.Context, s *domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if s.ID == "" {
		s.ID = fmt.Sprintf("sub-%d", r.seq)
	}
	s.CreatedAt = time.Now().UTC()
	cp := *s
	r.subs[s.ID] = &cp
	return nil
}

func (r *fakeSubRepo) GetByID(_ context.Context, id string) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSubRepo) GetByCustomerID(_ context.Context, customerID string) ([]*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Subscription
	for _, s := range r.subs {
		if s.CustomerID == customerID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeSubRepo) GetActiveByCustomerID(_ context.Context, customerID string) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.CustomerID == customerID && s.Status == domain.SubscriptionActive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeSubRepo) UpdateCAS(_ context.Context, sub *domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.subs[sub.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != sub.Version {
		return domain.ErrConcurrencyConflict
	}
	sub.Version++
	cp := *sub
	// Counter fields are owned by AddUsage/ResetUsage, not CAS writes.
	cp.DataUsed = stored.DataUsed
	cp.SessionsUsed = stored.SessionsUsed
	r.subs[sub.ID] = &cp
	return nil
}

func (r *fakeSubRepo) AddUsage(_ context.Context, id string, bytes int64, sessions int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	s.DataUsed += bytes
	s.SessionsUsed += sessions
	return s.DataUsed, nil
}

func (r *fakeSubRepo) ResetUsage(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.DataUsed = 0
	s.SessionsUsed = 0
	return nil
}

func (r *fakeSubRepo) CASStatus(_ context.Context, id string, from, to domain.SubscriptionStatus, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if s.Status != from {
		return false, nil
	}
	s.Status = to
	s.SuspendReason = reason
	s.Version++
	return true, nil
}

func (r *fakeSubRepo) SetNeedsAaaSync(_ context.Context, id string, needs bool, syncErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.NeedsAaaSync = needs
	s.LastSyncError = syncErr
	return nil
}

func (r *fakeSubRepo) MarkExpiryWarningSent(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.ExpiryWarningSentAt = &at
	return nil
}

func (r *fakeSubRepo) FindDueForExpiry(_ context.Context, now time.Time) ([]*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Subscription
	for _, s := range r.subs {
		if (s.Status == domain.SubscriptionActive || s.Status == domain.SubscriptionSuspended) && s.IsExpiredAt(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeSubRepo) FindDueForAutoRenew(_ context.Context, before time.Time) ([]*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Subscription
	for _, s := range r.subs {
		if s.Status == domain.SubscriptionActive && s.AutoRenew && s.ExpiresAt != nil && s.ExpiresAt.Before(before) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeSubRepo) FindNeedingAaaSync(_ context.Context, limit int64) ([]*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Subscription
	for _, s := range r.subs {
		if s.NeedsAaaSync && int64(len(out)) < limit {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeSubRepo) FindDueForExpiryWarning(_ context.Context, now, windowEnd time.Time) ([]*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Subscription
	for _, s := range r.subs {
		if s.Status == domain.SubscriptionActive && s.ExpiryWarningSentAt == nil &&
			s.ExpiresAt != nil && s.ExpiresAt.After(now) && s.ExpiresAt.Before(windowEnd) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeSubRepo) CountByPackageID(_ context.Context, packageID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.subs {
		if s.PackageID == packageID {
			n++
		}
	}
	return n, nil
}

type fakeUsageRepo struct {
	mu      sync.Mutex
	records map[string]*domain.DataUsageRecord // subID|date
}

func newFakeUsageRepo() *fakeUsageRepo {
	return &fakeUsageRepo{records: make(map[string]*domain.DataUsageRecord)}
}

func (r *fakeUsageRepo) UpsertDaily(_ context.Context, subscriptionID, date string, delta domain.UsageDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := subscriptionID + "|" + date
	rec, ok := r.records[key]
	if !ok {
		rec = &domain.DataUsageRecord{SubscriptionID: subscriptionID, Date: date}
		r.records[key] = rec
	}
	rec.BytesUp += delta.BytesUp
	rec.BytesDown += delta.BytesDown
	rec.BytesTotal += delta.BytesUp + delta.BytesDown
	rec.SessionCount += delta.SessionDelta
	rec.SessionSeconds += delta.SecondsDelta
	if delta.ConcurrentNow > rec.PeakConcurrent {
		rec.PeakConcurrent = delta.ConcurrentNow
	}
	return nil
}

func (r *fakeUsageRepo) GetDaily(_ context.Context, subscriptionID, date string) (*domain.DataUsageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[subscriptionID+"|"+date]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeUsageRepo) ListBySubscription(_ context.Context, subscriptionID string, from, to string) ([]*domain.DataUsageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.DataUsageRecord
	for _, rec := range r.records {
		if rec.SubscriptionID != subscriptionID {
			continue
		}
		if from != "" && rec.Date < from {
			continue
		}
		if to != "" && rec.Date > to {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

type fakeAcctRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.AccountingSession // by natural key
	seq      int
}

func newFakeAcctRepo() *fakeAcctRepo {
	return &fakeAcctRepo{sessions: make(map[string]*domain.AccountingSession)}
}

func (r *fakeAcctRepo) CreateSession(_ context.Context, s *domain.AccountingSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.NaturalKey]; ok {
		return domain.ErrDuplicateAccounting
	}
	r.seq++
	if s.ID == "" {
		s.ID = fmt.Sprintf("acct-%d", r.seq)
	}
	cp := *s
	r.sessions[s.NaturalKey] = &cp
	return nil
}

func (r *fakeAcctRepo) GetByNaturalKey(_ context.Context, key string) (*domain.AccountingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeAcctRepo) AdvanceCounters(_ context.Context, key string, bytesIn, bytesOut int64, seenAt time.Time) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		return 0, 0, domain.ErrNotFound
	}
	inDelta := bytesIn - s.LastBytesIn
	outDelta := bytesOut - s.LastBytesOut
	if inDelta < 0 {
		inDelta = 0
	}
	if outDelta < 0 {
		outDelta = 0
	}
	if bytesIn > s.LastBytesIn {
		s.LastBytesIn = bytesIn
	}
	if bytesOut > s.LastBytesOut {
		s.LastBytesOut = bytesOut
	}
	s.LastSeenAt = seenAt
	return inDelta, outDelta, nil
}

func (r *fakeAcctRepo) CloseSession(_ context.Context, key string, stoppedAt time.Time, state domain.SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		return domain.ErrNotFound
	}
	s.State = state
	s.StoppedAt = &stoppedAt
	return nil
}

func (r *fakeAcctRepo) CountOpenByUsername(_ context.Context, username string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.sessions {
		if s.Username == username && s.State == domain.SessionOpen {
			n++
		}
	}
	return n, nil
}

func (r *fakeAcctRepo) FindOpenBySubscriptionIDs(_ context.Context, ids []string) ([]*domain.AccountingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []*domain.AccountingSession
	for _, s := range r.sessions {
		if s.State == domain.SessionOpen && want[s.SubscriptionID] {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeAcctRepo) FindOpenSessions(_ context.Context, limit int64) ([]*domain.AccountingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AccountingSession
	for _, s := range r.sessions {
		if s.State == domain.SessionOpen && int64(len(out)) < limit {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakePaymentRepo struct {
	mu       sync.Mutex
	payments map[string]*domain.Payment
	refunds  map[string]*domain.PaymentRefund
	seq      int
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{
		payments: make(map[string]*domain.Payment),
		refunds:  make(map[string]*domain.PaymentRefund),
	}
}

func (r *fakePaymentRepo) Create(_ context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if p.ID == "" {
		p.ID = fmt.Sprintf("pay-%d", r.seq)
	}
	p.CreatedAt = time.Now().UTC()
	cp := *p
	r.payments[p.ID] = &cp
	return nil
}

func (r *fakePaymentRepo) GetByID(_ context.Context, id string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakePaymentRepo) GetByProviderSessionID(_ context.Context, sessionID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.ProviderSessionID == sessionID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakePaymentRepo) GetByCustomerID(_ context.Context, customerID string) ([]*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Payment
	for _, p := range r.payments {
		if p.CustomerID == customerID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakePaymentRepo) GetPendingByCustomerAndPackage(_ context.Context, customerID, packageID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.CustomerID == customerID && p.PackageID == packageID && p.Status == domain.PaymentPending && p.RenewalCycle == "" {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakePaymentRepo) LoadAggregate(ctx context.Context, paymentID string) (*domain.PaymentAggregate, error) {
	p, err := r.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	refunds, err := r.ListRefundsByPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return &domain.PaymentAggregate{Payment: p, Refunds: refunds}, nil
}

func (r *fakePaymentRepo) SetProviderSession(_ context.Context, id, sessionID, vaNumber string, expiry *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.ProviderSessionID = sessionID
	p.VANumber = vaNumber
	p.ExpiryDate = expiry
	return nil
}

func (r *fakePaymentRepo) TransitionStatus(_ context.Context, id string, from, to domain.PaymentStatus, paymentDate *time.Time, trxID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != from {
		return domain.ErrConcurrencyConflict
	}
	p.Status = to
	if paymentDate != nil {
		p.PaymentDate = paymentDate
	}
	if trxID != "" {
		p.ProviderTrxID = trxID
	}
	return nil
}

func (r *fakePaymentRepo) SetRefundAggregates(_ context.Context, id string, totalRefunded int64, lastRef string, status domain.PaymentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.TotalRefunded = totalRefunded
	p.LastRefundRef = lastRef
	p.Status = status
	return nil
}

func (r *fakePaymentRepo) ReserveRefund(_ context.Context, id string, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != domain.PaymentCompleted && p.Status != domain.PaymentPartiallyRefunded {
		return domain.ErrRefundExceedsBalance
	}
	if p.TotalReserved+amount > p.Amount {
		return domain.ErrRefundExceedsBalance
	}
	p.TotalReserved += amount
	return nil
}

func (r *fakePaymentRepo) ReleaseRefundReservation(_ context.Context, id string, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.TotalReserved -= amount
	return nil
}

func (r *fakePaymentRepo) GetRenewalPayment(_ context.Context, subscriptionID, cycle string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.SubscriptionID == subscriptionID && p.RenewalCycle == cycle {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakePaymentRepo) CreateRefund(_ context.Context, refund *domain.PaymentRefund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if refund.ID == "" {
		refund.ID = fmt.Sprintf("rfd-%d", r.seq)
	}
	refund.CreatedAt = time.Now().UTC()
	cp := *refund
	r.refunds[refund.ID] = &cp
	return nil
}

func (r *fakePaymentRepo) GetRefundByID(_ context.Context, id string) (*domain.PaymentRefund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	refund, ok := r.refunds[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *refund
	return &cp, nil
}

func (r *fakePaymentRepo) ListRefundsByPayment(_ context.Context, paymentID string) ([]*domain.PaymentRefund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.PaymentRefund
	for _, refund := range r.refunds {
		if refund.PaymentID == paymentID {
			cp := *refund
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakePaymentRepo) TransitionRefundStatus(_ context.Context, id string, from, to domain.RefundStatus, trxID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	refund, ok := r.refunds[id]
	if !ok {
		return domain.ErrNotFound
	}
	if refund.Status != from {
		return domain.ErrConcurrencyConflict
	}
	refund.Status = to
	if trxID != "" {
		refund.TransactionID = trxID
	}
	if to == domain.RefundCompleted || to == domain.RefundFailed {
		now := time.Now().UTC()
		refund.ProcessedAt = &now
	}
	return nil
}

func (r *fakePaymentRepo) FindProcessingRefunds(_ context.Context, olderThan time.Time) ([]*domain.PaymentRefund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.PaymentRefund
	for _, refund := range r.refunds {
		if refund.Status == domain.RefundProcessing && refund.CreatedAt.Before(olderThan) {
			cp := *refund
			out = append(out, &cp)
		}
	}
	return out, nil
}

package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"credit-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// memStore is an in-memory ledger honouring FOR UPDATE row locks: a locked
// row stays locked until the holding transaction commits or rolls back.
// Writes are applied immediately and undone on rollback.
type memStore struct {
	mu sync.Mutex

	wallets      map[uuid.UUID]*domain.Wallet
	txs          []*domain.WalletTransaction
	allocations  map[uuid.UUID]*domain.CreditAllocation
	publications map[uuid.UUID]*domain.CampaignPublication
	broadcasts   map[uuid.UUID]*domain.PublicationBroadcast
	campaigns    map[int64]*domain.Campaign
	connections  map[int64]int64 // connection id -> owner id
	views        map[string]*domain.BroadcastView
	grants       map[uuid.UUID]*domain.RewardGrant // keyed by view
	payments     map[uuid.UUID]*domain.PaymentTransaction

	locks map[string]chan struct{}
}

func newMemStore() *memStore {
	return &memStore{
		wallets:      map[uuid.UUID]*domain.Wallet{},
		allocations:  map[uuid.UUID]*domain.CreditAllocation{},
		publications: map[uuid.UUID]*domain.CampaignPublication{},
		broadcasts:   map[uuid.UUID]*domain.PublicationBroadcast{},
		campaigns:    map[int64]*domain.Campaign{},
		connections:  map[int64]int64{},
		views:        map[string]*domain.BroadcastView{},
		grants:       map[uuid.UUID]*domain.RewardGrant{},
		payments:     map[uuid.UUID]*domain.PaymentTransaction{},
		locks:        map[string]chan struct{}{},
	}
}

type memTx struct {
	pgx.Tx
	store *memStore
	held  map[string]bool
	undo  []func()
	done  bool
}

func (s *memStore) Begin(_ context.Context) (pgx.Tx, error) {
	return &memTx{store: s, held: map[string]bool{}}, nil
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.release()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.store.mu.Unlock()
	t.release()
	return nil
}

func (t *memTx) release() {
	for key := range t.held {
		t.store.mu.Lock()
		ch := t.store.locks[key]
		t.store.mu.Unlock()
		<-ch
	}
	t.held = nil
}

// lock blocks until the row key is free, then holds it for the transaction.
func (t *memTx) lock(key string) {
	if t.held[key] {
		return
	}
	t.store.mu.Lock()
	ch, ok := t.store.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		t.store.locks[key] = ch
	}
	t.store.mu.Unlock()
	ch <- struct{}{}
	t.held[key] = true
}

func asMemTx(tx pgx.Tx) *memTx {
	mt, ok := tx.(*memTx)
	if !ok {
		panic(fmt.Sprintf("unexpected tx type %T", tx))
	}
	return mt
}

// onRollback registers an undo step. Callers hold s.mu.
func onRollback(tx pgx.Tx, fn func()) {
	if tx == nil {
		return
	}
	mt := asMemTx(tx)
	mt.undo = append(mt.undo, fn)
}

// ---- seeding ----

func (s *memStore) seedWallet(ownerID, starting int64) *domain.Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := &domain.Wallet{ID: uuid.New(), OwnerID: ownerID, StartingBalance: starting, CreatedAt: fixedNow, UpdatedAt: fixedNow}
	s.wallets[w.ID] = w
	return w
}

func (s *memStore) seedCampaign(id, ownerID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[id] = &domain.Campaign{ID: id, OwnerID: ownerID, Name: fmt.Sprintf("campaign %d", id)}
}

func (s *memStore) seedConnection(id, ownerID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[id] = ownerID
}

func (s *memStore) completedRewards(allocationID uuid.UUID) (count int, sum int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.txs {
		if tx.Type == domain.TransactionTypeReward && tx.Status == domain.TransactionStatusComplete &&
			tx.CreditAllocationID != nil && *tx.CreditAllocationID == allocationID {
			count++
			sum += *tx.Value
		}
	}
	return count, sum
}

func (s *memStore) projection(walletID uuid.UUID) domain.Balances {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectLocked(walletID)
}

func (s *memStore) projectLocked(walletID uuid.UUID) domain.Balances {
	txs := make([]domain.WalletTransaction, 0, len(s.txs))
	for _, tx := range s.txs {
		txs = append(txs, *tx)
	}
	allocs := make([]domain.CreditAllocation, 0, len(s.allocations))
	for _, a := range s.allocations {
		allocs = append(allocs, *a)
	}
	return domain.ProjectBalances(s.wallets[walletID], txs, allocs)
}

// ---- wallets ----

type memWallets struct{ *memStore }

func (r memWallets) Create(_ context.Context, w *domain.Wallet) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.wallets {
		if existing.OwnerID == w.OwnerID {
			return false, nil
		}
	}
	cp := *w
	r.wallets[w.ID] = &cp
	return true, nil
}

func (r memWallets) GetByID(_ context.Context, id uuid.UUID) (*domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.wallets[id]; ok {
		cp := *w
		return &cp, nil
	}
	return nil, nil
}

func (r memWallets) GetByOwner(_ context.Context, ownerID int64) (*domain.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.wallets {
		if w.OwnerID == ownerID {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

func (r memWallets) GetByOwnerForUpdate(ctx context.Context, tx pgx.Tx, ownerID int64) (*domain.Wallet, error) {
	w, _ := r.GetByOwner(ctx, ownerID)
	if w == nil {
		return nil, nil
	}
	asMemTx(tx).lock("wallet:" + w.ID.String())
	return w, nil
}

// ---- transactions ----

type memTransactions struct{ *memStore }

func (r memTransactions) Create(_ context.Context, tx pgx.Tx, t *domain.WalletTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.txs = append(r.txs, &cp)
	onRollback(tx, func() {
		for i, existing := range r.txs {
			if existing.ID == cp.ID {
				r.txs = append(r.txs[:i], r.txs[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (r memTransactions) find(id uuid.UUID) *domain.WalletTransaction {
	for _, t := range r.txs {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (r memTransactions) GetByIDForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*domain.WalletTransaction, error) {
	asMemTx(tx).lock("tx:" + id.String())
	r.mu.Lock()
	defer r.mu.Unlock()
	if t := r.find(id); t != nil {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (r memTransactions) ApplyOutcome(_ context.Context, tx pgx.Tx, id, paymentID uuid.UUID, status domain.TransactionStatus, value int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.find(id)
	if t == nil {
		return fmt.Errorf("wallet transaction %s not found", id)
	}
	prev := *t
	t.Status = status
	t.Value = &value
	t.PaymentID = &paymentID
	switch status {
	case domain.TransactionStatusComplete:
		t.CompletedAt = &at
	case domain.TransactionStatusCancelled:
		t.CancelledAt = &at
	}
	onRollback(tx, func() { *t = prev })
	return nil
}

func (r memTransactions) ListByWallet(_ context.Context, walletID uuid.UUID, page, pageSize int) ([]domain.TransferRecord, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []domain.TransferRecord
	for i := len(r.txs) - 1; i >= 0; i-- {
		if r.txs[i].Touches(walletID) {
			rec := domain.TransferRecord{Transaction: *r.txs[i]}
			if pid := r.txs[i].PaymentID; pid != nil {
				if p, ok := r.payments[*pid]; ok {
					summary := p.Summary()
					rec.Payment = &summary
				}
			}
			all = append(all, rec)
		}
	}
	start := (page - 1) * pageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(all)), nil
}

func (r memTransactions) ListStalePending(_ context.Context, olderThan time.Time) ([]domain.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WalletTransaction
	for _, t := range r.txs {
		if t.Type == domain.TransactionTypeFunding && t.Status == domain.TransactionStatusPending && t.CreatedAt.Before(olderThan) {
			out = append(out, *t)
		}
	}
	return out, nil
}

// ---- allocations ----

type memAllocations struct{ *memStore }

func (r memAllocations) Create(_ context.Context, tx pgx.Tx, a *domain.CreditAllocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.allocations[a.ID] = &cp
	onRollback(tx, func() { delete(r.allocations, cp.ID) })
	return nil
}

func (r memAllocations) GetByID(_ context.Context, id uuid.UUID) (*domain.CreditAllocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.allocations[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (r memAllocations) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.CreditAllocation, error) {
	asMemTx(tx).lock("allocation:" + id.String())
	return r.GetByID(ctx, id)
}

func (r memAllocations) Exhausted(_ context.Context, _ pgx.Tx, id uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	txs := make([]domain.WalletTransaction, 0, len(r.txs))
	for _, t := range r.txs {
		txs = append(txs, *t)
	}
	return domain.Exhausted(id, txs), nil
}

func (r memAllocations) UpdateStatus(_ context.Context, tx pgx.Tx, id uuid.UUID, status domain.AllocationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.allocations[id]
	if !ok {
		return fmt.Errorf("allocation %s not found", id)
	}
	prev := a.Status
	a.Status = status
	onRollback(tx, func() { a.Status = prev })
	return nil
}

// ---- publications, broadcasts, campaigns ----

type memPublications struct{ *memStore }

func (r memPublications) Create(_ context.Context, tx pgx.Tx, p *domain.CampaignPublication) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.publications[p.ID] = &cp
	onRollback(tx, func() { delete(r.publications, cp.ID) })
	return nil
}

func (r memPublications) GetByID(_ context.Context, id uuid.UUID) (*domain.CampaignPublication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.publications[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (r memPublications) ListByCampaign(_ context.Context, campaignID int64) ([]domain.PublicationSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	txs := make([]domain.WalletTransaction, 0, len(r.txs))
	for _, t := range r.txs {
		txs = append(txs, *t)
	}
	var out []domain.PublicationSummary
	for _, p := range r.publications {
		if p.CampaignID != campaignID || p.RemovedAt != nil {
			continue
		}
		a := r.allocations[p.CreditAllocationID]
		out = append(out, domain.PublicationSummary{
			CampaignPublication: *p,
			AllocationStatus:    a.Status,
			Allocated:           a.Allocated,
			Exhausted:           domain.Exhausted(a.ID, txs),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memPublications) RemoveByAllocation(_ context.Context, tx pgx.Tx, allocationID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.publications {
		if p.CreditAllocationID == allocationID && p.RemovedAt == nil {
			p.RemovedAt = &at
			pub := p
			onRollback(tx, func() { pub.RemovedAt = nil })
		}
	}
	return nil
}

func (r memPublications) CreateBroadcasts(_ context.Context, broadcasts []domain.PublicationBroadcast) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range broadcasts {
		dup := false
		for _, existing := range r.broadcasts {
			if existing.PublicationID == b.PublicationID && existing.ConnectionID == b.ConnectionID {
				dup = true
				break
			}
		}
		if !dup {
			cp := b
			r.broadcasts[b.ID] = &cp
		}
	}
	return nil
}

func (r memPublications) GetBroadcast(_ context.Context, id uuid.UUID) (*domain.PublicationBroadcast, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.broadcasts[id]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, nil
}

func (r memPublications) MarkBroadcastsSent(_ context.Context, ids []uuid.UUID, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		if b, ok := r.broadcasts[id]; ok && b.SentAt == nil {
			b.SentAt = &at
			n++
		}
	}
	return n, nil
}

type memCampaigns struct{ *memStore }

func (r memCampaigns) GetByID(_ context.Context, id int64) (*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[id]; ok && c.DeletedAt == nil {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

// ---- views & grants ----

type memViews struct{ *memStore }

func (r memViews) Upsert(_ context.Context, tx pgx.Tx, v *domain.BroadcastView) (*domain.BroadcastView, error) {
	key := v.BroadcastID.String() + "|" + v.IP + "|" + v.DeviceHash
	asMemTx(tx).lock("view:" + key)
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.views[key]; ok {
		prev := *existing
		existing.ClickCount++
		existing.ViewedAt = v.ViewedAt
		onRollback(tx, func() { *existing = prev })
		cp := *existing
		return &cp, nil
	}
	cp := *v
	cp.ClickCount = 1
	r.views[key] = &cp
	onRollback(tx, func() { delete(r.views, key) })
	out := cp
	return &out, nil
}

func (r memViews) GetSettlementContext(_ context.Context, _ pgx.Tx, viewID uuid.UUID) (*domain.SettlementContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var view *domain.BroadcastView
	for _, v := range r.views {
		if v.ID == viewID {
			view = v
			break
		}
	}
	if view == nil {
		return nil, nil
	}
	b := r.broadcasts[view.BroadcastID]
	p := r.publications[b.PublicationID]
	sc := &domain.SettlementContext{
		ViewID:             view.ID,
		BroadcastID:        b.ID,
		PublicationID:      p.ID,
		PublicationRemoved: p.RemovedAt != nil,
	}
	if a, ok := r.allocations[p.CreditAllocationID]; ok {
		sc.AllocationID = &a.ID
		if w, ok := r.wallets[a.WalletID]; ok {
			sc.SourceWalletID, sc.SourceOwnerID = &w.ID, &w.OwnerID
		}
	}
	if owner, ok := r.connections[b.ConnectionID]; ok {
		connID := b.ConnectionID
		sc.ConnectionID = &connID
		for _, w := range r.wallets {
			if w.OwnerID == owner {
				sc.DestinationWalletID, sc.DestinationOwnerID = &w.ID, &w.OwnerID
			}
		}
	}
	if c, ok := r.campaigns[p.CampaignID]; ok && c.DeletedAt == nil {
		sc.CampaignID, sc.CampaignOwnerID = &c.ID, &c.OwnerID
	}
	return sc, nil
}

type memGrants struct{ *memStore }

func (r memGrants) Create(_ context.Context, tx pgx.Tx, g *domain.RewardGrant) (bool, error) {
	asMemTx(tx).lock("grant:" + g.BroadcastViewID.String())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.grants[g.BroadcastViewID]; ok {
		return false, nil
	}
	cp := *g
	r.grants[g.BroadcastViewID] = &cp
	onRollback(tx, func() { delete(r.grants, cp.BroadcastViewID) })
	return true, nil
}

func (r memGrants) GetByViewForUpdate(_ context.Context, tx pgx.Tx, viewID uuid.UUID) (*domain.RewardGrant, error) {
	asMemTx(tx).lock("grant:" + viewID.String())
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.grants[viewID]; ok {
		cp := *g
		return &cp, nil
	}
	return nil, nil
}

func (r memGrants) Update(_ context.Context, tx pgx.Tx, g *domain.RewardGrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.grants[g.BroadcastViewID]
	if !ok {
		return fmt.Errorf("grant for view %s not found", g.BroadcastViewID)
	}
	prev := *existing
	*existing = *g
	onRollback(tx, func() { *existing = prev })
	return nil
}

func (r memGrants) ListStalePending(_ context.Context, olderThan time.Time) ([]domain.RewardGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RewardGrant
	for _, g := range r.grants {
		if g.Status == domain.GrantStatusPending && g.CreatedAt.Before(olderThan) {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---- payments & balances ----

type memPayments struct{ *memStore }

func (r memPayments) Upsert(_ context.Context, p *domain.PaymentTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.payments {
		if existing.Provider == p.Provider && existing.ExternalID == p.ExternalID {
			p.ID = existing.ID
			break
		}
	}
	cp := *p
	r.payments[p.ID] = &cp
	return nil
}

func (r memPayments) GetByID(_ context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.payments[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

type memBalances struct{ *memStore }

func (r memBalances) GetBalances(_ context.Context, walletID uuid.UUID) (*domain.Balances, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.wallets[walletID]; !ok {
		return nil, nil
	}
	b := r.projectLocked(walletID)
	return &b, nil
}

func (r memBalances) GetFundingBalance(_ context.Context, _ pgx.Tx, walletID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.projectLocked(walletID).Funding, nil
}

// ---- events & metrics ----

type recordingPublisher struct {
	mu        sync.Mutex
	balances  []domain.BalanceChanged
	rewards   []domain.RewardGranted
	payments  []domain.PaymentUpdated
	rewardErr error
}

func (p *recordingPublisher) PublishBalanceChanged(_ context.Context, e domain.BalanceChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances = append(p.balances, e)
	return nil
}

func (p *recordingPublisher) PublishRewardGranted(_ context.Context, e domain.RewardGranted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rewardErr != nil {
		return p.rewardErr
	}
	p.rewards = append(p.rewards, e)
	return nil
}

func (p *recordingPublisher) PublishPaymentUpdated(_ context.Context, e domain.PaymentUpdated) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payments = append(p.payments, e)
	return nil
}

// failRewards makes PublishRewardGranted return err until called with nil.
func (p *recordingPublisher) failRewards(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rewardErr = err
}

func (p *recordingPublisher) rewardEvents() []domain.RewardGranted {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.RewardGranted(nil), p.rewards...)
}

type nopMetrics struct{}

func (nopMetrics) ReservationRecorded(string) {}
func (nopMetrics) SettlementRecorded(string)  {}
func (nopMetrics) ViewRecorded(bool)          {}
func (nopMetrics) PendingFunding(int)         {}

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"orderapi/internal/domain/model"
	repo "orderapi/internal/repository"
)

// Store は DB を使わない実装（STORAGE_DRIVER=memory とテスト用）。
// 行ロックは商品ごとの容量1チャネル、Tx の書き込みは commit まで手元に溜める。
type Store struct {
	mu          sync.RWMutex
	products    map[int64]model.Product
	orders      []model.Order
	adjustments []model.InventoryAdjustment

	productSeq atomic.Int64
	orderSeq   atomic.Int64
	adjSeq     atomic.Int64

	locksMu sync.Mutex
	locks   map[int64]*rowLock

	lockTimeout time.Duration
}

// lockTimeout が 0 ならロック待ちは ctx が切れるまで
func NewStore(lockTimeout time.Duration) *Store {
	return &Store{
		products:    make(map[int64]model.Product),
		locks:       make(map[int64]*rowLock),
		lockTimeout: lockTimeout,
	}
}

// Tx 外（autocommit）で使うリポジトリ
func (s *Store) Products() repo.ProductRepository    { return &productRepo{st: s} }
func (s *Store) Orders() repo.OrderRepository        { return &orderRepo{st: s} }
func (s *Store) Inventory() repo.InventoryRepository { return &inventoryRepo{st: s} }

func (s *Store) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	tx := newTxState(s)
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return tx.commit()
}

// 行ロック。refs は保持中と待ち中の数で、0 になったら map から消す
type rowLock struct {
	ch   chan struct{}
	refs int
}

func (s *Store) acquire(ctx context.Context, id int64) error {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &rowLock{ch: make(chan struct{}, 1)}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	if s.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		s.unref(id, l)
		return fmt.Errorf("%w: product %d: %v", repo.ErrLockTimeout, id, ctx.Err())
	}
}

func (s *Store) release(id int64) {
	s.locksMu.Lock()
	l := s.locks[id]
	s.locksMu.Unlock()
	<-l.ch
	s.unref(id, l)
}

func (s *Store) unref(id int64, l *rowLock) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, id)
	}
}

// --- state（autocommit 側）---

func (s *Store) getProduct(id int64) (model.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	return p, ok
}

func (s *Store) allProducts() []model.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sortProducts(out)
	return out
}

func (s *Store) productByProductID(productID int64) (model.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.products {
		if p.ProductID == productID {
			return p, true
		}
	}
	return model.Product{}, false
}

func (s *Store) putProduct(p model.Product) (model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p = s.stampProduct(p)
	if s.duplicateLocked(p) {
		return model.Product{}, repo.ErrDuplicate
	}
	s.products[p.ID] = p
	return p, nil
}

func (s *Store) deleteProduct(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return repo.ErrNotFound
	}
	if s.referencedLocked(id) {
		return repo.ErrInUse
	}
	delete(s.products, id)
	return nil
}

// autocommit の FOR UPDATE は取ってすぐ離す（実行中の Tx を待つだけ）
func (s *Store) lock(ctx context.Context, id int64) error {
	if err := s.acquire(ctx, id); err != nil {
		return err
	}
	s.release(id)
	return nil
}

func (s *Store) addOrder(o model.Order) model.Order {
	o = s.stampOrder(o)
	s.mu.Lock()
	s.orders = append(s.orders, withoutProduct(o))
	s.mu.Unlock()
	return o
}

func (s *Store) listOrders() []model.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Order, len(s.orders))
	copy(out, s.orders)
	return out
}

func (s *Store) addAdjustment(a model.InventoryAdjustment) {
	a = s.stampAdjustment(a)
	s.mu.Lock()
	s.adjustments = append(s.adjustments, a)
	s.mu.Unlock()
}

func (s *Store) listAdjustments() []model.InventoryAdjustment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.InventoryAdjustment, len(s.adjustments))
	copy(out, s.adjustments)
	return out
}

// --- helpers ---

func (s *Store) stampProduct(p model.Product) model.Product {
	now := time.Now()
	if p.ID == 0 {
		p.ID = s.productSeq.Add(1)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return p
}

// 採番は rollback しても戻らない（DB のシーケンスと同じ）
func (s *Store) stampOrder(o model.Order) model.Order {
	o.ID = s.orderSeq.Add(1)
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	return o
}

func (s *Store) stampAdjustment(a model.InventoryAdjustment) model.InventoryAdjustment {
	a.ID = s.adjSeq.Add(1)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	return a
}

// mu を持った状態で呼ぶ
func (s *Store) duplicateLocked(p model.Product) bool {
	for id, other := range s.products {
		if id != p.ID && other.ProductID == p.ProductID {
			return true
		}
	}
	return false
}

// mu を持った状態で呼ぶ
func (s *Store) referencedLocked(productRefID int64) bool {
	for _, o := range s.orders {
		if o.ProductRefID == productRefID {
			return true
		}
	}
	return false
}

func sortProducts(ps []model.Product) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].ProductID < ps[j].ProductID })
}

func withoutProduct(o model.Order) model.Order {
	o.Product = model.Product{}
	return o
}

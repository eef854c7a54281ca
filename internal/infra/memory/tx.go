package memory

import (
	"context"

	"orderapi/internal/domain/model"
	repo "orderapi/internal/repository"
)

// Store と txState の共通部分。リポジトリはこれ越しに読み書きする。
type state interface {
	getProduct(id int64) (model.Product, bool)
	productByProductID(productID int64) (model.Product, bool)
	allProducts() []model.Product
	putProduct(p model.Product) (model.Product, error)
	deleteProduct(id int64) error
	lock(ctx context.Context, id int64) error
	addOrder(o model.Order) model.Order
	listOrders() []model.Order
	addAdjustment(a model.InventoryAdjustment)
	listAdjustments() []model.InventoryAdjustment
}

type txState struct {
	s *Store

	products map[int64]model.Product
	deleted  map[int64]bool
	orders   []model.Order
	adjs     []model.InventoryAdjustment

	held    []int64
	heldSet map[int64]bool
}

func newTxState(s *Store) *txState {
	return &txState{
		s:        s,
		products: make(map[int64]model.Product),
		deleted:  make(map[int64]bool),
		heldSet:  make(map[int64]bool),
	}
}

func (t *txState) Products() repo.ProductRepository    { return &productRepo{st: t} }
func (t *txState) Orders() repo.OrderRepository        { return &orderRepo{st: t} }
func (t *txState) Inventory() repo.InventoryRepository { return &inventoryRepo{st: t} }

func (t *txState) getProduct(id int64) (model.Product, bool) {
	if t.deleted[id] {
		return model.Product{}, false
	}
	if p, ok := t.products[id]; ok {
		return p, true
	}
	return t.s.getProduct(id)
}

func (t *txState) allProducts() []model.Product {
	base := t.s.allProducts()
	out := make([]model.Product, 0, len(base)+len(t.products))
	seen := make(map[int64]bool, len(base))

	for _, p := range base {
		seen[p.ID] = true
		if t.deleted[p.ID] {
			continue
		}
		if staged, ok := t.products[p.ID]; ok {
			p = staged
		}
		out = append(out, p)
	}
	for id, p := range t.products {
		if !seen[id] && !t.deleted[id] {
			out = append(out, p)
		}
	}
	sortProducts(out)
	return out
}

func (t *txState) productByProductID(productID int64) (model.Product, bool) {
	for _, p := range t.allProducts() {
		if p.ProductID == productID {
			return p, true
		}
	}
	return model.Product{}, false
}

func (t *txState) putProduct(p model.Product) (model.Product, error) {
	p = t.s.stampProduct(p)
	for _, other := range t.allProducts() {
		if other.ID != p.ID && other.ProductID == p.ProductID {
			return model.Product{}, repo.ErrDuplicate
		}
	}
	t.products[p.ID] = p
	return p, nil
}

func (t *txState) deleteProduct(id int64) error {
	if _, ok := t.getProduct(id); !ok {
		return repo.ErrNotFound
	}
	for _, o := range t.listOrders() {
		if o.ProductRefID == id {
			return repo.ErrInUse
		}
	}
	t.deleted[id] = true
	delete(t.products, id)
	return nil
}

// 同じ Tx で2回目のロックは何もしない
func (t *txState) lock(ctx context.Context, id int64) error {
	if t.heldSet[id] {
		return nil
	}
	if err := t.s.acquire(ctx, id); err != nil {
		return err
	}
	t.heldSet[id] = true
	t.held = append(t.held, id)
	return nil
}

func (t *txState) addOrder(o model.Order) model.Order {
	o = t.s.stampOrder(o)
	t.orders = append(t.orders, withoutProduct(o))
	return o
}

func (t *txState) listOrders() []model.Order {
	return append(t.s.listOrders(), t.orders...)
}

func (t *txState) addAdjustment(a model.InventoryAdjustment) {
	t.adjs = append(t.adjs, t.s.stampAdjustment(a))
}

func (t *txState) listAdjustments() []model.InventoryAdjustment {
	return append(t.s.listAdjustments(), t.adjs...)
}

// 制約を確認してから反映し、最後にロックを離す
func (t *txState) commit() error {
	defer t.releaseAll()

	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for id := range t.deleted {
		if t.s.referencedLocked(id) {
			return repo.ErrInUse
		}
	}
	for _, p := range t.products {
		for id, other := range t.s.products {
			if id != p.ID && !t.deleted[id] && other.ProductID == p.ProductID {
				return repo.ErrDuplicate
			}
		}
	}

	for id := range t.deleted {
		delete(t.s.products, id)
	}
	for id, p := range t.products {
		t.s.products[id] = p
	}
	t.s.orders = append(t.s.orders, t.orders...)
	t.s.adjustments = append(t.s.adjustments, t.adjs...)
	return nil
}

func (t *txState) rollback() {
	t.releaseAll()
}

func (t *txState) releaseAll() {
	for _, id := range t.held {
		t.s.release(id)
	}
	t.held = nil
	t.heldSet = make(map[int64]bool)
}

package memory

import (
	"context"
	"sort"
	"time"

	"orderapi/internal/domain/model"
	repo "orderapi/internal/repository"
)

type productRepo struct {
	st state
}

func (r *productRepo) List(ctx context.Context) ([]model.Product, error) {
	return r.st.allProducts(), nil
}

func (r *productRepo) FindByID(ctx context.Context, id int64) (model.Product, error) {
	p, ok := r.st.getProduct(id)
	if !ok {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

func (r *productRepo) FindByProductID(ctx context.Context, productID int64) (model.Product, error) {
	p, ok := r.st.productByProductID(productID)
	if !ok {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

func (r *productRepo) FindByProductIDForUpdate(ctx context.Context, productID int64) (model.Product, error) {
	p, ok := r.st.productByProductID(productID)
	if !ok {
		return model.Product{}, repo.ErrNotFound
	}
	if err := r.st.lock(ctx, p.ID); err != nil {
		return model.Product{}, err
	}

	//ロック後に読み直す（待っている間に他の Tx が commit しているかもしれない）
	p, ok = r.st.getProduct(p.ID)
	if !ok || p.ProductID != productID {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

func (r *productRepo) Create(ctx context.Context, p model.Product) (model.Product, error) {
	p.ID = 0
	if p.Stock < 0 {
		return model.Product{}, repo.ErrCheckViolation
	}
	return r.st.putProduct(p)
}

func (r *productRepo) Update(ctx context.Context, p model.Product) error {
	cur, ok := r.st.getProduct(p.ID)
	if !ok {
		return repo.ErrNotFound
	}
	if p.Stock < 0 {
		return repo.ErrCheckViolation
	}
	p.CreatedAt = cur.CreatedAt
	_, err := r.st.putProduct(p)
	return err
}

func (r *productRepo) UpdateStock(ctx context.Context, id int64, stock int64) error {
	cur, ok := r.st.getProduct(id)
	if !ok {
		return repo.ErrNotFound
	}
	//DB の CHECK (stock >= 0) と同じ
	if stock < 0 {
		return repo.ErrCheckViolation
	}
	cur.Stock = stock
	_, err := r.st.putProduct(cur)
	return err
}

func (r *productRepo) Delete(ctx context.Context, id int64) error {
	return r.st.deleteProduct(id)
}

type orderRepo struct {
	st state
}

func (r *orderRepo) Create(ctx context.Context, o model.Order) (model.Order, error) {
	if _, ok := r.st.getProduct(o.ProductRefID); !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return r.st.addOrder(o), nil
}

func (r *orderRepo) ListByCreatedRange(ctx context.Context, from, to time.Time) ([]model.Order, error) {
	out := []model.Order{}
	for _, o := range r.st.listOrders() {
		if o.CreatedAt.Before(from) || !o.CreatedAt.Before(to) {
			continue
		}
		//Preload 相当
		if p, ok := r.st.getProduct(o.ProductRefID); ok {
			o.Product = p
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type inventoryRepo struct {
	st state
}

func (r *inventoryRepo) CreateAdjustment(ctx context.Context, adj model.InventoryAdjustment) error {
	r.st.addAdjustment(adj)
	return nil
}

func (r *inventoryRepo) ListAdjustments(ctx context.Context, productRefID int64) ([]model.InventoryAdjustment, error) {
	out := []model.InventoryAdjustment{}
	for _, a := range r.st.listAdjustments() {
		if a.ProductRefID == productRefID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/ledger"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
)

const defaultHistoryLimit = 100

// ListProducts returns the catalog with stock on hand at storeID.
func (s *Service) ListProducts(ctx context.Context, storeID string) ([]domain.ProductView, error) {
	storeID = defaultString(storeID, s.defaultStoreID)
	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]domain.ProductView, 0, len(products))
	for _, product := range products {
		level, err := s.repo.GetStockLevel(ctx, storeID, product.SKU)
		if err != nil && !isNotFound(err) {
			return nil, err
		}
		views = append(views, productView(product, level, storeID, settings.TaxRatePercent))
	}
	return views, nil
}

func (s *Service) GetProduct(ctx context.Context, storeID string, sku string) (domain.ProductView, error) {
	storeID = defaultString(storeID, s.defaultStoreID)
	sku = strings.ToUpper(strings.TrimSpace(sku))
	settings, err := s.Settings(ctx)
	if err != nil {
		return domain.ProductView{}, err
	}
	product, err := s.repo.GetProduct(ctx, sku)
	if err != nil {
		return domain.ProductView{}, err
	}
	level, err := s.repo.GetStockLevel(ctx, storeID, sku)
	if err != nil && !isNotFound(err) {
		return domain.ProductView{}, err
	}
	return productView(*product, level, storeID, settings.TaxRatePercent), nil
}

// CreateProduct adds a catalog entry and posts its opening stock as an
// initial_stock movement in the same unit.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.ProductView, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.ProductView{}, err
	}
	req.StoreID = defaultString(req.StoreID, s.defaultStoreID)
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.SKU == "" || req.Name == "" {
		return domain.ProductView{}, fmt.Errorf("%w: sku and name are required", store.ErrInvalidTransaction)
	}
	if req.PriceCents < 1 || req.UnitCostCents < 0 || req.InitialStock < 0 {
		return domain.ProductView{}, fmt.Errorf("%w: price must be positive and cost and stock not negative", store.ErrInvalidTransaction)
	}
	if req.TaxRatePercent != nil && (*req.TaxRatePercent < 0 || *req.TaxRatePercent > 100) {
		return domain.ProductView{}, fmt.Errorf("%w: tax rate must be between 0 and 100", store.ErrInvalidTransaction)
	}

	settings, err := s.Settings(ctx)
	if err != nil {
		return domain.ProductView{}, err
	}
	reorder := settings.DefaultReorderLevel
	if req.ReorderLevel != nil {
		if *req.ReorderLevel < 0 {
			return domain.ProductView{}, fmt.Errorf("%w: reorder level must not be negative", store.ErrInvalidTransaction)
		}
		reorder = *req.ReorderLevel
	}

	product := domain.Product{
		SKU:            req.SKU,
		Name:           req.Name,
		Category:       req.Category,
		PriceCents:     req.PriceCents,
		TaxRatePercent: req.TaxRatePercent,
		UnitCostCents:  req.UnitCostCents,
		ReorderLevel:   reorder,
		Active:         true,
		CreatedAt:      s.now(),
	}
	var level domain.StockLevel
	err = s.ledger.RunAtomic(ctx, func(tx store.Tx) error {
		if err := tx.InsertProduct(ctx, product); err != nil {
			return err
		}
		if req.InitialStock == 0 {
			level = domain.StockLevel{StoreID: req.StoreID, SKU: product.SKU, ReorderLevel: reorder}
			return nil
		}
		var cost *int64
		if product.UnitCostCents > 0 {
			c := product.UnitCostCents
			cost = &c
		}
		entries, err := s.ledger.ApplyTx(ctx, tx, ledger.Movement{
			StoreID:       req.StoreID,
			SKU:           product.SKU,
			Type:          domain.MovementInitialStock,
			Delta:         req.InitialStock,
			ReferenceType: domain.RefTypeProduct,
			ReferenceID:   product.SKU,
			UnitCostCents: cost,
			Actor:         actor.Username,
			Notes:         "opening stock",
		})
		if err != nil {
			return err
		}
		level = domain.StockLevel{
			StoreID:      req.StoreID,
			SKU:          product.SKU,
			OnHand:       entries[0].QuantityAfter,
			ReorderLevel: reorder,
			LowStock:     entries[0].QuantityAfter <= reorder,
		}
		return nil
	})
	if err != nil {
		return domain.ProductView{}, err
	}

	s.logAudit(ctx, req.StoreID, "product_create", "product", product.SKU,
		fmt.Sprintf("name=%s,price=%d,stock=%d", product.Name, product.PriceCents, req.InitialStock))
	return productView(product, level, req.StoreID, settings.TaxRatePercent), nil
}

func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustmentRequest) (domain.StockMovement, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.StockMovement{}, err
	}
	req.StoreID = defaultString(req.StoreID, s.defaultStoreID)
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))

	entry, err := s.ledger.Adjust(ctx, req, actor.Username)
	if err != nil {
		return domain.StockMovement{}, err
	}
	s.logAudit(ctx, req.StoreID, "stock_adjust", "product", entry.SKU,
		fmt.Sprintf("type=%s,delta=%d,after=%d", entry.Type, entry.Delta, entry.QuantityAfter))
	return entry, nil
}

func (s *Service) TransferStock(ctx context.Context, req domain.StockTransferRequest) ([]domain.StockMovement, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	req.FromStoreID = strings.TrimSpace(req.FromStoreID)
	req.ToStoreID = strings.TrimSpace(req.ToStoreID)
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))

	entries, err := s.ledger.Transfer(ctx, req, actor.Username)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, req.FromStoreID, "stock_transfer", "product", req.SKU,
		fmt.Sprintf("to=%s,qty=%d", req.ToStoreID, req.Qty))
	return entries, nil
}

// CountStock records a physical count; only differences are posted.
func (s *Service) CountStock(ctx context.Context, req domain.StockCountRequest) (domain.StockCountResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.StockCountResponse{}, err
	}
	req.StoreID = defaultString(req.StoreID, s.defaultStoreID)
	for i := range req.Items {
		req.Items[i].SKU = strings.ToUpper(strings.TrimSpace(req.Items[i].SKU))
	}

	resp, err := s.ledger.Recount(ctx, req, actor.Username)
	if err != nil {
		return domain.StockCountResponse{}, err
	}
	s.logAudit(ctx, req.StoreID, "stock_count", "stock_count", resp.CountID,
		fmt.Sprintf("items=%d,corrections=%d", len(req.Items), len(resp.Movements)))
	return resp, nil
}

func (s *Service) StockMovements(ctx context.Context, storeID string, sku string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	return s.ledger.History(ctx, defaultString(storeID, s.defaultStoreID), strings.ToUpper(strings.TrimSpace(sku)), limit)
}

func (s *Service) LowStock(ctx context.Context, storeID string) ([]domain.StockLevel, error) {
	return s.ledger.LowStock(ctx, defaultString(storeID, s.defaultStoreID))
}

func productView(product domain.Product, level domain.StockLevel, storeID string, defaultRate float64) domain.ProductView {
	rate := defaultRate
	if product.TaxRatePercent != nil {
		rate = *product.TaxRatePercent
	}
	return domain.ProductView{
		Product:          product,
		StoreID:          storeID,
		StockOnHand:      level.OnHand,
		LowStock:         level.LowStock,
		EffectiveTaxRate: rate,
	}
}

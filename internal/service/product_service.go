package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/verilians/VeriPharm-sub000/internal/dto"
	"github.com/verilians/VeriPharm-sub000/internal/model"
	"github.com/verilians/VeriPharm-sub000/internal/repository"
)

// ProductService defines the business logic contract for the catalog.
type ProductService interface {
	Create(ctx context.Context, branchID uuid.UUID, req dto.CreateProductRequest) (*dto.ProductResponse, error)
	GetByID(ctx context.Context, id uuid.UUID) (*dto.ProductResponse, error)
	GetByBarcode(ctx context.Context, barcode string) (*dto.ProductResponse, error)
	List(ctx context.Context, branchID uuid.UUID, filter dto.ProductFilter) (*dto.ProductListResponse, error)
	Update(ctx context.Context, id uuid.UUID, req dto.UpdateProductRequest) (*dto.ProductResponse, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	// AdjustStock applies a signed manual delta and records the movement.
	AdjustStock(ctx context.Context, actorID, id uuid.UUID, req dto.AdjustStockRequest) (*dto.ProductResponse, error)
	ListMovements(ctx context.Context, filter repository.StockMovementFilter) (*dto.StockMovementListResponse, error)
}

type productService struct {
	repo      repository.ProductRepository
	movements repository.StockMovementRepository
}

func NewProductService(repo repository.ProductRepository, movements repository.StockMovementRepository) ProductService {
	return &productService{repo: repo, movements: movements}
}

func (s *productService) Create(ctx context.Context, branchID uuid.UUID, req dto.CreateProductRequest) (*dto.ProductResponse, error) {
	minStock := 5
	if req.MinStock != nil {
		minStock = *req.MinStock
	}
	p := &model.Product{
		BranchID:  branchID,
		Barcode:   req.Barcode,
		Name:      req.Name,
		Category:  req.Category,
		CostPrice: req.CostPrice,
		SalePrice: req.SalePrice,
		Quantity:  req.Quantity,
		MinStock:  minStock,
		Active:    true,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return productToResponse(p), nil
}

func (s *productService) GetByID(ctx context.Context, id uuid.UUID) (*dto.ProductResponse, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return productToResponse(p), nil
}

func (s *productService) GetByBarcode(ctx context.Context, barcode string) (*dto.ProductResponse, error) {
	p, err := s.repo.FindByBarcode(ctx, barcode)
	if err != nil {
		return nil, err
	}
	return productToResponse(p), nil
}

func (s *productService) List(ctx context.Context, branchID uuid.UUID, filter dto.ProductFilter) (*dto.ProductListResponse, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = 50
	}
	products, total, err := s.repo.List(ctx, branchID, filter)
	if err != nil {
		return nil, err
	}
	data := make([]dto.ProductResponse, 0, len(products))
	for i := range products {
		data = append(data, *productToResponse(&products[i]))
	}
	return &dto.ProductListResponse{Data: data, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

func (s *productService) Update(ctx context.Context, id uuid.UUID, req dto.UpdateProductRequest) (*dto.ProductResponse, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, errors.New("product not found")
	}
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Category != nil {
		p.Category = *req.Category
	}
	if req.CostPrice != nil {
		p.CostPrice = *req.CostPrice
	}
	if req.SalePrice != nil {
		p.SalePrice = *req.SalePrice
	}
	if req.MinStock != nil {
		p.MinStock = *req.MinStock
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return productToResponse(p), nil
}

func (s *productService) Deactivate(ctx context.Context, id uuid.UUID) error {
	return s.repo.SoftDelete(ctx, id)
}

func (s *productService) AdjustStock(ctx context.Context, actorID, id uuid.UUID, req dto.AdjustStockRequest) (*dto.ProductResponse, error) {
	before, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, errors.New("product not found")
	}
	if before.Quantity+req.Delta < 0 {
		return nil, fmt.Errorf("adjustment would leave negative stock (current %d, delta %d)", before.Quantity, req.Delta)
	}
	if err := s.repo.AdjustQuantity(ctx, id, req.Delta); err != nil {
		return nil, err
	}

	mov := &model.StockMovement{
		ProductID:        id,
		Type:             "manual_adjust",
		Quantity:         req.Delta,
		PreviousQuantity: before.Quantity,
		NewQuantity:      before.Quantity + req.Delta,
		Reason:           req.Reason,
		CreatedBy:        &actorID,
	}
	if err := s.movements.Create(ctx, mov); err != nil {
		return nil, err
	}

	after, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return productToResponse(after), nil
}

func (s *productService) ListMovements(ctx context.Context, filter repository.StockMovementFilter) (*dto.StockMovementListResponse, error) {
	movements, total, err := s.movements.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	data := make([]dto.StockMovementResponse, 0, len(movements))
	for i := range movements {
		data = append(data, movementToResponse(&movements[i]))
	}
	return &dto.StockMovementListResponse{Data: data, Total: total, Page: page, Limit: limit}, nil
}

func productToResponse(p *model.Product) *dto.ProductResponse {
	return &dto.ProductResponse{
		ID:        p.ID.String(),
		BranchID:  p.BranchID.String(),
		Barcode:   p.Barcode,
		Name:      p.Name,
		Category:  p.Category,
		CostPrice: p.CostPrice,
		SalePrice: p.SalePrice,
		Quantity:  p.Quantity,
		MinStock:  p.MinStock,
		Active:    p.Active,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
}

func movementToResponse(m *model.StockMovement) dto.StockMovementResponse {
	resp := dto.StockMovementResponse{
		ID:               m.ID.String(),
		ProductID:        m.ProductID.String(),
		Type:             m.Type,
		Quantity:         m.Quantity,
		PreviousQuantity: m.PreviousQuantity,
		NewQuantity:      m.NewQuantity,
		Reason:           m.Reason,
		CreatedAt:        m.CreatedAt.Format(time.RFC3339),
	}
	if m.Product != nil {
		resp.ProductName = m.Product.Name
	}
	if m.ReferenceID != nil {
		v := m.ReferenceID.String()
		resp.ReferenceID = &v
	}
	return resp
}

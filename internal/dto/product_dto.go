package dto

import "github.com/shopspring/decimal"

type CreateProductRequest struct {
	Barcode   string          `json:"barcode" validate:"required"`
	Name      string          `json:"name" validate:"required"`
	Category  string          `json:"category" validate:"required"`
	CostPrice decimal.Decimal `json:"cost_price" validate:"min=0"`
	SalePrice decimal.Decimal `json:"sale_price" validate:"min=0"`
	Quantity  int             `json:"quantity" validate:"min=0"`
	MinStock  *int            `json:"min_stock" validate:"omitempty,min=0"`
}

type UpdateProductRequest struct {
	Name      *string          `json:"name"`
	Category  *string          `json:"category"`
	CostPrice *decimal.Decimal `json:"cost_price" validate:"omitempty,min=0"`
	SalePrice *decimal.Decimal `json:"sale_price" validate:"omitempty,min=0"`
	MinStock  *int             `json:"min_stock" validate:"omitempty,min=0"`
}

type AdjustStockRequest struct {
	Delta  int    `json:"delta" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

type ProductFilter struct {
	Barcode  string `form:"barcode"`
	Name     string `form:"name"`
	Category string `form:"category"`
	Active   string `form:"active"` // "false" | "all" | default: active only
	Page     int    `form:"page"`
	Limit    int    `form:"limit"`
}

type ProductResponse struct {
	ID        string          `json:"id"`
	BranchID  string          `json:"branch_id"`
	Barcode   string          `json:"barcode"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	CostPrice decimal.Decimal `json:"cost_price"`
	SalePrice decimal.Decimal `json:"sale_price"`
	Quantity  int             `json:"quantity"`
	MinStock  int             `json:"min_stock"`
	Active    bool            `json:"active"`
	CreatedAt string          `json:"created_at"`
}

type ProductListResponse struct {
	Data  []ProductResponse `json:"data"`
	Total int64             `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

type StockMovementResponse struct {
	ID               string  `json:"id"`
	ProductID        string  `json:"product_id"`
	ProductName      string  `json:"product_name"`
	Type             string  `json:"type"`
	Quantity         int     `json:"quantity"`
	PreviousQuantity int     `json:"previous_quantity"`
	NewQuantity      int     `json:"new_quantity"`
	Reason           string  `json:"reason"`
	ReferenceID      *string `json:"reference_id"`
	CreatedAt        string  `json:"created_at"`
}

type StockMovementListResponse struct {
	Data  []StockMovementResponse `json:"data"`
	Total int64                   `json:"total"`
	Page  int                     `json:"page"`
	Limit int                     `json:"limit"`
}

// PriceCheckResponse serves the public, unauthenticated price endpoint.
type PriceCheckResponse struct {
	Name           string          `json:"name"`
	SalePrice      decimal.Decimal `json:"sale_price"`
	StockAvailable int             `json:"stock_available"`
	Category       string          `json:"category"`
}

package service_test

import (
	"testing"

	"github.com/verilians/VeriPharm-sub000/internal/model"
	"github.com/verilians/VeriPharm-sub000/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestItemVariance(t *testing.T) {
	assert.Equal(t, 0, service.ItemVariance(50, nil), "unset count contributes no variance")
	assert.Equal(t, 0, service.ItemVariance(50, intPtr(50)))
	assert.Equal(t, -3, service.ItemVariance(50, intPtr(47)))
	assert.Equal(t, 5, service.ItemVariance(10, intPtr(15)))
	assert.Equal(t, -50, service.ItemVariance(50, intPtr(0)), "counted zero is a real variance, not unset")
}

func TestItemStatus_Boundary(t *testing.T) {
	const threshold = 10

	assert.Equal(t, model.ItemStatusPending, service.ItemStatus(50, nil, threshold))
	assert.Equal(t, model.ItemStatusMatched, service.ItemStatus(50, intPtr(50), threshold))

	// Exactly ±threshold is still "variance"; one unit beyond is critical.
	assert.Equal(t, model.ItemStatusVariance, service.ItemStatus(50, intPtr(60), threshold))
	assert.Equal(t, model.ItemStatusCritical, service.ItemStatus(50, intPtr(61), threshold))
	assert.Equal(t, model.ItemStatusVariance, service.ItemStatus(50, intPtr(40), threshold))
	assert.Equal(t, model.ItemStatusCritical, service.ItemStatus(50, intPtr(39), threshold))

	assert.Equal(t, model.ItemStatusVariance, service.ItemStatus(50, intPtr(49), threshold))
}

func TestItemValueImpact_Signed(t *testing.T) {
	price := decimal.NewFromFloat(12.50)

	surplus := service.ItemValueImpact(10, intPtr(14), price)
	assert.True(t, surplus.Equal(decimal.NewFromFloat(50.00)), "got %s", surplus)

	shortage := service.ItemValueImpact(10, intPtr(7), price)
	assert.True(t, shortage.Equal(decimal.NewFromFloat(-37.50)), "got %s", shortage)

	assert.True(t, service.ItemValueImpact(10, intPtr(10), price).IsZero())
	assert.True(t, service.ItemValueImpact(10, nil, price).IsZero())
}

func TestAggregateTotals(t *testing.T) {
	priceA := decimal.NewFromFloat(2.00)
	priceB := decimal.NewFromFloat(5.00)
	items := []model.StockAuditItem{
		{SystemStock: 50, PhysicalCount: intPtr(47), Product: &model.Product{SalePrice: priceA}}, // -3
		{SystemStock: 30, PhysicalCount: intPtr(34), Product: &model.Product{SalePrice: priceB}}, // +4
		{SystemStock: 12, PhysicalCount: nil, Product: &model.Product{SalePrice: priceB}},        // pending
		{SystemStock: 8, PhysicalCount: intPtr(8), Product: &model.Product{SalePrice: priceA}},   // matched
	}

	totals := service.AggregateTotals(items)

	assert.Equal(t, 3, totals.TotalItemsAudited, "pending items never count as audited")
	assert.Equal(t, 7, totals.TotalVariance, "total variance sums absolute values")
	// -3×2.00 + 4×5.00 = 14.00 — value impact stays signed
	assert.True(t, totals.EstimatedValueImpact.Equal(decimal.NewFromFloat(14.00)),
		"got %s", totals.EstimatedValueImpact)
}

func TestAggregateTotals_Empty(t *testing.T) {
	totals := service.AggregateTotals(nil)
	assert.Equal(t, 0, totals.TotalItemsAudited)
	assert.Equal(t, 0, totals.TotalVariance)
	assert.True(t, totals.EstimatedValueImpact.IsZero())
}

func TestAggregateTotals_MissingProductJoin(t *testing.T) {
	// Items loaded without their product still count variance; only the value
	// impact degrades to zero.
	items := []model.StockAuditItem{
		{SystemStock: 20, PhysicalCount: intPtr(15)},
	}
	totals := service.AggregateTotals(items)
	assert.Equal(t, 1, totals.TotalItemsAudited)
	assert.Equal(t, 5, totals.TotalVariance)
	assert.True(t, totals.EstimatedValueImpact.IsZero())
}

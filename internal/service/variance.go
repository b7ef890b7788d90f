package service

import (
	"github.com/shopspring/decimal"

	"github.com/verilians/VeriPharm-sub000/internal/model"
)

// DefaultCriticalThreshold is the absolute variance above which an audit item
// is flagged critical. Overridable via CRITICAL_VARIANCE_THRESHOLD.
const DefaultCriticalThreshold = 10

// ItemVariance returns physical_count − system_stock. An unset physical count
// contributes zero — the item is not-yet-audited, which is distinct from a
// counted zero variance.
func ItemVariance(systemStock int, physicalCount *int) int {
	if physicalCount == nil {
		return 0
	}
	return *physicalCount - systemStock
}

// ItemStatus derives the audit item status from the current
// (system_stock, physical_count) pair. The boundary is exclusive: a variance
// of exactly ±threshold is "variance", one unit beyond is "critical".
func ItemStatus(systemStock int, physicalCount *int, criticalThreshold int) string {
	if physicalCount == nil {
		return model.ItemStatusPending
	}
	v := *physicalCount - systemStock
	switch {
	case v == 0:
		return model.ItemStatusMatched
	case v > criticalThreshold || v < -criticalThreshold:
		return model.ItemStatusCritical
	default:
		return model.ItemStatusVariance
	}
}

// ItemValueImpact returns variance × price, signed: positive means the
// physical count exceeds system stock (surplus).
func ItemValueImpact(systemStock int, physicalCount *int, price decimal.Decimal) decimal.Decimal {
	v := ItemVariance(systemStock, physicalCount)
	if v == 0 {
		return decimal.Zero
	}
	return price.Mul(decimal.NewFromInt(int64(v)))
}

// AuditTotals is the audit-level aggregate written back onto the StockAudit.
type AuditTotals struct {
	TotalItemsAudited    int
	TotalVariance        int
	EstimatedValueImpact decimal.Decimal
}

// priceOf resolves the unit price used for value impact. Items loaded without
// their product join contribute zero value impact but still count variance.
func priceOf(item *model.StockAuditItem) decimal.Decimal {
	if item.Product != nil {
		return item.Product.SalePrice
	}
	return decimal.Zero
}

// AggregateTotals recomputes audit-level totals from the current item set.
// Always a full recompute over every item — there is deliberately no
// incremental path, which keeps the aggregator trivially correct. Item sets
// are bounded by the branch catalog, so the linear pass is cheap.
func AggregateTotals(items []model.StockAuditItem) AuditTotals {
	totals := AuditTotals{EstimatedValueImpact: decimal.Zero}
	for i := range items {
		item := &items[i]
		if item.PhysicalCount == nil {
			continue
		}
		totals.TotalItemsAudited++
		v := ItemVariance(item.SystemStock, item.PhysicalCount)
		if v < 0 {
			totals.TotalVariance += -v
		} else {
			totals.TotalVariance += v
		}
		totals.EstimatedValueImpact = totals.EstimatedValueImpact.
			Add(ItemValueImpact(item.SystemStock, item.PhysicalCount, priceOf(item)))
	}
	return totals
}

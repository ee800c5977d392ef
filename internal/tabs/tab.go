// Package tabs holds multi-tab transaction workspaces: the POS cart and the
// B2B order builder.
package tabs

import (
	"errors"
	"maps"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrTabNotFound     = errors.New("tab not found")
	ErrLineNotFound    = errors.New("line not found")
	ErrTabBusy         = errors.New("tab is submitting")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidPercent  = errors.New("percent must be between 0 and 100")
)

// Kind selects the workspace flavour.
type Kind string

const (
	KindPOS   Kind = "pos"
	KindOrder Kind = "order"
)

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindPOS, KindOrder:
		return Kind(s), true
	}
	return "", false
}

// Status is a tab's commit state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusSubmitting Status = "submitting"
	StatusError      Status = "error"
)

// Line is one cart or order row.
type Line struct {
	Key        string          `json:"key"`
	EntityID   string          `json:"entity_id"`
	Name       string          `json:"name"`
	LotID      string          `json:"lot_id,omitempty"`
	Quantity   int64           `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

func (l *Line) recompute() {
	l.TotalPrice = l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
}

// Item is the input for AddItem.
type Item struct {
	EntityID  string          `json:"entity_id"`
	Name      string          `json:"name"`
	LotID     string          `json:"lot_id,omitempty"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Patch changes selected fields of a line. Nil fields are left alone.
type Patch struct {
	Quantity  *int64           `json:"quantity,omitempty"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	LotID     *string          `json:"lot_id,omitempty"`
}

// Tab is one in-progress transaction.
type Tab struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Kind            Kind              `json:"kind"`
	Lines           []Line            `json:"lines"`
	Party           string            `json:"party,omitempty"`
	WarehouseID     string            `json:"warehouse_id,omitempty"`
	LocationID      string            `json:"location_id,omitempty"`
	PaymentMethod   string            `json:"payment_method,omitempty"`
	Form            map[string]string `json:"form,omitempty"`
	DiscountPercent decimal.Decimal   `json:"discount_percent"`
	TaxPercent      decimal.Decimal   `json:"tax_percent"`
	Status          Status            `json:"status"`
	LastError       string            `json:"last_error,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

func (t *Tab) clone() Tab {
	c := *t
	c.Lines = append([]Line(nil), t.Lines...)
	c.Form = maps.Clone(t.Form)
	return c
}

func (t *Tab) lineIndex(key string) int {
	for i := range t.Lines {
		if t.Lines[i].Key == key {
			return i
		}
	}
	return -1
}

// reset empties a tab in place, keeping its identity.
func (t *Tab) reset() {
	t.Lines = nil
	t.Party = ""
	t.WarehouseID = ""
	t.LocationID = ""
	t.PaymentMethod = ""
	t.Form = nil
	t.DiscountPercent = decimal.Zero
	t.TaxPercent = decimal.Zero
	t.Status = StatusIdle
	t.LastError = ""
}

// Totals are derived from a tab's lines and percentages.
type Totals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxableAmount  decimal.Decimal `json:"taxable_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
}

var hundred = decimal.NewFromInt(100)

// ComputeTotals derives totals for t.
func ComputeTotals(t Tab) Totals {
	sub := decimal.Zero
	for _, l := range t.Lines {
		sub = sub.Add(l.TotalPrice)
	}
	discount := sub.Mul(t.DiscountPercent).Div(hundred)
	taxable := sub.Sub(discount)
	tax := taxable.Mul(t.TaxPercent).Div(hundred)
	return Totals{
		Subtotal:       sub,
		DiscountAmount: discount,
		TaxableAmount:  taxable,
		TaxAmount:      tax,
		TotalAmount:    taxable.Add(tax),
	}
}

func validPercent(p decimal.Decimal) bool {
	return !p.IsNegative() && p.LessThanOrEqual(hundred)
}

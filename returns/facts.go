package returns

import (
	"time"

	"github.com/liamcoop/returns/rules"
	"github.com/shopspring/decimal"
)

// Customer is the buyer of an order
type Customer struct {
	Email    string `json:"email"`
	Country  string `json:"country"`
	Province string `json:"province,omitempty"`
}

// LineItem is one line of an order
type LineItem struct {
	SKU      string          `json:"sku"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// Order is the already-fetched order a return is made against
type Order struct {
	ID       string          `json:"id"`
	Amount   decimal.Decimal `json:"amount"`
	Date     time.Time       `json:"order_date"`
	Items    []LineItem      `json:"items"`
	Customer Customer        `json:"customer"`
}

// Document flattens the order into the keys rules refer to. Derived fields
// (days_since_order) are computed against now.
func (o Order) Document(now time.Time) rules.Document {
	items := make([]any, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, map[string]any{
			"sku":      it.SKU,
			"quantity": it.Quantity,
			"price":    it.Price.InexactFloat64(),
		})
	}

	doc := rules.Document{
		"order_id":     o.ID,
		"order_amount": o.Amount.InexactFloat64(),
		"order_items":  items,
		"customer": map[string]any{
			"email":    o.Customer.Email,
			"country":  o.Customer.Country,
			"province": o.Customer.Province,
		},
	}
	if !o.Date.IsZero() {
		doc["order_date"] = o.Date.UTC().Format(time.RFC3339)
		doc["days_since_order"] = DaysBetween(o.Date, now)
	}
	return doc
}

// DaysBetween counts whole days from since to now, never negative
func DaysBetween(since, now time.Time) int {
	d := now.Sub(since)
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// Request is what the customer asked for when opening the return
type Request struct {
	Reason        string          `json:"reason"`
	ItemsToReturn []string        `json:"items_to_return"`
	RefundAmount  decimal.Decimal `json:"refund_amount"`
	Notes         string          `json:"notes,omitempty"`
}

// Document flattens the request into the keys rules refer to
func (r Request) Document() rules.Document {
	items := make([]any, 0, len(r.ItemsToReturn))
	for _, sku := range r.ItemsToReturn {
		items = append(items, sku)
	}
	return rules.Document{
		"reason":          r.Reason,
		"items_to_return": items,
		"item_count":      len(r.ItemsToReturn),
		"refund_amount":   r.RefundAmount.InexactFloat64(),
		"notes":           r.Notes,
	}
}

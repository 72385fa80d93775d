package returns

import (
	"testing"
	"time"

	"github.com/liamcoop/returns/rules"
	"github.com/shopspring/decimal"
)

func TestOrderDocument(t *testing.T) {
	now := time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)
	order := Order{
		ID:     "o-100",
		Amount: decimal.RequireFromString("150.00"),
		Date:   time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Items: []LineItem{
			{SKU: "SKU-1", Quantity: 2, Price: decimal.RequireFromString("50")},
			{SKU: "SKU-2", Quantity: 1, Price: decimal.RequireFromString("50")},
		},
		Customer: Customer{Email: "a@example.com", Country: "CA", Province: "ON"},
	}

	doc := order.Document(now)

	if doc["order_amount"] != 150.0 {
		t.Errorf("order_amount = %v", doc["order_amount"])
	}
	if doc["days_since_order"] != 30 {
		t.Errorf("days_since_order = %v, want 30", doc["days_since_order"])
	}
	if doc["order_date"] != "2024-03-01T09:00:00Z" {
		t.Errorf("order_date = %v", doc["order_date"])
	}

	ctx := rules.NewContext(doc, nil)
	for path, want := range map[string]any{
		"customer.country":    "CA",
		"customer.province":   "ON",
		"order_items.1.sku":   "SKU-2",
		"order.order_id":      "o-100",
		"order_items.0.price": 50.0,
	} {
		got, ok := ctx.Resolve(path)
		if !ok || got != want {
			t.Errorf("Resolve(%q) = %v, %v; want %v", path, got, ok, want)
		}
	}
}

func TestOrderDocumentWithoutDate(t *testing.T) {
	doc := Order{ID: "o-1"}.Document(time.Now())
	if _, ok := doc["days_since_order"]; ok {
		t.Error("days_since_order should be absent when the order date is unknown")
	}
}

func TestDaysBetween(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	testCases := []struct {
		name string
		now  time.Time
		want int
	}{
		{"same instant", base, 0},
		{"just under a day", base.Add(23 * time.Hour), 0},
		{"one day", base.Add(24 * time.Hour), 1},
		{"clock skew", base.Add(-time.Hour), 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DaysBetween(base, tc.now); got != tc.want {
				t.Errorf("DaysBetween() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRequestDocument(t *testing.T) {
	req := Request{
		Reason:        "defective",
		ItemsToReturn: []string{"SKU-1", "SKU-3"},
		RefundAmount:  decimal.RequireFromString("19.99"),
		Notes:         "screen cracked",
	}

	doc := req.Document()
	if doc["item_count"] != 2 || doc["refund_amount"] != 19.99 || doc["reason"] != "defective" {
		t.Errorf("doc = %v", doc)
	}

	r := &rules.Rule{
		ID:     "r",
		Active: true,
		ConditionGroups: []rules.ConditionGroup{{
			LogicOperator: rules.LogicAnd,
			Conditions: []rules.Condition{
				{Field: "items_to_return", Operator: rules.OpContains, Value: "SKU-3"},
				{Field: "refund_amount", Operator: rules.OpLessThan, Value: 20},
			},
		}},
		Actions: rules.Actions{rules.AutoApprove{}},
	}
	res := rules.NewEvaluator().Evaluate([]*rules.Rule{r}, nil, doc)
	if res.FinalStatus != rules.StatusApproved {
		t.Errorf("FinalStatus = %s, steps = %+v", res.FinalStatus, res.Steps)
	}
}

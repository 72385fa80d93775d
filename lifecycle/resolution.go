package lifecycle

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ResolutionType is the kind of outcome recorded when a return is resolved
type ResolutionType string

const (
	ResolutionRefund      ResolutionType = "refund"
	ResolutionExchange    ResolutionType = "exchange"
	ResolutionStoreCredit ResolutionType = "store_credit"
)

// RefundMethod is how a refund is paid out
type RefundMethod string

const (
	MethodOriginalPayment RefundMethod = "original_payment"
	MethodStoreAccount    RefundMethod = "store_credit_account"
	MethodManual          RefundMethod = "manual"
	MethodCheck           RefundMethod = "check"
)

func (m RefundMethod) valid() bool {
	switch m {
	case MethodOriginalPayment, MethodStoreAccount, MethodManual, MethodCheck:
		return true
	}
	return false
}

// ResolutionStatus tracks asynchronous completion of a resolution
type ResolutionStatus string

const (
	ResolutionPending    ResolutionStatus = "pending"
	ResolutionProcessing ResolutionStatus = "processing"
	ResolutionCompleted  ResolutionStatus = "completed"
	ResolutionFailed     ResolutionStatus = "failed"
)

var resolutionSteps = map[ResolutionStatus][]ResolutionStatus{
	ResolutionPending:    {ResolutionProcessing, ResolutionCompleted, ResolutionFailed},
	ResolutionProcessing: {ResolutionCompleted, ResolutionFailed},
}

// Item is a line item referenced by an exchange
type Item struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// RefundInput is the payload for a refund resolution
type RefundInput struct {
	Amount decimal.Decimal
	Method RefundMethod
}

// ExchangeInput is the payload for an exchange resolution
type ExchangeInput struct {
	OriginalItems    []Item
	ReplacementItems []Item
	OutboundOrderRef string
}

// StoreCreditInput is the payload for a store credit resolution. The issued
// credit is Amount plus BonusPercent of it.
type StoreCreditInput struct {
	Amount       decimal.Decimal
	BonusPercent decimal.Decimal
}

// ResolutionInput carries exactly one payload matching Type. Its JSON form
// is flat: {"type": "refund", "amount": 50.0, "method": "original_payment"}.
type ResolutionInput struct {
	Type        ResolutionType
	Refund      *RefundInput
	Exchange    *ExchangeInput
	StoreCredit *StoreCreditInput
}

type flatResolution struct {
	Type             ResolutionType   `json:"type"`
	Amount           *decimal.Decimal `json:"amount,omitempty"`
	Method           RefundMethod     `json:"method,omitempty"`
	BonusPercent     *decimal.Decimal `json:"bonus_percent,omitempty"`
	OriginalItems    []Item           `json:"original_items,omitempty"`
	ReplacementItems []Item           `json:"replacement_items,omitempty"`
	OutboundOrderRef string           `json:"outbound_order_ref,omitempty"`
}

// UnmarshalJSON decodes the flat form. An unrecognized type decodes without
// a payload and is rejected when the transition is validated.
func (in *ResolutionInput) UnmarshalJSON(data []byte) error {
	var raw flatResolution
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode resolution: %w", err)
	}

	*in = ResolutionInput{Type: raw.Type}
	switch raw.Type {
	case ResolutionRefund:
		in.Refund = &RefundInput{Amount: orZero(raw.Amount), Method: raw.Method}
	case ResolutionExchange:
		in.Exchange = &ExchangeInput{
			OriginalItems:    raw.OriginalItems,
			ReplacementItems: raw.ReplacementItems,
			OutboundOrderRef: raw.OutboundOrderRef,
		}
	case ResolutionStoreCredit:
		in.StoreCredit = &StoreCreditInput{Amount: orZero(raw.Amount), BonusPercent: orZero(raw.BonusPercent)}
	}
	return nil
}

// MarshalJSON encodes the flat form
func (in ResolutionInput) MarshalJSON() ([]byte, error) {
	raw := flatResolution{Type: in.Type}
	switch {
	case in.Refund != nil:
		raw.Amount = &in.Refund.Amount
		raw.Method = in.Refund.Method
	case in.Exchange != nil:
		raw.OriginalItems = in.Exchange.OriginalItems
		raw.ReplacementItems = in.Exchange.ReplacementItems
		raw.OutboundOrderRef = in.Exchange.OutboundOrderRef
	case in.StoreCredit != nil:
		raw.Amount = &in.StoreCredit.Amount
		raw.BonusPercent = &in.StoreCredit.BonusPercent
	}
	return json.Marshal(raw)
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// validate checks that exactly one payload is present, that it matches Type,
// and that its values are usable
func (in *ResolutionInput) validate() error {
	if in == nil {
		return &ResolutionRequiredError{Reason: "no resolution supplied"}
	}

	present := 0
	for _, set := range []bool{in.Refund != nil, in.Exchange != nil, in.StoreCredit != nil} {
		if set {
			present++
		}
	}
	if present != 1 {
		return &ResolutionRequiredError{Reason: fmt.Sprintf("exactly one resolution payload must be supplied, got %d", present)}
	}

	switch in.Type {
	case ResolutionRefund:
		if in.Refund == nil {
			return &ResolutionRequiredError{Reason: "refund resolution without refund payload"}
		}
		if !in.Refund.Amount.IsPositive() {
			return &ResolutionRequiredError{Reason: "refund amount must be positive"}
		}
		if !in.Refund.Method.valid() {
			return &ResolutionRequiredError{Reason: fmt.Sprintf("unknown refund method %q", in.Refund.Method)}
		}

	case ResolutionExchange:
		if in.Exchange == nil {
			return &ResolutionRequiredError{Reason: "exchange resolution without exchange payload"}
		}
		if len(in.Exchange.OriginalItems) == 0 || len(in.Exchange.ReplacementItems) == 0 {
			return &ResolutionRequiredError{Reason: "exchange needs original and replacement items"}
		}
		for _, it := range append(append([]Item{}, in.Exchange.OriginalItems...), in.Exchange.ReplacementItems...) {
			if it.SKU == "" || it.Quantity <= 0 {
				return &ResolutionRequiredError{Reason: "exchange items need a sku and a positive quantity"}
			}
		}

	case ResolutionStoreCredit:
		if in.StoreCredit == nil {
			return &ResolutionRequiredError{Reason: "store credit resolution without store credit payload"}
		}
		if !in.StoreCredit.Amount.IsPositive() {
			return &ResolutionRequiredError{Reason: "store credit amount must be positive"}
		}
		if in.StoreCredit.BonusPercent.IsNegative() || in.StoreCredit.BonusPercent.GreaterThan(decimal.NewFromInt(100)) {
			return &ResolutionRequiredError{Reason: "store credit bonus must be between 0 and 100 percent"}
		}

	default:
		return &ResolutionRequiredError{Reason: fmt.Sprintf("unrecognized resolution type %q", in.Type)}
	}
	return nil
}

// RefundDetails is the refund part of a resolution
type RefundDetails struct {
	Amount decimal.Decimal `json:"amount"`
	Method RefundMethod    `json:"method"`
}

// ExchangeDetails is the exchange part of a resolution
type ExchangeDetails struct {
	OriginalItems    []Item `json:"original_items"`
	ReplacementItems []Item `json:"replacement_items"`
	OutboundOrderRef string `json:"outbound_order_ref,omitempty"`
}

// StoreCreditDetails is the store credit part of a resolution
type StoreCreditDetails struct {
	BaseAmount   decimal.Decimal `json:"base_amount"`
	BonusPercent decimal.Decimal `json:"bonus_percent"`
	Amount       decimal.Decimal `json:"amount"`
	Balance      decimal.Decimal `json:"balance"`
}

// Resolution is the record created when a return is resolved. Only Status
// and UpdatedAt change after creation, through Advance.
type Resolution struct {
	ID          string              `json:"id"`
	ReturnID    string              `json:"return_id"`
	TenantID    string              `json:"tenant_id"`
	Type        ResolutionType      `json:"type"`
	Status      ResolutionStatus    `json:"status"`
	Refund      *RefundDetails      `json:"refund,omitempty"`
	Exchange    *ExchangeDetails    `json:"exchange,omitempty"`
	StoreCredit *StoreCreditDetails `json:"store_credit,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// draftResolution builds the not-yet-persisted resolution for a validated input
func draftResolution(id, returnID, tenantID string, in *ResolutionInput, at time.Time) *Resolution {
	res := &Resolution{
		ID:        id,
		ReturnID:  returnID,
		TenantID:  tenantID,
		Type:      in.Type,
		Status:    ResolutionPending,
		CreatedAt: at,
		UpdatedAt: at,
	}

	switch in.Type {
	case ResolutionRefund:
		res.Refund = &RefundDetails{Amount: in.Refund.Amount, Method: in.Refund.Method}
	case ResolutionExchange:
		res.Exchange = &ExchangeDetails{
			OriginalItems:    append([]Item(nil), in.Exchange.OriginalItems...),
			ReplacementItems: append([]Item(nil), in.Exchange.ReplacementItems...),
			OutboundOrderRef: in.Exchange.OutboundOrderRef,
		}
	case ResolutionStoreCredit:
		credit := StoreCreditAmount(in.StoreCredit.Amount, in.StoreCredit.BonusPercent)
		res.StoreCredit = &StoreCreditDetails{
			BaseAmount:   in.StoreCredit.Amount,
			BonusPercent: in.StoreCredit.BonusPercent,
			Amount:       credit,
			Balance:      credit,
		}
	}
	return res
}

// StoreCreditAmount applies a percentage bonus and rounds to cents
func StoreCreditAmount(base, bonusPercent decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(bonusPercent.Div(decimal.NewFromInt(100)))
	return base.Mul(factor).Round(2)
}

// Advance moves the resolution's completion status forward, returning the
// updated copy. Completed and failed are final.
func (r Resolution) Advance(to ResolutionStatus, at time.Time) (Resolution, error) {
	for _, next := range resolutionSteps[r.Status] {
		if next == to {
			r.Status = to
			r.UpdatedAt = at
			return r, nil
		}
	}
	return r, fmt.Errorf("%w: %s -> %s", ErrInvalidResolutionStatus, r.Status, to)
}

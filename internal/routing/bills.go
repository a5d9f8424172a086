package routing

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/thrillee/aegisrouter/internal/auth"
)

// Bill keys.
const (
	AmountSubmitSm               = "submit_sm"
	AmountSubmitSmResp           = "submit_sm_resp"
	ActionDecrementSubmitSmCount = "decrement_submit_sm_count"
)

// bill holds a fixed set of amount and action keys; unknown keys are rejected.
type bill struct {
	BID     string                     `json:"bid"`
	UID     string                     `json:"uid"`
	Amounts map[string]decimal.Decimal `json:"amounts"`
	Actions map[string]int             `json:"actions"`
}

func (b *bill) GetAmount(key string) (decimal.Decimal, error) {
	v, ok := b.Amounts[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s is not a valid amount key", ErrInvalidBillKey, key)
	}
	return v, nil
}

func (b *bill) SetAmount(key string, amount decimal.Decimal) error {
	if _, ok := b.Amounts[key]; !ok {
		return fmt.Errorf("%w: %s is not a valid amount key", ErrInvalidBillKey, key)
	}
	b.Amounts[key] = amount
	return nil
}

func (b *bill) GetAction(key string) (int, error) {
	v, ok := b.Actions[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s is not a valid action key", ErrInvalidBillKey, key)
	}
	return v, nil
}

func (b *bill) SetAction(key string, value int) error {
	if _, ok := b.Actions[key]; !ok {
		return fmt.Errorf("%w: %s is not a valid action key", ErrInvalidBillKey, key)
	}
	b.Actions[key] = value
	return nil
}

// TotalAmount sums every amount.
func (b *bill) TotalAmount() decimal.Decimal {
	t := decimal.Zero
	for _, v := range b.Amounts {
		t = t.Add(v)
	}
	return t
}

// SubmitSmBill is charged to a user when a submit_sm is routed.
type SubmitSmBill struct {
	bill
}

func NewSubmitSmBill(uid string) *SubmitSmBill {
	return &SubmitSmBill{bill{
		BID:     uuid.NewString(),
		UID:     uid,
		Amounts: map[string]decimal.Decimal{AmountSubmitSm: decimal.Zero, AmountSubmitSmResp: decimal.Zero},
		Actions: map[string]int{ActionDecrementSubmitSmCount: 0},
	}}
}

// SubmitSmRespBill derives the bill charged once the submit_sm_resp is received.
func (b *SubmitSmBill) SubmitSmRespBill() *SubmitSmRespBill {
	rb := NewSubmitSmRespBill(b.UID)
	rb.Amounts[AmountSubmitSmResp] = b.Amounts[AmountSubmitSmResp]
	return rb
}

// SubmitSmRespBill is charged when the SMSC acknowledges a submit_sm.
type SubmitSmRespBill struct {
	bill
}

func NewSubmitSmRespBill(uid string) *SubmitSmRespBill {
	return &SubmitSmRespBill{bill{
		BID:     uuid.NewString(),
		UID:     uid,
		Amounts: map[string]decimal.Decimal{AmountSubmitSmResp: decimal.Zero},
		Actions: map[string]int{},
	}}
}

// BillFor computes what user owes for a message sent through route.
//
// A rated route bills a user with a limited balance: early_decrement_balance_percent
// of the rate on submit_sm and the rest on submit_sm_resp, or the whole rate on
// submit_sm when no percentage is set. A limited submit_sm_count is decremented by one.
func BillFor(route Route, user *auth.User) (*SubmitSmBill, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: missing user", ErrInvalidRoutable)
	}
	b := NewSubmitSmBill(user.UID)
	q := user.MtCredential.Quotas

	rate := route.Rate()
	if rate.IsPositive() && q.Balance != nil {
		if q.EarlyDecrementBalancePercent != nil {
			early := rate.Mul(decimal.NewFromInt(int64(*q.EarlyDecrementBalancePercent))).Div(decimal.NewFromInt(100))
			b.Amounts[AmountSubmitSm] = early
			b.Amounts[AmountSubmitSmResp] = rate.Sub(early)
		} else {
			b.Amounts[AmountSubmitSm] = rate
			b.Amounts[AmountSubmitSmResp] = decimal.Zero
		}
	}
	if q.SubmitSmCount != nil {
		b.Actions[ActionDecrementSubmitSmCount] = 1
	}
	return b, nil
}

package routing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBillKeys(t *testing.T) {
	b := NewSubmitSmBill("u1")
	require.NoError(t, b.SetAmount(AmountSubmitSm, decimal.RequireFromString("1.5")))
	require.NoError(t, b.SetAmount(AmountSubmitSmResp, decimal.RequireFromString("0.5")))
	assert.True(t, b.TotalAmount().Equal(decimal.RequireFromString("2")))

	assert.ErrorIs(t, b.SetAmount("submit_smm", decimal.Zero), ErrInvalidBillKey)
	_, err := b.GetAction("bogus")
	assert.ErrorIs(t, err, ErrInvalidBillKey)

	rb := b.SubmitSmRespBill()
	amount, err := rb.GetAmount(AmountSubmitSmResp)
	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.RequireFromString("0.5")))
	_, err = rb.GetAmount(AmountSubmitSm)
	assert.ErrorIs(t, err, ErrInvalidBillKey)
	assert.NotEqual(t, b.BID, rb.BID)
}

func TestBillFor(t *testing.T) {
	route, err := NewStaticMTRoute([]Filter{NewTransparentFilter()}, smppc(t, "smpp_01"), decimal.RequireFromString("2"))
	require.NoError(t, err)

	// unlimited balance: nothing charged
	user := testUser(t, "u1", "g1")
	b, err := BillFor(route, user)
	require.NoError(t, err)
	assert.True(t, b.TotalAmount().IsZero())
	action, _ := b.GetAction(ActionDecrementSubmitSmCount)
	assert.Equal(t, 0, action)

	require.NoError(t, user.MtCredential.SetQuota("balance", "10"))
	require.NoError(t, user.MtCredential.SetQuota("submit_sm_count", "5"))
	b, err = BillFor(route, user)
	require.NoError(t, err)
	sm, _ := b.GetAmount(AmountSubmitSm)
	assert.True(t, sm.Equal(decimal.RequireFromString("2")))
	action, _ = b.GetAction(ActionDecrementSubmitSmCount)
	assert.Equal(t, 1, action)

	require.NoError(t, user.MtCredential.SetQuota("early_decrement_balance_percent", "25"))
	b, err = BillFor(route, user)
	require.NoError(t, err)
	sm, _ = b.GetAmount(AmountSubmitSm)
	resp, _ := b.GetAmount(AmountSubmitSmResp)
	assert.True(t, sm.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, resp.Equal(decimal.RequireFromString("1.5")))
}

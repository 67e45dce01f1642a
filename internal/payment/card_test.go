package payment

import (
	"context"
	"testing"
	"time"

	"cart-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/currency"
)

var fixedNow = func() time.Time { return time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC) }

func usd(amount string) models.Money {
	return models.Money{Amount: decimal.RequireFromString(amount), Currency: currency.USD}
}

func openCard(t *testing.T) Processor {
	t.Helper()
	p, err := DefaultRegistry().Open(context.Background(), CardName, Config{Now: fixedNow})
	require.NoError(t, err)
	return p
}

func validCard() Details {
	return Details{CardNumber: "4242 4242 4242 4242", ExpMonth: 12, ExpYear: 2030, CVC: "123"}
}

func TestCardValidate(t *testing.T) {
	p := openCard(t)

	tests := []struct {
		name    string
		mutate  func(d *Details)
		wantErr string
	}{
		{name: "valid", mutate: func(*Details) {}},
		{name: "dashes allowed", mutate: func(d *Details) { d.CardNumber = "4242-4242-4242-4242" }},
		{name: "bad checksum", mutate: func(d *Details) { d.CardNumber = "4242424242424241" }, wantErr: "card number failed checksum"},
		{name: "letters", mutate: func(d *Details) { d.CardNumber = "4242x24242424242" }, wantErr: "card number must be 12 to 19 digits"},
		{name: "too short", mutate: func(d *Details) { d.CardNumber = "4242" }, wantErr: "card number must be 12 to 19 digits"},
		{name: "bad month", mutate: func(d *Details) { d.ExpMonth = 13 }, wantErr: "expiry month must be between 1 and 12"},
		{name: "expired", mutate: func(d *Details) { d.ExpMonth, d.ExpYear = 5, 2026 }, wantErr: "card has expired"},
		{name: "expires this month", mutate: func(d *Details) { d.ExpMonth, d.ExpYear = 6, 26 }},
		{name: "short cvc", mutate: func(d *Details) { d.CVC = "12" }, wantErr: "cvc must be 3 or 4 digits"},
		{name: "alpha cvc", mutate: func(d *Details) { d.CVC = "12a" }, wantErr: "cvc must be 3 or 4 digits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validCard()
			tt.mutate(&d)

			v := p.Validate(d)
			if tt.wantErr == "" {
				assert.True(t, v.Valid, v.Errors)
				return
			}
			assert.False(t, v.Valid)
			assert.Contains(t, v.Errors, tt.wantErr)
		})
	}
}

func TestCardConfirmAndRefund(t *testing.T) {
	ctx := context.Background()
	p := openCard(t)

	intent, err := p.CreateIntent(ctx, usd("36.99"), map[string]string{"session_id": "s1"})
	require.NoError(t, err)
	assert.Equal(t, "s1", intent.Metadata["session_id"])

	res, err := p.Confirm(ctx, intent, validCard())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, StatusSucceeded, res.Status)
	require.NotEmpty(t, res.PaymentID)

	partial := usd("10.00")
	refund, err := p.Refund(ctx, res.PaymentID, &partial)
	require.NoError(t, err)
	assert.Equal(t, "10.00", refund.Amount.Amount.StringFixed(2))

	tooMuch := usd("30.00")
	_, err = p.Refund(ctx, res.PaymentID, &tooMuch)
	assert.ErrorIs(t, err, ErrRefundExceedsCapture)

	rest, err := p.Refund(ctx, res.PaymentID, nil)
	require.NoError(t, err)
	assert.Equal(t, "26.99", rest.Amount.Amount.StringFixed(2))

	_, err = p.Refund(ctx, res.PaymentID, nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = p.Refund(ctx, "ch_unknown", nil)
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestCardDeclines(t *testing.T) {
	ctx := context.Background()
	p := openCard(t)

	intent, err := p.CreateIntent(ctx, usd("5.00"), nil)
	require.NoError(t, err)

	d := validCard()
	d.CardNumber = DeclineCardNumber
	res, err := p.Confirm(ctx, intent, d)
	assert.ErrorIs(t, err, ErrDeclined)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, StatusDeclined, res.Status)

	d.CVC = ""
	_, err = p.Confirm(ctx, intent, d)
	assert.ErrorIs(t, err, ErrInvalidDetails)
}

func TestCardRejectsNonPositiveAmount(t *testing.T) {
	_, err := openCard(t).CreateIntent(context.Background(), usd("0"), nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestUninitializedProcessor(t *testing.T) {
	_, err := NewCard().CreateIntent(context.Background(), usd("1.00"), nil)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestWallet(t *testing.T) {
	ctx := context.Background()
	p, err := DefaultRegistry().Open(ctx, WalletName, Config{})
	require.NoError(t, err)

	assert.False(t, p.Validate(Details{WalletToken: "tok_123"}).Valid)
	assert.False(t, p.Validate(Details{WalletToken: "wallet_x"}).Valid)
	assert.True(t, p.Validate(Details{WalletToken: "wallet_abc123"}).Valid)

	intent, err := p.CreateIntent(ctx, usd("12.50"), nil)
	require.NoError(t, err)

	res, err := p.Confirm(ctx, intent, Details{WalletToken: "wallet_abc123"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, err = p.Confirm(ctx, intent, Details{WalletToken: DeclineWalletToken})
	assert.ErrorIs(t, err, ErrDeclined)

	eur := models.Money{Amount: decimal.NewFromInt(1), Currency: currency.EUR}
	_, err = p.Refund(ctx, res.PaymentID, &eur)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	refund, err := p.Refund(ctx, res.PaymentID, nil)
	require.NoError(t, err)
	assert.Equal(t, "12.50", refund.Amount.Amount.StringFixed(2))
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{CardName, HostedName, WalletName}, r.Names())

	_, err := r.Open(context.Background(), "crypto", Config{})
	assert.ErrorIs(t, err, ErrUnknownProcessor)

	_, err = r.Open(context.Background(), HostedName, Config{})
	assert.ErrorContains(t, err, "failed to initialize hosted processor")

	r.Register("alias", NewCard)
	p, err := r.Open(context.Background(), "alias", Config{})
	require.NoError(t, err)
	assert.Equal(t, CardName, p.Name())
}

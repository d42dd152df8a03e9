package binance

import (
	"errors"
	"testing"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/gridbot/internal/domain"
)

func TestTruncate_StepAndTick(t *testing.T) {
	assert.Equal(t, "0.123", truncate(0.12345, 0.001))
	assert.Equal(t, "104.76", truncate(104.7619, 0.01))
	// 0.3 / 0.1 en float da 2.9999…; decimal no
	assert.Equal(t, "0.3", truncate(0.3, 0.1))
	assert.Equal(t, "0", truncate(0.0004, 0.001))
	assert.Equal(t, "1.5", truncate(1.5, 0))
}

func TestParseFloat_Invalid(t *testing.T) {
	assert.Equal(t, 0.0, parseFloat(""))
	assert.Equal(t, 0.0, parseFloat("abc"))
	assert.InDelta(t, 0.00012, parseFloat("0.00012000"), 1e-15)
}

func TestMapTrade_BuyerAndCommission(t *testing.T) {
	f := mapTrade(&gobinance.TradeV3{
		ID: 42, OrderID: 7, Price: "100.50", Quantity: "0.2", Commission: "0.0002",
		CommissionAsset: "BTC", Time: 1714000000000, IsBuyer: true,
	})
	assert.Equal(t, "42", f.ID)
	assert.Equal(t, "7", f.LinkedOrderID)
	assert.Equal(t, domain.SideBuy, f.Side)
	assert.InDelta(t, 100.5, f.Price, 1e-12)
	assert.Equal(t, "BTC", f.FeeCurrency)
	assert.Equal(t, int64(1714000000000), f.Timestamp.UnixMilli())

	s := mapTrade(&gobinance.TradeV3{ID: 43, IsBuyer: false})
	assert.Equal(t, domain.SideSell, s.Side)
}

func TestLastTradeID(t *testing.T) {
	fills := []domain.Fill{{ID: "10"}, {ID: "12"}, {ID: "x"}}
	assert.Equal(t, int64(12), lastTradeID(fills, 5))
	assert.Equal(t, int64(5), lastTradeID(nil, 5))
}

func TestClassify_Codes(t *testing.T) {
	cases := []struct {
		code int64
		want domain.ErrorKind
	}{
		{codeTooManyRequests, domain.KindTransient},
		{codeTimestampWindow, domain.KindTransient},
		{codeServerBusy, domain.KindTransient},
		{codeOrderRejected, domain.KindFatal},
		{codeFilterFailure, domain.KindFatal},
		{-1102, domain.KindFatal}, // parámetro obligatorio ausente
		{-2015, domain.KindFatal}, // api key inválida
	}
	for _, tc := range cases {
		err := classify("op", &common.APIError{Code: tc.code, Message: "x"})
		assert.Equal(t, tc.want, domain.KindOf(err), "code %d", tc.code)

		var de *domain.Error
		if assert.True(t, errors.As(err, &de)) {
			assert.Equal(t, tc.code, de.Code)
		}
	}

	assert.Equal(t, domain.KindTransient, domain.KindOf(classify("op", errors.New("connection reset"))))
	assert.Nil(t, classify("op", nil))

	fatal := domain.NewError(domain.KindFatal, "inner", errors.New("boom"))
	assert.Same(t, fatal, classify("outer", fatal))
}

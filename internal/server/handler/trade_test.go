package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updownlabs/updown/internal/amm"
	"github.com/updownlabs/updown/internal/domain"
)

type stubTradeService struct {
	quote   amm.Quote
	receipt domain.BuyReceipt
	payout  int64
	err     error

	lastBuyer    common.Address
	lastReceiver common.Address
	lastOutcome  int
	lastStake    int64
	lastMinOut   int64
}

func (s *stubTradeService) Quote(_ context.Context, _ string, outcome int, stake int64) (amm.Quote, error) {
	s.lastOutcome = outcome
	s.lastStake = stake
	if s.err != nil {
		return amm.Quote{}, s.err
	}
	return s.quote, nil
}

func (s *stubTradeService) BuyPosition(_ context.Context, buyer, receiver common.Address, _ string, outcome int, stake, minOut int64) (domain.BuyReceipt, error) {
	s.lastBuyer = buyer
	s.lastReceiver = receiver
	s.lastOutcome = outcome
	s.lastStake = stake
	s.lastMinOut = minOut
	if s.err != nil {
		return domain.BuyReceipt{}, s.err
	}
	return s.receipt, nil
}

func (s *stubTradeService) RedeemPosition(_ context.Context, owner common.Address, _ string) (int64, error) {
	s.lastBuyer = owner
	if s.err != nil {
		return 0, s.err
	}
	return s.payout, nil
}

func (s *stubTradeService) TransferPosition(_ context.Context, _ string, outcome int, from, to common.Address, amount int64) error {
	s.lastBuyer = from
	s.lastReceiver = to
	s.lastOutcome = outcome
	s.lastStake = amount
	return s.err
}

func tradeMux(svc TradeService) *http.ServeMux {
	h := NewTradeHandler(svc, slog.New(slog.DiscardHandler))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets/{id}/quote", h.GetQuote)
	mux.HandleFunc("POST /api/markets/{id}/buy", h.Buy)
	mux.HandleFunc("POST /api/markets/{id}/transfer", h.Transfer)
	mux.HandleFunc("POST /api/markets/{id}/redeem", h.Redeem)
	return mux
}

const (
	testBuyer    = "0x1111111111111111111111111111111111111111"
	testReceiver = "0x2222222222222222222222222222222222222222"
)

func TestTradeHandler_Buy(t *testing.T) {
	svc := &stubTradeService{receipt: domain.BuyReceipt{
		QuestionID: "0xaaa",
		Outcome:    domain.OutcomeUp,
		Receiver:   common.HexToAddress(testBuyer),
		Stake:      100,
		TokensOut:  191,
		Reserves:   [2]int64{909, 1100},
	}}
	mux := tradeMux(svc)

	body, _ := json.Marshal(buyRequest{Buyer: testBuyer, Outcome: 0, Stake: 100, MinOut: 150})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/markets/0xaaa/buy", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var receipt domain.BuyReceipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	assert.Equal(t, int64(191), receipt.TokensOut)
	assert.Equal(t, [2]int64{909, 1100}, receipt.Reserves)

	// Receiver defaults to the buyer when omitted.
	assert.Equal(t, common.HexToAddress(testBuyer), svc.lastBuyer)
	assert.Equal(t, common.HexToAddress(testBuyer), svc.lastReceiver)
	assert.Equal(t, int64(150), svc.lastMinOut)
}

func TestTradeHandler_Buy_SeparateReceiver(t *testing.T) {
	svc := &stubTradeService{}
	mux := tradeMux(svc)

	body, _ := json.Marshal(buyRequest{Buyer: testBuyer, Receiver: testReceiver, Outcome: 1, Stake: 50})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/markets/0xaaa/buy", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, common.HexToAddress(testBuyer), svc.lastBuyer)
	assert.Equal(t, common.HexToAddress(testReceiver), svc.lastReceiver)
	assert.Equal(t, 1, svc.lastOutcome)
}

func TestTradeHandler_Buy_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{"invalid buyer address", `{"buyer":"nope","outcome":0,"stake":100}`, nil, http.StatusBadRequest},
		{"invalid receiver address", `{"buyer":"` + testBuyer + `","receiver":"nope","outcome":0,"stake":100}`, nil, http.StatusBadRequest},
		{"malformed body", `{`, nil, http.StatusBadRequest},
		{"market not found", `{"buyer":"` + testBuyer + `","outcome":0,"stake":100}`, domain.ErrMarketNotFound, http.StatusNotFound},
		{"market expired", `{"buyer":"` + testBuyer + `","outcome":0,"stake":100}`, domain.ErrMarketExpired, http.StatusConflict},
		{"bad outcome index", `{"buyer":"` + testBuyer + `","outcome":2,"stake":100}`, domain.ErrInvalidOutcome, http.StatusBadRequest},
		{"slippage exceeded", `{"buyer":"` + testBuyer + `","outcome":0,"stake":100,"min_out":999}`, domain.ErrSlippage, http.StatusBadRequest},
		{"insufficient balance", `{"buyer":"` + testBuyer + `","outcome":0,"stake":100}`, domain.ErrInsufficientBalance, http.StatusPaymentRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := tradeMux(&stubTradeService{err: tt.err})
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/markets/0xaaa/buy",
				bytes.NewReader([]byte(tt.body))))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestTradeHandler_GetQuote(t *testing.T) {
	svc := &stubTradeService{quote: amm.Quote{Fee: 2, Net: 98, TokensOut: 187, Reserves: [2]int64{911, 1098}}}
	mux := tradeMux(svc)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/0xaaa/quote?outcome=0&stake=100", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var quote amm.Quote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quote))
	assert.Equal(t, svc.quote, quote)
	assert.Equal(t, 0, svc.lastOutcome)
	assert.Equal(t, int64(100), svc.lastStake)
}

func TestTradeHandler_GetQuote_BadParams(t *testing.T) {
	mux := tradeMux(&stubTradeService{})

	for _, target := range []string{
		"/api/markets/0xaaa/quote",
		"/api/markets/0xaaa/quote?outcome=up&stake=100",
		"/api/markets/0xaaa/quote?outcome=0&stake=lots",
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestTradeHandler_Transfer(t *testing.T) {
	svc := &stubTradeService{}
	mux := tradeMux(svc)

	body, _ := json.Marshal(transferRequest{From: testBuyer, To: testReceiver, Outcome: 1, Amount: 40})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/markets/0xaaa/transfer", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		QuestionID string `json:"question_id"`
		Outcome    int    `json:"outcome"`
		From       string `json:"from"`
		To         string `json:"to"`
		Amount     int64  `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "0xaaa", resp.QuestionID)
	assert.Equal(t, int64(40), resp.Amount)

	assert.Equal(t, common.HexToAddress(testBuyer), svc.lastBuyer)
	assert.Equal(t, common.HexToAddress(testReceiver), svc.lastReceiver)
	assert.Equal(t, 1, svc.lastOutcome)
	assert.Equal(t, int64(40), svc.lastStake)
}

func TestTradeHandler_Transfer_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{"invalid from address", `{"from":"nope","to":"` + testReceiver + `","outcome":0,"amount":10}`, nil, http.StatusBadRequest},
		{"invalid to address", `{"from":"` + testBuyer + `","to":"nope","outcome":0,"amount":10}`, nil, http.StatusBadRequest},
		{"insufficient balance", `{"from":"` + testBuyer + `","to":"` + testReceiver + `","outcome":0,"amount":10}`, domain.ErrInsufficientBalance, http.StatusPaymentRequired},
		{"already redeemed", `{"from":"` + testBuyer + `","to":"` + testReceiver + `","outcome":0,"amount":10}`, domain.ErrAlreadyRedeemed, http.StatusConflict},
		{"market not found", `{"from":"` + testBuyer + `","to":"` + testReceiver + `","outcome":0,"amount":10}`, domain.ErrMarketNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := tradeMux(&stubTradeService{err: tt.err})
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/markets/0xaaa/transfer",
				bytes.NewReader([]byte(tt.body))))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestTradeHandler_Redeem(t *testing.T) {
	svc := &stubTradeService{payout: 191}
	mux := tradeMux(svc)

	body, _ := json.Marshal(redeemRequest{Owner: testBuyer})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/markets/0xaaa/redeem", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		QuestionID string `json:"question_id"`
		Owner      string `json:"owner"`
		Payout     int64  `json:"payout"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "0xaaa", resp.QuestionID)
	assert.Equal(t, testBuyer, resp.Owner)
	assert.Equal(t, int64(191), resp.Payout)
}

func TestTradeHandler_Redeem_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"market not resolved", domain.ErrMarketNotResolved, http.StatusConflict},
		{"already redeemed", domain.ErrAlreadyRedeemed, http.StatusConflict},
		{"market not found", domain.ErrMarketNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := tradeMux(&stubTradeService{err: tt.err})
			body, _ := json.Marshal(redeemRequest{Owner: testBuyer})
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/markets/0xaaa/redeem",
				bytes.NewReader(body)))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

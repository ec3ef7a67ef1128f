package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"proptrader/internal/config"
	"proptrader/pkg/types"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRESTClientSubmitOrder(t *testing.T) {
	t.Parallel()

	var gotBody orderBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/orders" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("APCA-API-KEY-ID") != "key" {
			t.Error("missing API key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "ord_1",
			"symbol": gotBody.Symbol,
			"status": "accepted",
		})
	}))
	defer srv.Close()

	c := NewRESTClient(config.BrokerConfig{
		APIKey: "key", SecretKey: "secret", BaseURL: srv.URL, Timeout: 2 * time.Second,
	}, discardLog())

	order, err := c.SubmitOrder(context.Background(), types.OrderRequest{
		Symbol:        "AAPL",
		Qty:           dec("10"),
		Side:          types.SideBuy,
		Type:          types.OrderLimit,
		TimeInForce:   types.TIFDay,
		LimitPrice:    dec("150.256"),
		ClientOrderID: "PFRM_IB-MOMENTUM-abc12345",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if order.OrderID != "ord_1" {
		t.Errorf("order ID = %q, want ord_1", order.OrderID)
	}
	if gotBody.LimitPrice != "150.26" {
		t.Errorf("limit price = %q, want 150.26", gotBody.LimitPrice)
	}
	if gotBody.ClientOrderID != "PFRM_IB-MOMENTUM-abc12345" {
		t.Errorf("client order ID = %q", gotBody.ClientOrderID)
	}
}

func TestRESTClientSurfacesAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(apiError{Code: 40310000, Message: "insufficient buying power"})
	}))
	defer srv.Close()

	c := NewRESTClient(config.BrokerConfig{BaseURL: srv.URL, Timeout: 2 * time.Second}, discardLog())
	_, err := c.SubmitOrder(context.Background(), types.OrderRequest{
		Symbol: "AAPL", Qty: dec("1"), Side: types.SideBuy,
		Type: types.OrderMarket, TimeInForce: types.TIFDay,
	})
	if err == nil || !strings.Contains(err.Error(), "insufficient buying power") {
		t.Errorf("err = %v, want broker message surfaced", err)
	}
}

func TestRESTClientDecodesResponseWithoutContentType(t *testing.T) {
	t.Parallel()

	// Some broker gateways omit the Content-Type header; the body must
	// still decode as JSON.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"ord_2","symbol":"AAPL","status":"accepted"}`))
	}))
	defer srv.Close()

	c := NewRESTClient(config.BrokerConfig{BaseURL: srv.URL, Timeout: 2 * time.Second}, discardLog())
	order, err := c.SubmitOrder(context.Background(), types.OrderRequest{
		Symbol: "AAPL", Qty: dec("1"), Side: types.SideBuy,
		Type: types.OrderMarket, TimeInForce: types.TIFDay,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if order.OrderID != "ord_2" {
		t.Errorf("order ID = %q, want ord_2", order.OrderID)
	}
}

func TestRESTClientBreakerOpensAfterFailures(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewRESTClient(config.BrokerConfig{BaseURL: srv.URL, Timeout: 2 * time.Second}, discardLog())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := c.GetAccount(ctx); err == nil {
			t.Fatal("expected error from failing upstream")
		}
	}

	_, err := c.GetAccount(ctx)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err after repeated failures = %v, want ErrUnavailable", err)
	}
}

func TestDryRunFillsAndTracksPositions(t *testing.T) {
	t.Parallel()

	c := NewDryRunClient(dec("100000"), discardLog())
	ctx := context.Background()

	order, err := c.SubmitOrder(ctx, types.OrderRequest{
		Symbol: "AAPL", Qty: dec("10"), Side: types.SideBuy,
		Type: types.OrderLimit, TimeInForce: types.TIFDay, LimitPrice: dec("150"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if order.Status != "filled" || !order.FilledAvgPrice.Equal(dec("150")) {
		t.Errorf("order = %+v, want instant fill at 150", order)
	}

	pos, err := c.GetPosition(ctx, "AAPL")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if !pos.Qty.Equal(dec("10")) || !pos.AvgEntryPrice.Equal(dec("150")) {
		t.Errorf("position = %+v", pos)
	}

	acct, err := c.GetAccount(ctx)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if !acct.Cash.Equal(dec("98500")) {
		t.Errorf("cash = %s, want 98500", acct.Cash)
	}

	// Average up on a second buy.
	if _, err := c.SubmitOrder(ctx, types.OrderRequest{
		Symbol: "AAPL", Qty: dec("10"), Side: types.SideBuy,
		Type: types.OrderLimit, TimeInForce: types.TIFDay, LimitPrice: dec("170"),
	}); err != nil {
		t.Fatalf("second buy: %v", err)
	}
	pos, _ = c.GetPosition(ctx, "AAPL")
	if !pos.AvgEntryPrice.Equal(dec("160")) {
		t.Errorf("avg entry = %s, want 160", pos.AvgEntryPrice)
	}

	// Full exit removes the position.
	if _, err := c.SubmitOrder(ctx, types.OrderRequest{
		Symbol: "AAPL", Qty: dec("20"), Side: types.SideSell,
		Type: types.OrderLimit, TimeInForce: types.TIFDay, LimitPrice: dec("165"),
	}); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if _, err := c.GetPosition(ctx, "AAPL"); err == nil {
		t.Error("position should be gone after full exit")
	}
}

func TestDryRunMarketOrderNeedsMark(t *testing.T) {
	t.Parallel()

	c := NewDryRunClient(dec("100000"), discardLog())
	ctx := context.Background()

	req := types.OrderRequest{
		Symbol: "MSFT", Qty: dec("5"), Side: types.SideBuy,
		Type: types.OrderMarket, TimeInForce: types.TIFDay,
	}
	if _, err := c.SubmitOrder(ctx, req); err == nil {
		t.Error("market order without a mark should fail")
	}

	c.SetMark("MSFT", dec("400"))
	order, err := c.SubmitOrder(ctx, req)
	if err != nil {
		t.Fatalf("submit with mark: %v", err)
	}
	if !order.FilledAvgPrice.Equal(dec("400")) {
		t.Errorf("fill = %s, want 400", order.FilledAvgPrice)
	}
}

func TestStreamDispatch(t *testing.T) {
	t.Parallel()

	s := NewStream(config.BrokerConfig{}, discardLog())

	fill := `{"stream":"trade_updates","data":{"event":"fill","order":{"id":"ord_9","filled_avg_price":"151.5","filled_qty":"10"}}}`
	s.dispatch([]byte(fill))

	select {
	case update := <-s.Updates():
		if update.Event != types.EventFill {
			t.Errorf("event = %q, want fill", update.Event)
		}
		if update.Order.ID != "ord_9" || !update.Order.FilledAvgPrice.Equal(dec("151.5")) {
			t.Errorf("order = %+v", update.Order)
		}
	default:
		t.Fatal("no update dispatched")
	}

	// Control acks and junk are dropped without blocking.
	s.dispatch([]byte(`{"stream":"authorization","data":{"status":"authorized"}}`))
	s.dispatch([]byte(`not json`))
	select {
	case u := <-s.Updates():
		t.Errorf("unexpected update %+v", u)
	default:
	}
}

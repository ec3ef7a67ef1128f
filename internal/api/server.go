// Package api serves the ingress and operator HTTP endpoints: the
// authenticated TradingView webhook, the kill switch, recent-trades and
// account-standing read endpoints, and a health probe. Every webhook request, valid or not, is
// recorded as a WebhookEvent before any other work happens, so the audit
// trail survives validation failures and executor errors.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"proptrader/internal/config"
	"proptrader/internal/ledger"
	"proptrader/internal/propfirm"
	"proptrader/pkg/types"
)

// Dispatcher routes a validated signal into the execution pipeline.
type Dispatcher interface {
	Execute(ctx context.Context, sig types.Signal, sc *ledger.StrategyConfig) ([]string, error)
}

// Ledger is the store surface the ingress writes and reads.
type Ledger interface {
	CreateWebhookEvent(e *ledger.WebhookEvent) error
	UpdateWebhookStatus(webhookID string, status ledger.WebhookStatus, errMsg string) error
	MarkWebhookValidated(webhookID string, sig types.Signal) error
	StrategyByName(name string) (*ledger.StrategyConfig, error)
	SetKillSwitch(active bool) error
	RecentTrades(limit int) ([]ledger.Trade, error)
}

// Actuator is the broker surface behind the kill switch: flatten
// everything, now.
type Actuator interface {
	CancelAllOrders(ctx context.Context) error
	CloseAllPositions(ctx context.Context) error
}

// AccountSource reports the prop-firm account standings.
type AccountSource interface {
	Summaries() ([]propfirm.Summary, error)
}

// Server is the ingress HTTP server.
type Server struct {
	store      Ledger
	dispatcher Dispatcher
	actuator   Actuator
	accounts   AccountSource
	authToken  string
	throttle   *sourceThrottle
	log        *slog.Logger

	httpServer *http.Server
}

// New builds the ingress server.
func New(store Ledger, dispatcher Dispatcher, actuator Actuator, accounts AccountSource, cfg config.WebhookConfig, apiCfg config.APIConfig, log *slog.Logger) *Server {
	s := &Server{
		store:      store,
		dispatcher: dispatcher,
		actuator:   actuator,
		accounts:   accounts,
		authToken:  cfg.AuthToken,
		throttle:   newSourceThrottle(cfg.Burst, cfg.RatePerSecond),
		log:        log.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/webhooks/tradingview/", s.handleTradingView)
	mux.HandleFunc("POST /api/v1/killswitch", s.handleKillSwitch)
	mux.HandleFunc("GET /api/v1/trades", s.handleTrades)
	mux.HandleFunc("GET /api/v1/accounts", s.handleAccounts)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", apiCfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	return s
}

// Handler exposes the routing mux. Test hook.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// ListenAndServe blocks until the server stops. http.ErrServerClosed is
// swallowed: a clean Shutdown is not an error.
func (s *Server) ListenAndServe() error {
	s.log.Info("ingress listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// envelope is the uniform response wrapper.
type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Status: "success", Message: "ok"})
}

// handleKillSwitch flips the global kill switch. Activation also flattens
// the book at the broker: cancel every order, liquidate every position.
func (s *Server) handleKillSwitch(w http.ResponseWriter, r *http.Request) {
	if token := r.Header.Get("X-API-Token"); token == "" || token != s.authToken {
		writeJSON(w, http.StatusUnauthorized, envelope{Status: "error", Message: "invalid or missing API token"})
		return
	}

	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Status: "error", Message: "invalid JSON payload"})
		return
	}

	if err := s.store.SetKillSwitch(req.Active); err != nil {
		s.log.Error("setting kill switch", "error", err)
		writeJSON(w, http.StatusInternalServerError, envelope{Status: "error", Message: "internal error"})
		return
	}

	if req.Active {
		s.log.Warn("kill switch ACTIVATED, flattening book")
		if err := s.actuator.CancelAllOrders(r.Context()); err != nil {
			s.log.Error("cancel all orders", "error", err)
		}
		if err := s.actuator.CloseAllPositions(r.Context()); err != nil {
			s.log.Error("close all positions", "error", err)
		}
	} else {
		s.log.Info("kill switch deactivated")
	}

	writeJSON(w, http.StatusOK, envelope{
		Status:  "success",
		Data:    map[string]bool{"kill_switch_active": req.Active},
		Message: "kill switch updated",
	})
}

// tradeView is the read-model row returned by the trades endpoint.
type tradeView struct {
	TradeID         string              `json:"trade_id"`
	Symbol          string              `json:"symbol"`
	Side            types.Side          `json:"side"`
	Quantity        decimal.Decimal     `json:"quantity"`
	Status          types.TradeStatus   `json:"status"`
	FillPrice       decimal.NullDecimal `json:"fill_price"`
	RealizedPnL     decimal.NullDecimal `json:"realized_pnl"`
	Strategy        string              `json:"strategy,omitempty"`
	BrokerAccountID string              `json:"broker_account_id,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// handleTrades returns the newest trades, newest first.
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if token := r.Header.Get("X-API-Token"); token == "" || token != s.authToken {
		writeJSON(w, http.StatusUnauthorized, envelope{Status: "error", Message: "invalid or missing API token"})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeJSON(w, http.StatusBadRequest, envelope{Status: "error", Message: "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	trades, err := s.store.RecentTrades(limit)
	if err != nil {
		s.log.Error("listing trades", "error", err)
		writeJSON(w, http.StatusInternalServerError, envelope{Status: "error", Message: "internal error"})
		return
	}

	views := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		views = append(views, tradeView{
			TradeID:         t.TradeID,
			Symbol:          t.Symbol,
			Side:            t.Side,
			Quantity:        t.Quantity,
			Status:          t.Status,
			FillPrice:       t.FillPrice,
			RealizedPnL:     t.RealizedPnL,
			Strategy:        t.Strategy,
			BrokerAccountID: t.BrokerAccountID,
			CreatedAt:       t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, envelope{Status: "success", Data: map[string]any{"trades": views}})
}

// handleAccounts returns a standing snapshot of every active prop-firm
// account.
func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if token := r.Header.Get("X-API-Token"); token == "" || token != s.authToken {
		writeJSON(w, http.StatusUnauthorized, envelope{Status: "error", Message: "invalid or missing API token"})
		return
	}

	sums, err := s.accounts.Summaries()
	if err != nil {
		s.log.Error("listing account summaries", "error", err)
		writeJSON(w, http.StatusInternalServerError, envelope{Status: "error", Message: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, envelope{Status: "success", Data: map[string]any{"accounts": sums}})
}

// webhookPayload is the TradingView alert body.
type webhookPayload struct {
	Ticker    string `json:"ticker"`
	Action    string `json:"action"`
	Quantity  string `json:"quantity"`
	Price     string `json:"price"`
	Strategy  string `json:"strategy"`
	Timestamp string `json:"timestamp"`
}

// dispatchData is the success response body.
type dispatchData struct {
	WebhookID string          `json:"webhook_id"`
	TradeIDs  []string        `json:"trade_ids"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
}

func (s *Server) handleTradingView(w http.ResponseWriter, r *http.Request) {
	if token := r.Header.Get("X-API-Token"); token == "" || token != s.authToken {
		writeJSON(w, http.StatusUnauthorized, envelope{Status: "error", Message: "invalid or missing API token"})
		return
	}

	source := clientIP(r)
	if !s.throttle.allow(source) {
		writeJSON(w, http.StatusTooManyRequests, envelope{Status: "error", Message: "rate limit exceeded"})
		return
	}

	body := http.MaxBytesReader(w, r.Body, 1<<16)
	var payload webhookPayload
	raw, decodeErr := io.ReadAll(body)

	// Audit first. The event row exists even when the payload is garbage.
	event := &ledger.WebhookEvent{
		WebhookID: ledger.NewWebhookID(),
		Source:    "tradingview",
		Payload:   string(raw),
		Status:    ledger.WebhookReceived,
		IPAddress: source,
	}
	if err := s.store.CreateWebhookEvent(event); err != nil {
		s.log.Error("persisting webhook event", "error", err)
		writeJSON(w, http.StatusInternalServerError, envelope{Status: "error", Message: "internal error"})
		return
	}

	if decodeErr == nil {
		decodeErr = json.Unmarshal(raw, &payload)
	}
	sig, err := parseSignal(payload, decodeErr)
	if err != nil {
		s.reject(w, event.WebhookID, err.Error())
		return
	}
	sig.WebhookID = event.WebhookID

	if err := s.store.MarkWebhookValidated(event.WebhookID, sig); err != nil {
		s.log.Error("marking webhook validated", "webhook_id", event.WebhookID, "error", err)
	}

	// Unknown strategies run against the default account set.
	var sc *ledger.StrategyConfig
	if sig.StrategyName != "" {
		if found, err := s.store.StrategyByName(sig.StrategyName); err == nil {
			sc = found
		}
	}

	tradeIDs, err := s.dispatcher.Execute(r.Context(), sig, sc)
	if err != nil {
		s.log.Error("webhook dispatch failed",
			"webhook_id", event.WebhookID, "symbol", sig.Ticker, "error", err)
		s.store.UpdateWebhookStatus(event.WebhookID, ledger.WebhookError, err.Error())
		writeJSON(w, http.StatusInternalServerError, envelope{Status: "error", Message: "order submission failed"})
		return
	}

	s.store.UpdateWebhookStatus(event.WebhookID, ledger.WebhookDispatched, "")
	s.log.Info("webhook dispatched",
		"webhook_id", event.WebhookID, "symbol", sig.Ticker,
		"action", sig.Action, "trades", len(tradeIDs))

	writeJSON(w, http.StatusOK, envelope{
		Status: "success",
		Data: dispatchData{
			WebhookID: event.WebhookID,
			TradeIDs:  tradeIDs,
			Symbol:    sig.Ticker,
			Side:      string(sig.Action),
			Quantity:  sig.Quantity,
		},
		Message: "signal dispatched",
	})
}

func (s *Server) reject(w http.ResponseWriter, webhookID, reason string) {
	s.store.UpdateWebhookStatus(webhookID, ledger.WebhookRejected, reason)
	writeJSON(w, http.StatusBadRequest, envelope{Status: "error", Message: reason})
}

// parseSignal validates the payload into a typed Signal.
func parseSignal(p webhookPayload, decodeErr error) (types.Signal, error) {
	if decodeErr != nil {
		return types.Signal{}, fmt.Errorf("invalid JSON payload")
	}

	ticker := strings.ToUpper(strings.TrimSpace(p.Ticker))
	if ticker == "" {
		return types.Signal{}, fmt.Errorf("ticker is required")
	}

	action := types.Action(strings.ToLower(strings.TrimSpace(p.Action)))
	if action != types.ActionBuy && action != types.ActionSell {
		return types.Signal{}, fmt.Errorf("action must be buy or sell, got %q", p.Action)
	}

	qty, err := decimal.NewFromString(strings.TrimSpace(p.Quantity))
	if err != nil || !qty.IsPositive() {
		return types.Signal{}, fmt.Errorf("quantity must be a positive number, got %q", p.Quantity)
	}

	sig := types.Signal{
		Action:       action,
		Ticker:       ticker,
		Quantity:     qty,
		Reason:       "TradingView webhook",
		StrategyName: strings.TrimSpace(p.Strategy),
	}
	if p.Price != "" {
		price, err := decimal.NewFromString(strings.TrimSpace(p.Price))
		if err != nil || price.Sign() < 0 {
			return types.Signal{}, fmt.Errorf("price must be a non-negative number, got %q", p.Price)
		}
		sig.Price = price
	}
	return sig, nil
}

// clientIP extracts the requester's address, preferring X-Forwarded-For
// when the ingress sits behind a proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// sourceThrottle applies a token bucket per source address. Buckets refill
// continuously so a steady sender never hits the burst cap.
type sourceThrottle struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket

	capacity float64
	rate     float64
}

func newSourceThrottle(capacity, ratePerSecond float64) *sourceThrottle {
	return &sourceThrottle{
		buckets:  map[string]*tokenBucket{},
		capacity: capacity,
		rate:     ratePerSecond,
	}
}

func (t *sourceThrottle) allow(source string) bool {
	t.mu.Lock()
	b, ok := t.buckets[source]
	if !ok {
		b = &tokenBucket{tokens: t.capacity, capacity: t.capacity, rate: t.rate, lastTime: time.Now()}
		t.buckets[source] = b
	}
	t.mu.Unlock()
	return b.take()
}

type tokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	lastTime time.Time
}

// take consumes one token if available. Non-blocking: ingress requests are
// rejected, not queued.
func (b *tokenBucket) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.lastTime).Seconds() * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastTime = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

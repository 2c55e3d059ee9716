package qx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/kirillm/qx-signal-bot/internal/broker"
	"github.com/kirillm/qx-signal-bot/internal/config"
	"github.com/kirillm/qx-signal-bot/internal/domain"
)

const (
	settlementPollInterval = 2 * time.Second
	// Если после истечения опциона итог не удаётся получить в течение
	// этого времени, сделка объявляется VOID
	settlementGracePeriod = 60 * time.Second
)

// Client - HTTP-клиент qxbroker. Методы чтения ретраятся с экспоненциальным
// бэкоффом; SubmitOrder отправляется ровно один раз.
type Client struct {
	cfg     config.BrokerConfig
	baseURL string
	client  *http.Client
	logger  zerolog.Logger

	mu      sync.Mutex
	token   string
	pending map[string]pendingOrder // brokerOrderID -> ожидание расчёта

	settlements chan broker.Settlement
	done        chan struct{}
	closeOnce   sync.Once
}

type pendingOrder struct {
	tradeID   string
	expiresAt time.Time
}

type loginResponse struct {
	Token   string  `json:"token"`
	Balance float64 `json:"balance"`
	Error   string  `json:"error"`
}

type balanceResponse struct {
	Balance float64 `json:"balance"`
	Error   string  `json:"error"`
}

type instrumentResponse struct {
	Symbol string  `json:"symbol"`
	Open   bool    `json:"open"`
	Payout float64 `json:"payout"`
	Error  string  `json:"error"`
}

type orderResponse struct {
	OrderID   string  `json:"orderId"`
	OpenPrice float64 `json:"openPrice"`
	OpenedAt  int64   `json:"openedAt"` // unix millis
	Error     string  `json:"error"`
}

type orderStatusResponse struct {
	OrderID string  `json:"orderId"`
	Status  string  `json:"status"` // open, win, loss
	PnL     float64 `json:"pnl"`
	Error   string  `json:"error"`
}

// NewClient создает клиент qxbroker
func NewClient(cfg config.BrokerConfig, logger zerolog.Logger) *Client {
	return &Client{
		cfg:         cfg,
		baseURL:     fmt.Sprintf("https://%s/api/v1", cfg.Host),
		client:      &http.Client{Timeout: cfg.Timeout},
		logger:      logger.With().Str("component", "broker").Logger(),
		pending:     make(map[string]pendingOrder),
		settlements: make(chan broker.Settlement, 64),
		done:        make(chan struct{}),
	}
}

// Connect выполняет вход и запускает наблюдение за расчётами.
// Логин ретраится с экспоненциальным бэкоффом.
func (c *Client) Connect(ctx context.Context) error {
	operation := func() error {
		return c.login(ctx)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	go c.watchSettlements()

	c.logger.Info().
		Str("host", c.cfg.Host).
		Str("mode", c.cfg.Mode).
		Msg("✅ Connected to broker")
	return nil
}

func (c *Client) login(ctx context.Context) error {
	payload := map[string]string{
		"email":    c.cfg.Email,
		"password": c.cfg.Password,
		"account":  c.cfg.Mode,
	}

	var resp loginResponse
	if err := c.post(ctx, "/login", payload, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("%w: %s", domain.ErrBrokerAPI, resp.Error)
	}
	if resp.Token == "" {
		return fmt.Errorf("%w: empty session token", domain.ErrBrokerAPI)
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	return nil
}

// Close останавливает наблюдение и закрывает канал расчётов
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// GetBalance возвращает баланс счёта, с ретраями
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	if err := c.requireSession(); err != nil {
		return 0, err
	}

	var balance float64
	operation := func() error {
		var resp balanceResponse
		if err := c.get(ctx, "/balance?account="+c.cfg.Mode, &resp); err != nil {
			return err
		}
		if resp.Error != "" {
			return fmt.Errorf("%w: %s", domain.ErrBrokerAPI, resp.Error)
		}
		balance = resp.Balance
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// IsMarketOpen проверяет доступность актива для торговли
func (c *Client) IsMarketOpen(ctx context.Context, asset string) (bool, error) {
	inst, err := c.instrument(ctx, asset)
	if err != nil {
		return false, err
	}
	return inst.Open, nil
}

// GetPayout возвращает процент выплаты по активу
func (c *Client) GetPayout(ctx context.Context, asset string) (float64, error) {
	inst, err := c.instrument(ctx, asset)
	if err != nil {
		return 0, err
	}
	if !inst.Open {
		return 0, fmt.Errorf("%w: %s", domain.ErrMarketClosed, asset)
	}
	return inst.Payout, nil
}

func (c *Client) instrument(ctx context.Context, asset string) (*instrumentResponse, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}

	var inst instrumentResponse
	operation := func() error {
		if err := c.get(ctx, "/instruments/"+asset, &inst); err != nil {
			return err
		}
		if inst.Error != "" {
			return fmt.Errorf("%w: %s", domain.ErrBrokerAPI, inst.Error)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 15 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("failed to get instrument %s: %w", asset, err)
	}
	return &inst, nil
}

// SubmitOrder отправляет заявку. Ровно одна попытка: при ошибке после
// отправки итог неизвестен, решение принимает вызывающий.
func (c *Client) SubmitOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"asset":         req.Asset,
		"direction":     req.Direction,
		"amount":        req.Amount,
		"duration":      req.Duration,
		"account":       c.cfg.Mode,
		"clientOrderId": req.TradeID,
	}

	var resp orderResponse
	if err := c.post(ctx, "/orders", payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to submit order: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrBrokerAPI, resp.Error)
	}
	if resp.OrderID == "" {
		return nil, fmt.Errorf("%w: empty order id", domain.ErrBrokerAPI)
	}

	openedAt := time.UnixMilli(resp.OpenedAt)
	if resp.OpenedAt == 0 {
		openedAt = time.Now()
	}
	expiresAt := openedAt.Add(time.Duration(req.Duration) * time.Second)

	c.mu.Lock()
	c.pending[resp.OrderID] = pendingOrder{tradeID: req.TradeID, expiresAt: expiresAt}
	c.mu.Unlock()

	return &broker.OrderResult{
		BrokerOrderID: resp.OrderID,
		OpenedAt:      openedAt,
		ExpiresAt:     expiresAt,
		OpenPrice:     resp.OpenPrice,
	}, nil
}

// Settlements возвращает канал итогов опционов
func (c *Client) Settlements() <-chan broker.Settlement {
	return c.settlements
}

// watchSettlements опрашивает статусы истёкших опционов
func (c *Client) watchSettlements() {
	ticker := time.NewTicker(settlementPollInterval)
	defer ticker.Stop()
	defer close(c.settlements)

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.pollExpired()
		}
	}
}

func (c *Client) pollExpired() {
	now := time.Now()

	c.mu.Lock()
	var due []string
	for orderID, p := range c.pending {
		if now.After(p.expiresAt) {
			due = append(due, orderID)
		}
	}
	c.mu.Unlock()

	for _, orderID := range due {
		c.resolveOrder(orderID, now)
	}
}

// resolveOrder получает итог одного опциона. Если брокер так и не отдал
// итог до конца грейс-периода, сделка объявляется VOID.
func (c *Client) resolveOrder(orderID string, now time.Time) {
	c.mu.Lock()
	p, ok := c.pending[orderID]
	c.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()

	var resp orderStatusResponse
	err := c.get(ctx, "/orders/"+orderID, &resp)
	if err == nil && resp.Error != "" {
		err = fmt.Errorf("%w: %s", domain.ErrBrokerAPI, resp.Error)
	}

	switch {
	case err == nil && resp.Status == "win":
		c.emit(orderID, p, broker.OutcomeWon, resp.PnL, now)
	case err == nil && resp.Status == "loss":
		c.emit(orderID, p, broker.OutcomeLost, resp.PnL, now)
	case err == nil && resp.Status == "open":
		// Брокер ещё считает, ждём следующего тика
	case now.Sub(p.expiresAt) > settlementGracePeriod:
		c.logger.Error().
			Str("broker_order_id", orderID).
			Err(err).
			Msg("❌ Settlement unresolved after grace period, voiding trade")
		c.emit(orderID, p, broker.OutcomeVoid, 0, now)
	default:
		c.logger.Warn().
			Str("broker_order_id", orderID).
			Err(err).
			Msg("Settlement poll failed, will retry")
	}
}

func (c *Client) emit(orderID string, p pendingOrder, outcome string, pnl float64, now time.Time) {
	c.mu.Lock()
	delete(c.pending, orderID)
	c.mu.Unlock()

	select {
	case c.settlements <- broker.Settlement{
		BrokerOrderID: orderID,
		TradeID:       p.tradeID,
		Outcome:       outcome,
		PnL:           pnl,
		SettledAt:     now,
	}:
	case <-c.done:
	}
}

func (c *Client) requireSession() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return domain.ErrNotConnected
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	c.mu.Lock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.Unlock()

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d: %s", domain.ErrBrokerAPI, resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

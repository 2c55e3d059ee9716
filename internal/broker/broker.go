package broker

import (
	"context"
	"time"
)

// OrderRequest - заявка на бинарный опцион
type OrderRequest struct {
	TradeID   string // наш идентификатор, попадает в clientOrderId
	Asset     string
	Direction string // domain.DirectionUp / DirectionDown
	Amount    float64
	Duration  int // секунды
}

// OrderResult - подтверждение принятой брокером заявки
type OrderResult struct {
	BrokerOrderID string
	OpenedAt      time.Time
	ExpiresAt     time.Time
	OpenPrice     float64
}

// Settlement - итог опциона, полученный от брокера
type Settlement struct {
	BrokerOrderID string
	TradeID       string
	Outcome       string // WON, LOST или VOID при неоднозначном итоге
	PnL           float64
	SettledAt     time.Time
}

// Исходы расчёта
const (
	OutcomeWon  = "WON"
	OutcomeLost = "LOST"
	OutcomeVoid = "VOID"
)

// Broker - клиент брокера бинарных опционов.
// SubmitOrder выполняется не более одного раза на заявку: при сетевой
// неоднозначности повтор может открыть дубль сделки, поэтому ретраи
// допустимы только на чтениях (баланс, котировки, статус).
type Broker interface {
	Connect(ctx context.Context) error
	Close() error

	GetBalance(ctx context.Context) (float64, error)
	IsMarketOpen(ctx context.Context, asset string) (bool, error)
	GetPayout(ctx context.Context, asset string) (float64, error)

	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	// Settlements отдаёт итоги опционов по мере их истечения.
	// Канал закрывается после Close.
	Settlements() <-chan Settlement
}

package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/kirillm/qx-signal-bot/internal/config"
	"github.com/kirillm/qx-signal-bot/internal/domain"
)

// Decision - результат проверки сигнала риск-движком
type Decision struct {
	Approved bool
	Stake    float64
	Reason   string // domain.Deny* при отказе
	Detail   string
}

// Engine проверяет сигналы против риск-лимитов и рассчитывает размер ставки.
// Evaluate - чистая функция от снапшота состояния; единственные точки
// мутации - RecordOpen и RecordOutcome, вызываемые оркестратором.
type Engine struct {
	cfg     config.RiskConfig
	trading config.TradingConfig
	hours   *hoursWindow // nil = круглосуточно
	logger  zerolog.Logger
}

// NewEngine создает риск-движок. Конфигурация принимается уже действующей:
// YAML-профиль накладывается раньше, через ApplyProfile.
func NewEngine(cfg config.RiskConfig, trading config.TradingConfig, logger zerolog.Logger) (*Engine, error) {
	hours, err := parseHoursWindow(cfg.TradingHoursWindow)
	if err != nil {
		return nil, fmt.Errorf("invalid TRADING_HOURS_WINDOW: %w", err)
	}

	return &Engine{
		cfg:     cfg,
		trading: trading,
		hours:   hours,
		logger:  logger.With().Str("component", "risk").Logger(),
	}, nil
}

// Evaluate проверяет сигнал против лимитов и считает ставку.
// martingaleBase > 0 подставляется вместо базовой суммы: кэпы применяются
// и к martingale-ставке, уменьшить её могут, обойти лимиты - нет.
// Проверки идут по порядку с остановкой на первом отказе.
func (e *Engine) Evaluate(sig *domain.Signal, state domain.RiskState, balance, martingaleBase float64, now time.Time) Decision {
	// Суточный сброс применяется к копии состояния до всех проверок
	applyDailyReset(&state, now)

	if state.DailyLossTotal >= e.cfg.MaxDailyLoss {
		return deny(domain.DenyDailyLossLimit,
			fmt.Sprintf("daily loss %.2f >= limit %.2f", state.DailyLossTotal, e.cfg.MaxDailyLoss))
	}

	if state.OpenTradeCount >= e.cfg.MaxConcurrentTrades {
		return deny(domain.DenyConcurrencyLimit,
			fmt.Sprintf("%d trades already open", state.OpenTradeCount))
	}

	if state.ConsecutiveLosses >= e.cfg.MaxConsecutiveLosses {
		return deny(domain.DenyConsecutiveLossPause,
			fmt.Sprintf("%d consecutive losses", state.ConsecutiveLosses))
	}

	if e.hours != nil && !e.hours.contains(now) {
		return deny(domain.DenyOutsideMarketHours, now.Format("15:04"))
	}

	if sig.Confidence < e.cfg.MinSignalConfidence {
		return deny(domain.DenyLowConfidence,
			fmt.Sprintf("confidence %d < %d", sig.Confidence, e.cfg.MinSignalConfidence))
	}

	stake := e.computeStake(sig, state, balance, martingaleBase)

	// Подушка: после сделки на счету должна остаться хотя бы ещё одна ставка
	if balance < stake*2 {
		return deny(domain.DenyInsufficientBalance,
			fmt.Sprintf("balance %.2f < 2x stake %.2f", balance, stake))
	}

	return Decision{Approved: true, Stake: stake}
}

// computeStake считает размер ставки: база, демпфирование после убыточной
// серии, кэп по проценту риска, клемп в границы [min, max]
func (e *Engine) computeStake(sig *domain.Signal, state domain.RiskState, balance, martingaleBase float64) float64 {
	base := e.trading.DefaultTradeAmount
	if sig.RequestedAmount > 0 {
		base = sig.RequestedAmount
	}
	if martingaleBase > 0 {
		base = martingaleBase
	} else if state.ConsecutiveLosses > 0 {
		// После убытков ставка осторожнее; martingale-ставку не трогаем,
		// иначе восстановление не покроет цепочку
		base *= math.Pow(0.9, float64(state.ConsecutiveLosses))
	}

	riskCap := balance * e.cfg.RiskPercentage / 100
	stake := math.Min(base, riskCap)

	if stake < e.trading.MinTradeAmount {
		stake = e.trading.MinTradeAmount
	}
	if stake > e.trading.MaxTradeAmount {
		stake = e.trading.MaxTradeAmount
	}
	return stake
}

// RecordOpen фиксирует переход сделки PENDING -> OPEN
func (e *Engine) RecordOpen(state *domain.RiskState) {
	state.OpenTradeCount++
}

// RecordOutcome применяет финальный исход сделки к состоянию риска.
// Вызывается ровно один раз на терминальную сделку; недействительные
// сделки увеличивают счётчик сделок, но не сумму убытка и не серию.
func (e *Engine) RecordOutcome(state *domain.RiskState, trade *domain.Trade, now time.Time) error {
	if !trade.Terminal() {
		return fmt.Errorf("%w: trade %s status %s is not terminal", domain.ErrInvalidInput, trade.ID, trade.Status)
	}
	if state.OpenTradeCount <= 0 {
		return fmt.Errorf("%w: settlement with no open trades", domain.ErrStateCorrupted)
	}

	applyDailyReset(state, now)

	switch trade.Status {
	case domain.StatusWon:
		state.ConsecutiveLosses = 0
		// Выигрыш уменьшает дневной убыток, но не уводит его ниже нуля
		state.DailyLossTotal = math.Max(0, state.DailyLossTotal-trade.PnL)
	case domain.StatusLost:
		state.ConsecutiveLosses++
		state.DailyLossTotal += math.Abs(trade.PnL)
	case domain.StatusExpiredVoid:
		// Ни выигрыш, ни проигрыш: серия и убыток не меняются
	}

	state.DailyTradeCount++
	state.OpenTradeCount--

	e.logger.Debug().
		Str("trade_id", trade.ID).
		Str("status", trade.Status).
		Float64("daily_loss", state.DailyLossTotal).
		Int("consecutive_losses", state.ConsecutiveLosses).
		Int("open_trades", state.OpenTradeCount).
		Msg("Outcome recorded")

	return nil
}

// applyDailyReset обнуляет суточные счётчики при смене календарной даты.
// Сравнение по локальной дате, сброс срабатывает ровно один раз на границе.
func applyDailyReset(state *domain.RiskState, now time.Time) {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	if state.LastResetDate.IsZero() {
		state.LastResetDate = today
		return
	}
	if today.After(state.LastResetDate) {
		state.DailyLossTotal = 0
		state.DailyTradeCount = 0
		state.LastResetDate = today
	}
}

func deny(reason, detail string) Decision {
	return Decision{Approved: false, Reason: reason, Detail: detail}
}

// hoursWindow - торговое окно "HH:MM-HH:MM", возможно через полночь
type hoursWindow struct {
	startMin int // минуты от полуночи
	endMin   int
}

func parseHoursWindow(s string) (*hoursWindow, error) {
	if s == "" {
		return nil, nil
	}

	var sh, sm, eh, em int
	if _, err := fmt.Sscanf(s, "%d:%d-%d:%d", &sh, &sm, &eh, &em); err != nil {
		return nil, fmt.Errorf("expected HH:MM-HH:MM, got %q", s)
	}
	if sh > 23 || eh > 23 || sm > 59 || em > 59 {
		return nil, fmt.Errorf("out of range: %q", s)
	}

	return &hoursWindow{startMin: sh*60 + sm, endMin: eh*60 + em}, nil
}

func (w *hoursWindow) contains(now time.Time) bool {
	cur := now.Hour()*60 + now.Minute()
	if w.startMin <= w.endMin {
		return cur >= w.startMin && cur < w.endMin
	}
	// Окно через полночь, например 22:00-06:00
	return cur >= w.startMin || cur < w.endMin
}

package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/kirillm/qx-signal-bot/internal/broker"
	"github.com/kirillm/qx-signal-bot/internal/config"
	"github.com/kirillm/qx-signal-bot/internal/domain"
	"github.com/kirillm/qx-signal-bot/internal/martingale"
	"github.com/kirillm/qx-signal-bot/internal/risk"
	"github.com/kirillm/qx-signal-bot/internal/signal"
	"github.com/kirillm/qx-signal-bot/internal/telegram"
)

// Store - персистентность, нужная оркестратору
type Store interface {
	SaveSignal(sig *domain.Signal) error
	SaveRejection(rawText, reason, detail string, receivedAt time.Time) error
	SaveTrade(trade *domain.Trade) error
	SettleTrade(tradeID, status string, pnl float64, settledAt time.Time) error
	StartSession(session *domain.TradingSession) error
	FinishSession(session *domain.TradingSession) error
}

// Notifier - асинхронная доставка уведомлений владельцу
type Notifier interface {
	Notify(text string)
}

// Orchestrator ведёт жизненный цикл сделок от сигнала до расчёта.
// Всё состояние (риск-счётчики, сделки в полёте, цепочки) мутируется
// только из цикла Run: одна горутина, никаких гонок.
type Orchestrator struct {
	cfg       config.TradingConfig
	parser    *signal.Parser
	risk      *risk.Engine
	tracker   *martingale.Tracker
	broker    broker.Broker
	store     Store
	notifier  Notifier
	formatter *telegram.Formatter
	logger    zerolog.Logger

	state   domain.RiskState
	session domain.TradingSession
	balance float64

	trades    map[string]*domain.Trade // сделки в полёте, по нашему ID
	byOrder   map[string]string        // brokerOrderID -> tradeID
	settled   map[string]bool          // уже рассчитанные сделки
	scheduled map[string]*time.Timer   // отложенные сигналы, по ID сигнала

	signals      chan *domain.Signal // внутренняя очередь: отложенные и recovery
	shuttingDown bool
	corrupted    bool

	now func() time.Time
}

// DrainTimeout ограничивает ожидание расчёта сделок при остановке
const DrainTimeout = 10 * time.Minute

// New создает оркестратор
func New(
	cfg config.TradingConfig,
	parser *signal.Parser,
	riskEngine *risk.Engine,
	tracker *martingale.Tracker,
	brk broker.Broker,
	store Store,
	notifier Notifier,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		parser:    parser,
		risk:      riskEngine,
		tracker:   tracker,
		broker:    brk,
		store:     store,
		notifier:  notifier,
		formatter: telegram.NewFormatter(),
		logger:    logger.With().Str("component", "orchestrator").Logger(),
		trades:    make(map[string]*domain.Trade),
		byOrder:   make(map[string]string),
		settled:   make(map[string]bool),
		scheduled: make(map[string]*time.Timer),
		signals:   make(chan *domain.Signal, 64),
		now:       time.Now,
	}
}

// Run обрабатывает сообщения и расчёты до отмены контекста, затем
// дожидается итогов сделок в полёте. Единственная горутина, мутирующая
// состояние.
func (o *Orchestrator) Run(ctx context.Context, messages <-chan telegram.RawMessage) error {
	if err := o.startSession(ctx); err != nil {
		return err
	}

	settlements := o.broker.Settlements()

	o.logger.Info().Float64("balance", o.balance).Msg("🚀 Orchestrator started")

	for {
		select {
		case <-ctx.Done():
			return o.shutdown(settlements)

		case msg, ok := <-messages:
			if !ok {
				return o.shutdown(settlements)
			}
			o.handleMessage(msg)

		case sig := <-o.signals:
			o.handleSignal(sig)

		case st, ok := <-settlements:
			if !ok {
				return o.finishSession()
			}
			o.handleSettlement(st)
			if o.corrupted {
				return o.finishSessionWith(domain.ErrStateCorrupted)
			}
		}
	}
}

func (o *Orchestrator) startSession(ctx context.Context) error {
	balance, err := o.broker.GetBalance(ctx)
	if err != nil {
		return err
	}
	o.balance = balance

	o.session = domain.TradingSession{
		ID:           domain.NewID(),
		StartedAt:    o.now(),
		BalanceStart: balance,
	}
	o.state = domain.RiskState{SessionStartBalance: balance}

	if err := o.store.StartSession(&o.session); err != nil {
		o.logger.Error().Err(err).Msg("Failed to persist session start")
	}
	return nil
}

// handleMessage разбирает сырое сообщение и запускает сигнал в работу
func (o *Orchestrator) handleMessage(msg telegram.RawMessage) {
	sig, rej := o.parser.Parse(msg.Text, msg.ReceivedAt)
	if rej != nil {
		o.logger.Debug().
			Str("reason", rej.Reason).
			Str("detail", rej.Detail).
			Msg("Message rejected")
		if err := o.store.SaveRejection(msg.Text, rej.Reason, rej.Detail, msg.ReceivedAt); err != nil {
			o.logger.Error().Err(err).Msg("Failed to persist rejection")
		}
		// UNPARSEABLE - обычный чат-шум, владельца дёргаем только
		// по сообщениям, похожим на сигнал
		if rej.Reason != domain.RejectUnparseable {
			o.notifier.Notify(o.formatter.SignalRejected(rej.Reason, rej.Detail, msg.Text))
		}
		return
	}

	if err := o.store.SaveSignal(sig); err != nil {
		o.logger.Error().Err(err).Msg("Failed to persist signal")
	}

	if sig.Scheduled() {
		o.scheduleSignal(sig)
		return
	}
	o.handleSignal(sig)
}

// scheduleSignal откладывает сигнал до его entry time
func (o *Orchestrator) scheduleSignal(sig *domain.Signal) {
	delay := sig.EntryTime.Sub(o.now())
	if delay <= 0 {
		o.handleSignal(sig)
		return
	}

	o.logger.Info().
		Str("signal_id", sig.ID).
		Str("asset", sig.Asset).
		Time("entry_time", sig.EntryTime).
		Msg("Signal scheduled")

	o.scheduled[sig.ID] = time.AfterFunc(delay, func() {
		select {
		case o.signals <- sig:
		default:
			o.logger.Warn().Str("signal_id", sig.ID).Msg("⚠️ Signal queue full, scheduled entry dropped")
		}
	})
}

// handleSignal проводит сигнал через риск-движок и открывает сделку
func (o *Orchestrator) handleSignal(sig *domain.Signal) {
	delete(o.scheduled, sig.ID)

	if o.shuttingDown {
		o.logger.Info().Str("signal_id", sig.ID).Msg("Signal dropped: shutting down")
		return
	}

	o.refreshBalance()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	open, err := o.broker.IsMarketOpen(ctx, sig.Asset)
	cancel()
	if err != nil {
		o.logger.Error().Err(err).Str("asset", sig.Asset).Msg("Market check failed, skipping signal")
		return
	}
	if !open {
		o.logger.Info().Str("asset", sig.Asset).Msg("Market closed, skipping signal")
		o.notifier.Notify(o.formatter.TradeDenied(sig, domain.DenyOutsideMarketHours, "asset unavailable"))
		return
	}

	// Активная цепочка подменяет базовую ставку до кэпов риск-движка
	base := sig.RequestedAmount
	if base <= 0 {
		base = o.cfg.DefaultTradeAmount
	}
	martingaleBase, step := o.tracker.NextStake(sig.RecoveryKey(), base)
	if step == 0 {
		martingaleBase = 0
	}

	decision := o.risk.Evaluate(sig, o.state, o.balance, martingaleBase, o.now())
	if !decision.Approved {
		o.logger.Info().
			Str("signal_id", sig.ID).
			Str("reason", decision.Reason).
			Str("detail", decision.Detail).
			Msg("🛑 Trade denied")
		o.notifier.Notify(o.formatter.TradeDenied(sig, decision.Reason, decision.Detail))
		return
	}

	o.openTrade(sig, decision.Stake, step)
}

// openTrade отправляет заявку брокеру. Одна попытка: неоднозначный
// сбой после отправки делает сделку недействительной, не повторённой.
func (o *Orchestrator) openTrade(sig *domain.Signal, stake float64, step int) {
	trade := &domain.Trade{
		ID:             domain.NewID(),
		SignalID:       sig.ID,
		Asset:          sig.Asset,
		Direction:      sig.Direction,
		Amount:         stake,
		Duration:       sig.Duration,
		Status:         domain.StatusPending,
		MartingaleStep: step,
		OpenedAt:       o.now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	result, err := o.broker.SubmitOrder(ctx, broker.OrderRequest{
		TradeID:   trade.ID,
		Asset:     trade.Asset,
		Direction: trade.Direction,
		Amount:    trade.Amount,
		Duration:  trade.Duration,
	})
	cancel()

	if err != nil {
		// Исход отправки неизвестен: заявка могла дойти. Сделка
		// объявляется VOID и в счётчики открытых не попадает.
		trade.Status = domain.StatusExpiredVoid
		trade.SettledAt = o.now()
		o.settled[trade.ID] = true
		// Сделка не открывалась, но попытка была: дневной счётчик сделок
		// растёт, дневной убыток не меняется
		o.state.DailyTradeCount++
		o.session.TotalTrades++
		o.session.VoidTrades++
		o.tracker.RecordVoid(sig.RecoveryKey())

		o.logger.Error().
			Err(err).
			Str("trade_id", trade.ID).
			Msg("❌ Order submission failed, voiding trade")

		if saveErr := o.store.SaveTrade(trade); saveErr != nil {
			o.logger.Error().Err(saveErr).Msg("Failed to persist voided trade")
		}
		o.notifier.Notify(o.formatter.TradeSettled(trade))
		return
	}

	trade.BrokerOrderID = result.BrokerOrderID
	trade.Status = domain.StatusOpen
	trade.OpenedAt = result.OpenedAt

	o.risk.RecordOpen(&o.state)
	o.trades[trade.ID] = trade
	o.byOrder[result.BrokerOrderID] = trade.ID

	o.logger.Info().
		Str("trade_id", trade.ID).
		Str("broker_order_id", result.BrokerOrderID).
		Str("asset", trade.Asset).
		Str("direction", trade.Direction).
		Float64("amount", trade.Amount).
		Int("martingale_step", step).
		Msg("✅ Trade opened")

	if err := o.store.SaveTrade(trade); err != nil {
		o.logger.Error().Err(err).Msg("Failed to persist trade")
	}
	o.notifier.Notify(o.formatter.TradeOpened(trade))
}

// handleSettlement применяет итог опциона: ровно один раз на сделку
func (o *Orchestrator) handleSettlement(st broker.Settlement) {
	tradeID := st.TradeID
	if tradeID == "" {
		tradeID = o.byOrder[st.BrokerOrderID]
	}

	if o.settled[tradeID] {
		o.logger.Warn().
			Str("trade_id", tradeID).
			Msg("⚠️ Duplicate settlement ignored")
		return
	}

	trade, ok := o.trades[tradeID]
	if !ok {
		o.logger.Warn().
			Str("trade_id", tradeID).
			Str("broker_order_id", st.BrokerOrderID).
			Msg("Settlement for unknown trade")
		return
	}

	switch st.Outcome {
	case broker.OutcomeWon:
		trade.Status = domain.StatusWon
	case broker.OutcomeLost:
		trade.Status = domain.StatusLost
	default:
		trade.Status = domain.StatusExpiredVoid
	}
	trade.PnL = st.PnL
	trade.SettledAt = st.SettledAt

	if err := o.risk.RecordOutcome(&o.state, trade, o.now()); err != nil {
		if errors.Is(err, domain.ErrStateCorrupted) {
			o.logger.Error().Err(err).Msg("❌ Risk state corrupted, stopping session")
			o.corrupted = true
		} else {
			o.logger.Error().Err(err).Str("trade_id", trade.ID).Msg("Failed to record outcome")
		}
	}

	o.settled[tradeID] = true
	delete(o.trades, tradeID)
	delete(o.byOrder, trade.BrokerOrderID)

	o.session.TotalTrades++
	o.session.TotalPnL += trade.PnL
	switch trade.Status {
	case domain.StatusWon:
		o.session.WinningTrades++
	case domain.StatusLost:
		o.session.LosingTrades++
	case domain.StatusExpiredVoid:
		o.session.VoidTrades++
	}

	if err := o.store.SettleTrade(trade.ID, trade.Status, trade.PnL, trade.SettledAt); err != nil {
		if errors.Is(err, domain.ErrDuplicateSettlement) {
			o.logger.Warn().Str("trade_id", trade.ID).Msg("Trade already settled in storage")
		} else {
			o.logger.Error().Err(err).Msg("Failed to persist settlement")
		}
	}

	o.logger.Info().
		Str("trade_id", trade.ID).
		Str("status", trade.Status).
		Float64("pnl", trade.PnL).
		Msg("Trade settled")
	o.notifier.Notify(o.formatter.TradeSettled(trade))

	o.applyMartingale(trade)
}

// applyMartingale решает судьбу цепочки после исхода и при
// продолжении ставит recovery-сигнал во внутреннюю очередь
func (o *Orchestrator) applyMartingale(trade *domain.Trade) {
	key := trade.Asset + "|" + trade.Direction

	switch trade.Status {
	case domain.StatusWon:
		o.tracker.RecordWin(key)
		return
	case domain.StatusExpiredVoid:
		o.tracker.RecordVoid(key)
		return
	}

	next, recover := o.tracker.RecordLoss(key, trade.SignalID, trade.Amount, o.balance)
	if !recover || o.shuttingDown {
		return
	}

	recovery := &domain.Signal{
		ID:              domain.NewID(),
		Asset:           trade.Asset,
		Direction:       trade.Direction,
		RequestedAmount: next,
		Duration:        trade.Duration,
		Confidence:      100, // порог уверенности к восстановлению не применяется
		Source:          domain.SourceRecovery,
		ReceivedAt:      o.now(),
	}

	if err := o.store.SaveSignal(recovery); err != nil {
		o.logger.Error().Err(err).Msg("Failed to persist recovery signal")
	}

	select {
	case o.signals <- recovery:
	default:
		o.logger.Warn().Str("key", key).Msg("⚠️ Signal queue full, recovery dropped")
		o.tracker.RecordVoid(key)
	}
}

// shutdown прекращает приём сигналов и дожидается итогов сделок в полёте
func (o *Orchestrator) shutdown(settlements <-chan broker.Settlement) error {
	o.shuttingDown = true

	for id, timer := range o.scheduled {
		timer.Stop()
		delete(o.scheduled, id)
	}

	if len(o.trades) == 0 {
		return o.finishSession()
	}

	o.logger.Info().
		Int("in_flight", len(o.trades)).
		Msg("🛑 Shutting down, draining in-flight trades")

	deadline := time.NewTimer(DrainTimeout)
	defer deadline.Stop()

	for len(o.trades) > 0 {
		select {
		case st, ok := <-settlements:
			if !ok {
				return o.finishSession()
			}
			o.handleSettlement(st)
			if o.corrupted {
				return o.finishSessionWith(domain.ErrStateCorrupted)
			}
		case <-deadline.C:
			o.logger.Error().
				Int("unresolved", len(o.trades)).
				Msg("❌ Drain timeout, trades left unresolved")
			return o.finishSession()
		}
	}
	return o.finishSession()
}

func (o *Orchestrator) finishSession() error {
	o.refreshBalance()
	o.session.EndedAt = o.now()
	o.session.BalanceEnd = o.balance

	if err := o.store.FinishSession(&o.session); err != nil {
		o.logger.Error().Err(err).Msg("Failed to persist session finish")
	}

	o.notifier.Notify(o.formatter.SessionSummary(&o.session))
	o.logger.Info().
		Int("trades", o.session.TotalTrades).
		Float64("pnl", o.session.TotalPnL).
		Str("martingale", o.tracker.Summary()).
		Msg("Session finished")
	return nil
}

func (o *Orchestrator) finishSessionWith(err error) error {
	if ferr := o.finishSession(); ferr != nil {
		return ferr
	}
	return err
}

func (o *Orchestrator) refreshBalance() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	balance, err := o.broker.GetBalance(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("Balance refresh failed, using cached value")
		return
	}
	o.balance = balance
}

// Session возвращает снапшот статистики текущей сессии
func (o *Orchestrator) Session() domain.TradingSession {
	return o.session
}

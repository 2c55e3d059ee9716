package risk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kirillm/qx-signal-bot/internal/config"
	"github.com/kirillm/qx-signal-bot/internal/domain"
	"github.com/kirillm/qx-signal-bot/internal/martingale"
)

var testNow = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		RiskPercentage:       2,
		MaxDailyLoss:         500,
		MaxConcurrentTrades:  5,
		MaxConsecutiveLosses: 5,
		MinSignalConfidence:  70,
		MartingaleMultiplier: 2,
		MaxMartingaleSteps:   3,
		BalanceCeilingFrac:   0.5,
	}
}

func testTradingConfig() config.TradingConfig {
	return config.TradingConfig{
		DefaultTradeAmount: 10,
		MinTradeAmount:     1,
		MaxTradeAmount:     100,
		DefaultDuration:    300,
	}
}

func newTestEngine(t *testing.T, cfg config.RiskConfig) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, testTradingConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func testSignal(confidence int, amount float64) *domain.Signal {
	return &domain.Signal{
		ID:              "sig-1",
		Asset:           "EURUSD",
		Direction:       domain.DirectionUp,
		RequestedAmount: amount,
		Confidence:      confidence,
	}
}

func freshState() domain.RiskState {
	return domain.RiskState{LastResetDate: testNow.Truncate(24 * time.Hour)}
}

func TestEvaluate_DenialOrder(t *testing.T) {
	e := newTestEngine(t, testRiskConfig())

	tests := []struct {
		name       string
		state      domain.RiskState
		confidence int
		wantReason string
	}{
		{
			// Дневной лимит проверяется первым, даже если нарушено всё сразу
			"daily loss wins over concurrency",
			domain.RiskState{DailyLossTotal: 600, OpenTradeCount: 5, ConsecutiveLosses: 5, LastResetDate: testNow},
			10,
			domain.DenyDailyLossLimit,
		},
		{
			"concurrency limit",
			domain.RiskState{OpenTradeCount: 5, ConsecutiveLosses: 5, LastResetDate: testNow},
			10,
			domain.DenyConcurrencyLimit,
		},
		{
			"consecutive loss pause",
			domain.RiskState{ConsecutiveLosses: 5, LastResetDate: testNow},
			10,
			domain.DenyConsecutiveLossPause,
		},
		{
			"low confidence",
			domain.RiskState{LastResetDate: testNow},
			50,
			domain.DenyLowConfidence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(testSignal(tt.confidence, 10), tt.state, 1000, 0, testNow)
			if d.Approved {
				t.Fatalf("Evaluate() approved, want denial %s", tt.wantReason)
			}
			if d.Reason != tt.wantReason {
				t.Errorf("Evaluate() reason = %v, want %v", d.Reason, tt.wantReason)
			}
		})
	}
}

func TestEvaluate_StakeSizing(t *testing.T) {
	e := newTestEngine(t, testRiskConfig())

	tests := []struct {
		name           string
		requested      float64
		martingaleBase float64
		losses         int
		balance        float64
		wantStake      float64
	}{
		{"requested amount", 10, 0, 0, 1000, 10},
		{"default when unspecified", 0, 0, 0, 1000, 10},
		{"risk percentage cap", 50, 0, 0, 1000, 20},
		{"min clamp", 0.5, 0, 0, 1000, 1},
		{"martingale capped not bypassed", 10, 40, 0, 1000, 20},
		{"damping after losses", 10, 0, 2, 1000, 8.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := freshState()
			state.ConsecutiveLosses = tt.losses
			d := e.Evaluate(testSignal(90, tt.requested), state, tt.balance, tt.martingaleBase, testNow)
			if !d.Approved {
				t.Fatalf("Evaluate() denied: %s (%s)", d.Reason, d.Detail)
			}
			if diff := d.Stake - tt.wantStake; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Evaluate() stake = %v, want %v", d.Stake, tt.wantStake)
			}
		})
	}
}

func TestEvaluate_InsufficientBalance(t *testing.T) {
	cfg := testRiskConfig()
	cfg.RiskPercentage = 100
	e := newTestEngine(t, cfg)

	// Ставка 10 при балансе 18: после сделки не останется второй ставки
	d := e.Evaluate(testSignal(90, 10), freshState(), 18, 0, testNow)
	if d.Approved {
		t.Fatal("Evaluate() approved, want INSUFFICIENT_BALANCE")
	}
	if d.Reason != domain.DenyInsufficientBalance {
		t.Errorf("Evaluate() reason = %v, want %v", d.Reason, domain.DenyInsufficientBalance)
	}
}

func TestEvaluate_TradingHours(t *testing.T) {
	cfg := testRiskConfig()
	cfg.TradingHoursWindow = "09:00-17:00"
	e := newTestEngine(t, cfg)

	inside := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	if d := e.Evaluate(testSignal(90, 10), freshState(), 1000, 0, inside); !d.Approved {
		t.Errorf("Evaluate() at 12:00 denied: %s", d.Reason)
	}

	outside := time.Date(2026, 8, 28, 8, 0, 0, 0, time.UTC)
	if d := e.Evaluate(testSignal(90, 10), freshState(), 1000, 0, outside); d.Approved || d.Reason != domain.DenyOutsideMarketHours {
		t.Errorf("Evaluate() at 08:00 = %+v, want OUTSIDE_MARKET_HOURS", d)
	}
}

func TestEvaluate_OvernightWindow(t *testing.T) {
	cfg := testRiskConfig()
	cfg.TradingHoursWindow = "22:00-06:00"
	e := newTestEngine(t, cfg)

	night := time.Date(2026, 8, 28, 23, 0, 0, 0, time.UTC)
	if d := e.Evaluate(testSignal(90, 10), freshState(), 1000, 0, night); !d.Approved {
		t.Errorf("Evaluate() at 23:00 denied: %s", d.Reason)
	}

	noon := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	if d := e.Evaluate(testSignal(90, 10), freshState(), 1000, 0, noon); d.Approved {
		t.Error("Evaluate() at 12:00 approved, want denial")
	}
}

func TestEvaluate_DailyResetOnCopy(t *testing.T) {
	e := newTestEngine(t, testRiskConfig())

	// Лимит выбран вчера; сегодняшняя проверка видит сброшенные счётчики
	state := domain.RiskState{
		DailyLossTotal:  600,
		DailyTradeCount: 20,
		LastResetDate:   time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC),
	}

	d := e.Evaluate(testSignal(90, 10), state, 1000, 0, testNow)
	if !d.Approved {
		t.Fatalf("Evaluate() denied: %s, want approval after daily reset", d.Reason)
	}

	// Снапшот вызывающего не мутируется
	if state.DailyLossTotal != 600 {
		t.Errorf("Evaluate() mutated caller state: daily loss = %v", state.DailyLossTotal)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := newTestEngine(t, testRiskConfig())
	state := freshState()
	sig := testSignal(90, 10)

	d1 := e.Evaluate(sig, state, 1000, 0, testNow)
	d2 := e.Evaluate(sig, state, 1000, 0, testNow)
	if d1 != d2 {
		t.Errorf("Evaluate() not deterministic: %+v vs %+v", d1, d2)
	}
}

func TestRecordOutcome(t *testing.T) {
	e := newTestEngine(t, testRiskConfig())

	state := freshState()
	state.OpenTradeCount = 2
	state.ConsecutiveLosses = 1

	lost := &domain.Trade{ID: "t-1", Status: domain.StatusLost, PnL: -10}
	if err := e.RecordOutcome(&state, lost, testNow); err != nil {
		t.Fatalf("RecordOutcome() error = %v", err)
	}
	if state.ConsecutiveLosses != 2 {
		t.Errorf("consecutive losses = %v, want 2", state.ConsecutiveLosses)
	}
	if state.DailyLossTotal != 10 {
		t.Errorf("daily loss = %v, want 10", state.DailyLossTotal)
	}
	if state.OpenTradeCount != 1 {
		t.Errorf("open trades = %v, want 1", state.OpenTradeCount)
	}
	if state.DailyTradeCount != 1 {
		t.Errorf("daily trades = %v, want 1", state.DailyTradeCount)
	}

	won := &domain.Trade{ID: "t-2", Status: domain.StatusWon, PnL: 8}
	if err := e.RecordOutcome(&state, won, testNow); err != nil {
		t.Fatalf("RecordOutcome() error = %v", err)
	}
	if state.ConsecutiveLosses != 0 {
		t.Errorf("consecutive losses = %v, want 0 after win", state.ConsecutiveLosses)
	}
	if state.DailyLossTotal != 2 {
		t.Errorf("daily loss = %v, want 2 after win offset", state.DailyLossTotal)
	}
	if state.OpenTradeCount != 0 {
		t.Errorf("open trades = %v, want 0", state.OpenTradeCount)
	}
}

func TestRecordOutcome_Void(t *testing.T) {
	e := newTestEngine(t, testRiskConfig())

	state := freshState()
	state.OpenTradeCount = 1
	state.ConsecutiveLosses = 2
	state.DailyLossTotal = 30

	void := &domain.Trade{ID: "t-1", Status: domain.StatusExpiredVoid}
	if err := e.RecordOutcome(&state, void, testNow); err != nil {
		t.Fatalf("RecordOutcome() error = %v", err)
	}
	if state.ConsecutiveLosses != 2 || state.DailyLossTotal != 30 {
		t.Errorf("void settlement changed loss counters: %+v", state)
	}
	if state.DailyTradeCount != 1 || state.OpenTradeCount != 0 {
		t.Errorf("void settlement must count the trade: %+v", state)
	}
}

func TestRecordOutcome_Guards(t *testing.T) {
	e := newTestEngine(t, testRiskConfig())

	state := freshState()
	open := &domain.Trade{ID: "t-1", Status: domain.StatusOpen}
	if err := e.RecordOutcome(&state, open, testNow); err == nil {
		t.Error("RecordOutcome() accepted non-terminal trade")
	}

	// Расчёт без открытых сделок означает повреждённое состояние
	lost := &domain.Trade{ID: "t-2", Status: domain.StatusLost, PnL: -10}
	if err := e.RecordOutcome(&state, lost, testNow); err == nil {
		t.Error("RecordOutcome() accepted settlement with zero open trades")
	}
}

func TestRecordOutcome_DayBoundary(t *testing.T) {
	e := newTestEngine(t, testRiskConfig())

	lateNight := time.Date(2026, 8, 28, 23, 59, 0, 0, time.UTC)
	state := domain.RiskState{OpenTradeCount: 2, LastResetDate: time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)}

	lost := &domain.Trade{ID: "t-1", Status: domain.StatusLost, PnL: -10}
	if err := e.RecordOutcome(&state, lost, lateNight); err != nil {
		t.Fatalf("RecordOutcome() error = %v", err)
	}
	if state.DailyLossTotal != 10 || state.DailyTradeCount != 1 {
		t.Fatalf("unexpected state before midnight: %+v", state)
	}

	afterMidnight := time.Date(2026, 8, 29, 0, 1, 0, 0, time.UTC)
	lost2 := &domain.Trade{ID: "t-2", Status: domain.StatusLost, PnL: -5}
	if err := e.RecordOutcome(&state, lost2, afterMidnight); err != nil {
		t.Fatalf("RecordOutcome() error = %v", err)
	}
	if state.DailyLossTotal != 5 {
		t.Errorf("daily loss = %v, want 5 after reset", state.DailyLossTotal)
	}
	if state.DailyTradeCount != 1 {
		t.Errorf("daily trades = %v, want 1 after reset", state.DailyTradeCount)
	}
	// Серия убытков суточным сбросом не обнуляется
	if state.ConsecutiveLosses != 2 {
		t.Errorf("consecutive losses = %v, want 2", state.ConsecutiveLosses)
	}
}

func TestApplyProfile_Override(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "risk_profiles.yaml")
	yaml := `risk_profiles:
  conservative:
    risk_percentage: 1
    max_daily_loss: 100
    min_signal_confidence: 85
  moderate:
    risk_percentage: 2
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testRiskConfig()
	cfg.ProfileFile = path
	cfg.ProfileName = "conservative"
	if err := ApplyProfile(&cfg); err != nil {
		t.Fatalf("ApplyProfile() error = %v", err)
	}

	// Перекрытые значения видны в самой конфигурации, а не только внутри
	// движка: от них строятся парсер и трекер
	if cfg.MaxDailyLoss != 100 {
		t.Errorf("MaxDailyLoss = %v, want 100", cfg.MaxDailyLoss)
	}
	if cfg.MinSignalConfidence != 85 {
		t.Errorf("MinSignalConfidence = %v, want 85", cfg.MinSignalConfidence)
	}

	e := newTestEngine(t, cfg)
	state := freshState()
	state.DailyLossTotal = 150
	d := e.Evaluate(testSignal(90, 10), state, 1000, 0, testNow)
	if d.Approved || d.Reason != domain.DenyDailyLossLimit {
		t.Errorf("Evaluate() = %+v, want DAILY_LOSS_LIMIT under conservative profile", d)
	}
}

func TestApplyProfile_TrackerSeesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "risk_profiles.yaml")
	yaml := `risk_profiles:
  aggressive:
    martingale_multiplier: 3
    max_martingale_steps: 5
    balance_ceiling_frac: 0.8
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testRiskConfig()
	cfg.ProfileFile = path
	cfg.ProfileName = "aggressive"
	if err := ApplyProfile(&cfg); err != nil {
		t.Fatalf("ApplyProfile() error = %v", err)
	}

	tracker := martingale.NewTracker(martingale.Config{
		Enabled:            true,
		Multiplier:         cfg.MartingaleMultiplier,
		MaxSteps:           cfg.MaxMartingaleSteps,
		BalanceCeilingFrac: cfg.BalanceCeilingFrac,
	}, nil, zerolog.Nop())

	// Множитель 3 из профиля: после проигрыша базовой ставки 10
	// следующая ставка 30, а не 20
	next, recover := tracker.RecordLoss("EURUSD|UP", "sig-1", 10, 1000)
	if !recover {
		t.Fatal("RecordLoss() recover = false, want recovery under profile limits")
	}
	if next != 30 {
		t.Errorf("next stake = %v, want 30 with profile multiplier 3", next)
	}
}

func TestApplyProfile_NotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "risk_profiles.yaml")
	if err := os.WriteFile(path, []byte("risk_profiles: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testRiskConfig()
	cfg.ProfileFile = path
	cfg.ProfileName = "aggressive"
	if err := ApplyProfile(&cfg); err == nil {
		t.Error("ApplyProfile() accepted missing profile")
	}
}

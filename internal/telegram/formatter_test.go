package telegram

import (
	"strings"
	"testing"

	"github.com/kirillm/qx-signal-bot/internal/domain"
)

func TestTradeOpened(t *testing.T) {
	f := NewFormatter()

	trade := &domain.Trade{
		Asset:     "EURUSD",
		Direction: domain.DirectionUp,
		Amount:    10,
		Duration:  300,
	}

	msg := f.TradeOpened(trade)
	if !strings.Contains(msg, "EURUSD") {
		t.Errorf("TradeOpened() missing asset: %q", msg)
	}
	if !strings.Contains(msg, "$10.00") {
		t.Errorf("TradeOpened() missing amount: %q", msg)
	}
	if strings.Contains(msg, "Martingale") {
		t.Errorf("TradeOpened() shows martingale step for base trade: %q", msg)
	}

	trade.MartingaleStep = 2
	msg = f.TradeOpened(trade)
	if !strings.Contains(msg, "Martingale step: 2") {
		t.Errorf("TradeOpened() missing martingale step: %q", msg)
	}
}

func TestTradeSettled(t *testing.T) {
	f := NewFormatter()

	tests := []struct {
		name   string
		status string
		pnl    float64
		want   string
	}{
		{"won", domain.StatusWon, 8.5, "WIN"},
		{"lost", domain.StatusLost, -10, "LOSS"},
		{"void", domain.StatusExpiredVoid, 0, "VOID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trade := &domain.Trade{
				Asset:     "EURUSD",
				Direction: domain.DirectionDown,
				Amount:    10,
				Status:    tt.status,
				PnL:       tt.pnl,
			}
			msg := f.TradeSettled(trade)
			if !strings.Contains(msg, tt.want) {
				t.Errorf("TradeSettled() = %q, want substring %q", msg, tt.want)
			}
		})
	}

	// У VOID нет строки P&L
	void := &domain.Trade{Asset: "EURUSD", Status: domain.StatusExpiredVoid}
	if msg := f.TradeSettled(void); strings.Contains(msg, "P&L") {
		t.Errorf("TradeSettled() shows P&L for void trade: %q", msg)
	}
}

func TestSignalRejected_TruncatesLongText(t *testing.T) {
	f := NewFormatter()

	long := strings.Repeat("x", 200)
	msg := f.SignalRejected(domain.RejectUnparseable, "no recognizer matched", long)
	if len(msg) > 250 {
		t.Errorf("SignalRejected() too long: %d chars", len(msg))
	}
	if !strings.Contains(msg, "UNPARSEABLE") {
		t.Errorf("SignalRejected() missing reason: %q", msg)
	}
}

func TestSessionSummary(t *testing.T) {
	f := NewFormatter()

	session := &domain.TradingSession{
		TotalTrades:   10,
		WinningTrades: 6,
		LosingTrades:  3,
		VoidTrades:    1,
		TotalPnL:      42.5,
		BalanceStart:  1000,
		BalanceEnd:    1042.5,
	}

	msg := f.SessionSummary(session)
	if !strings.Contains(msg, "66.7%") {
		t.Errorf("SessionSummary() missing win rate: %q", msg)
	}
	if !strings.Contains(msg, "+42.50") {
		t.Errorf("SessionSummary() missing pnl: %q", msg)
	}
}

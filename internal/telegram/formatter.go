package telegram

import (
	"fmt"
	"strings"

	"github.com/kirillm/qx-signal-bot/internal/domain"
)

// Formatter собирает тексты уведомлений для чата владельца
type Formatter struct{}

// NewFormatter создает форматтер
func NewFormatter() *Formatter {
	return &Formatter{}
}

// TradeOpened - уведомление об открытой сделке
func (f *Formatter) TradeOpened(trade *domain.Trade) string {
	arrow := "📈"
	if trade.Direction == domain.DirectionDown {
		arrow = "📉"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s *Trade opened*\n\n", arrow))
	b.WriteString(fmt.Sprintf("Asset: `%s`\n", trade.Asset))
	b.WriteString(fmt.Sprintf("Direction: %s\n", trade.Direction))
	b.WriteString(fmt.Sprintf("Amount: $%.2f\n", trade.Amount))
	b.WriteString(fmt.Sprintf("Duration: %ds\n", trade.Duration))
	if trade.MartingaleStep > 0 {
		b.WriteString(fmt.Sprintf("Martingale step: %d\n", trade.MartingaleStep))
	}
	return b.String()
}

// TradeSettled - уведомление об итоге сделки
func (f *Formatter) TradeSettled(trade *domain.Trade) string {
	var header string
	switch trade.Status {
	case domain.StatusWon:
		header = "✅ *WIN*"
	case domain.StatusLost:
		header = "❌ *LOSS*"
	default:
		header = "⚠️ *VOID*"
	}

	var b strings.Builder
	b.WriteString(header + "\n\n")
	b.WriteString(fmt.Sprintf("Asset: `%s` %s\n", trade.Asset, trade.Direction))
	b.WriteString(fmt.Sprintf("Amount: $%.2f\n", trade.Amount))
	if trade.Status != domain.StatusExpiredVoid {
		b.WriteString(fmt.Sprintf("P&L: %+.2f\n", trade.PnL))
	}
	return b.String()
}

// SignalRejected - уведомление об отброшенном сигнале
func (f *Formatter) SignalRejected(reason, detail, rawText string) string {
	preview := rawText
	if len(preview) > 80 {
		preview = preview[:80] + "…"
	}
	return fmt.Sprintf("🚫 *Signal rejected*\n\nReason: %s\nDetail: %s\n`%s`", reason, detail, preview)
}

// TradeDenied - уведомление об отказе риск-движка
func (f *Formatter) TradeDenied(sig *domain.Signal, reason, detail string) string {
	return fmt.Sprintf("🛑 *Trade denied*\n\nAsset: `%s` %s\nReason: %s\nDetail: %s",
		sig.Asset, sig.Direction, reason, detail)
}

// SessionSummary - сводка по завершённой сессии
func (f *Formatter) SessionSummary(s *domain.TradingSession) string {
	var b strings.Builder
	b.WriteString("📊 *Session summary*\n\n")
	b.WriteString(fmt.Sprintf("Trades: %d (✅ %d / ❌ %d / ⚠️ %d)\n",
		s.TotalTrades, s.WinningTrades, s.LosingTrades, s.VoidTrades))
	b.WriteString(fmt.Sprintf("Win rate: %.1f%%\n", s.WinRate()))
	b.WriteString(fmt.Sprintf("P&L: %+.2f\n", s.TotalPnL))
	b.WriteString(fmt.Sprintf("Balance: %.2f → %.2f\n", s.BalanceStart, s.BalanceEnd))
	return b.String()
}

package domain

import "time"

// Signal представляет нормализованный торговый сигнал, извлечённый из текста
type Signal struct {
	ID              string
	Asset           string  // нормализованный символ, например "EURUSD_otc"
	Direction       string  // "UP" or "DOWN"
	RequestedAmount float64 // 0 если сумма не указана в сообщении
	Duration        int     // секунды
	EntryTime       time.Time // нулевое значение = немедленный вход
	Confidence      int     // 0-100
	RawText         string  // исходный текст для аудита
	Source          string
	ReceivedAt      time.Time
}

// Scheduled сообщает, задан ли у сигнала отложенный вход
func (s *Signal) Scheduled() bool {
	return !s.EntryTime.IsZero()
}

// RecoveryKey возвращает ключ martingale-цепочки для сигнала
func (s *Signal) RecoveryKey() string {
	return s.Asset + "|" + s.Direction
}

// Trade представляет одну сделку у брокера и её исход
type Trade struct {
	ID            string    `db:"id"`
	SignalID      string    `db:"signal_id"`
	BrokerOrderID string    `db:"broker_order_id"`
	Asset         string    `db:"asset"`
	Direction     string    `db:"direction"`
	Amount        float64   `db:"amount"`
	Duration      int       `db:"duration"`
	Status        string    `db:"status"`
	PnL           float64   `db:"pnl"`
	MartingaleStep int      `db:"martingale_step"`
	OpenedAt      time.Time `db:"opened_at"`
	SettledAt     time.Time `db:"settled_at"`
}

// Terminal сообщает, достигла ли сделка финального статуса
func (t *Trade) Terminal() bool {
	switch t.Status {
	case StatusWon, StatusLost, StatusExpiredVoid:
		return true
	}
	return false
}

// RiskState содержит счётчики риска текущей торговой сессии.
// Единственная точка мутации - risk.Engine.RecordOutcome (см. internal/risk).
type RiskState struct {
	DailyLossTotal      float64
	DailyTradeCount     int
	ConsecutiveLosses   int
	OpenTradeCount      int
	SessionStartBalance float64
	LastResetDate       time.Time // дата (полночь) последнего суточного сброса
}

// MartingaleSequence представляет одну активную цепочку восстановления убытка
type MartingaleSequence struct {
	Key           string // asset|direction
	OriginSignalID string
	Step          int // 0 = martingale ещё не применялся
	BaseAmount    float64
	Multiplier    float64
	MaxSteps      int
	Status        string
	TotalInvested float64
	CreatedAt     time.Time
}

// Active сообщает, продолжается ли цепочка
func (m *MartingaleSequence) Active() bool {
	return m.Status == SequenceActive
}

// TradingSession агрегирует статистику одной сессии для сводки
type TradingSession struct {
	ID            string    `db:"id"`
	StartedAt     time.Time `db:"started_at"`
	EndedAt       time.Time `db:"ended_at"`
	BalanceStart  float64   `db:"balance_start"`
	BalanceEnd    float64   `db:"balance_end"`
	TotalTrades   int       `db:"total_trades"`
	WinningTrades int       `db:"winning_trades"`
	LosingTrades  int       `db:"losing_trades"`
	VoidTrades    int       `db:"void_trades"`
	TotalPnL      float64   `db:"total_pnl"`
}

// WinRate возвращает процент выигрышных сделок
func (s *TradingSession) WinRate() float64 {
	settled := s.WinningTrades + s.LosingTrades
	if settled == 0 {
		return 0
	}
	return float64(s.WinningTrades) / float64(settled) * 100
}

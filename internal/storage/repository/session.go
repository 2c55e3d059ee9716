package repository

import (
	"database/sql"

	"github.com/kirillm/qx-signal-bot/internal/domain"
)

// SessionRepository реализует учёт торговых сессий
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository создает новый репозиторий сессий
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Start регистрирует начало сессии
func (r *SessionRepository) Start(session *domain.TradingSession) error {
	query := `
		INSERT INTO sessions (id, started_at, balance_start)
		VALUES ($1, $2, $3)
	`
	_, err := r.db.Exec(query, session.ID, session.StartedAt, session.BalanceStart)
	return err
}

// Finish записывает итоги завершённой сессии
func (r *SessionRepository) Finish(session *domain.TradingSession) error {
	query := `
		UPDATE sessions
		SET ended_at = $2, balance_end = $3, total_trades = $4,
		    winning_trades = $5, losing_trades = $6, void_trades = $7, total_pnl = $8
		WHERE id = $1
	`
	_, err := r.db.Exec(
		query,
		session.ID,
		session.EndedAt,
		session.BalanceEnd,
		session.TotalTrades,
		session.WinningTrades,
		session.LosingTrades,
		session.VoidTrades,
		session.TotalPnL,
	)
	return err
}

// GetLast возвращает последнюю сессию, если она есть
func (r *SessionRepository) GetLast() (*domain.TradingSession, error) {
	query := `
		SELECT id, started_at, COALESCE(ended_at, '0001-01-01'), balance_start, COALESCE(balance_end, 0),
		       total_trades, winning_trades, losing_trades, void_trades, total_pnl
		FROM sessions
		ORDER BY started_at DESC
		LIMIT 1
	`
	var s domain.TradingSession
	err := r.db.QueryRow(query).Scan(
		&s.ID,
		&s.StartedAt,
		&s.EndedAt,
		&s.BalanceStart,
		&s.BalanceEnd,
		&s.TotalTrades,
		&s.WinningTrades,
		&s.LosingTrades,
		&s.VoidTrades,
		&s.TotalPnL,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

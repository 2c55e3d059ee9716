package repository

import (
	"database/sql"
	"time"

	"github.com/kirillm/qx-signal-bot/internal/domain"
)

// TradeRepository реализует работу со сделками
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый репозиторий сделок
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Save сохраняет открытую сделку
func (r *TradeRepository) Save(trade *domain.Trade) error {
	query := `
		INSERT INTO trades (id, signal_id, broker_order_id, asset, direction, amount, duration, status, pnl, martingale_step, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Exec(
		query,
		trade.ID,
		trade.SignalID,
		trade.BrokerOrderID,
		trade.Asset,
		trade.Direction,
		trade.Amount,
		trade.Duration,
		trade.Status,
		trade.PnL,
		trade.MartingaleStep,
		trade.OpenedAt,
	)
	return err
}

// Settle записывает терминальный статус сделки.
// Уже финализированная сделка не перезаписывается: архив append-only.
func (r *TradeRepository) Settle(tradeID, status string, pnl float64, settledAt time.Time) error {
	query := `
		UPDATE trades
		SET status = $2, pnl = $3, settled_at = $4
		WHERE id = $1 AND status IN ('PENDING', 'OPEN')
	`
	res, err := r.db.Exec(query, tradeID, status, pnl, settledAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrDuplicateSettlement
	}
	return nil
}

// GetOpen возвращает сделки, ещё не получившие итог
func (r *TradeRepository) GetOpen() ([]domain.Trade, error) {
	query := `
		SELECT id, signal_id, broker_order_id, asset, direction, amount, duration, status, pnl, martingale_step, opened_at, COALESCE(settled_at, '0001-01-01')
		FROM trades
		WHERE status IN ('PENDING', 'OPEN')
		ORDER BY opened_at
	`
	return r.queryTrades(query)
}

// GetSince возвращает сделки, открытые после указанного момента
func (r *TradeRepository) GetSince(since time.Time) ([]domain.Trade, error) {
	query := `
		SELECT id, signal_id, broker_order_id, asset, direction, amount, duration, status, pnl, martingale_step, opened_at, COALESCE(settled_at, '0001-01-01')
		FROM trades
		WHERE opened_at >= $1
		ORDER BY opened_at
	`
	return r.queryTrades(query, since)
}

// queryTrades выполняет запрос и возвращает список сделок
func (r *TradeRepository) queryTrades(query string, args ...interface{}) ([]domain.Trade, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var trade domain.Trade
		err := rows.Scan(
			&trade.ID,
			&trade.SignalID,
			&trade.BrokerOrderID,
			&trade.Asset,
			&trade.Direction,
			&trade.Amount,
			&trade.Duration,
			&trade.Status,
			&trade.PnL,
			&trade.MartingaleStep,
			&trade.OpenedAt,
			&trade.SettledAt,
		)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

package repository

import (
	"database/sql"
	"time"

	"github.com/kirillm/qx-signal-bot/internal/domain"
)

// SignalRepository реализует журнал принятых и отброшенных сигналов
type SignalRepository struct {
	db *sql.DB
}

// NewSignalRepository создает новый репозиторий сигналов
func NewSignalRepository(db *sql.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

// Save сохраняет распознанный сигнал
func (r *SignalRepository) Save(sig *domain.Signal) error {
	query := `
		INSERT INTO signals (id, asset, direction, requested_amount, duration, entry_time, confidence, raw_text, source, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	var entryTime interface{}
	if sig.Scheduled() {
		entryTime = sig.EntryTime
	}
	_, err := r.db.Exec(
		query,
		sig.ID,
		sig.Asset,
		sig.Direction,
		sig.RequestedAmount,
		sig.Duration,
		entryTime,
		sig.Confidence,
		sig.RawText,
		sig.Source,
		sig.ReceivedAt,
	)
	return err
}

// SaveRejection сохраняет отброшенное сообщение для аудита
func (r *SignalRepository) SaveRejection(rawText, reason, detail string, receivedAt time.Time) error {
	query := `
		INSERT INTO signal_rejections (raw_text, reason, detail, received_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.Exec(query, rawText, reason, detail, receivedAt)
	return err
}

// CountToday возвращает число сигналов, принятых с начала суток
func (r *SignalRepository) CountToday(dayStart time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM signals WHERE received_at >= $1`
	var count int
	err := r.db.QueryRow(query, dayStart).Scan(&count)
	return count, err
}

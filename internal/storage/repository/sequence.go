package repository

import (
	"database/sql"

	"github.com/kirillm/qx-signal-bot/internal/domain"
)

// SequenceRepository хранит архив завершённых martingale-цепочек
type SequenceRepository struct {
	db *sql.DB
}

// NewSequenceRepository создает новый репозиторий цепочек
func NewSequenceRepository(db *sql.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

// Archive сохраняет завершённую цепочку
func (r *SequenceRepository) Archive(seq *domain.MartingaleSequence) error {
	query := `
		INSERT INTO martingale_sequences (key, origin_signal_id, steps, base_amount, multiplier, max_steps, status, total_invested, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(
		query,
		seq.Key,
		seq.OriginSignalID,
		seq.Step,
		seq.BaseAmount,
		seq.Multiplier,
		seq.MaxSteps,
		seq.Status,
		seq.TotalInvested,
		seq.CreatedAt,
	)
	return err
}

// CountByStatus возвращает распределение цепочек по статусам
func (r *SequenceRepository) CountByStatus() (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM martingale_sequences GROUP BY status`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

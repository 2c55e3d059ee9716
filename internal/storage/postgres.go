package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kirillm/qx-signal-bot/internal/config"
	"github.com/kirillm/qx-signal-bot/internal/domain"
	"github.com/kirillm/qx-signal-bot/internal/storage/repository"
)

// PostgresStorage является фасадом для работы с PostgreSQL через репозитории
type PostgresStorage struct {
	db        *sql.DB
	Trades    *repository.TradeRepository
	Signals   *repository.SignalRepository
	Sessions  *repository.SessionRepository
	Sequences *repository.SequenceRepository
}

// NewPostgresStorage подключается к базе и накатывает миграции
func NewPostgresStorage(cfg config.DatabaseConfig) (*PostgresStorage, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	storage := &PostgresStorage{
		db:        db,
		Trades:    repository.NewTradeRepository(db),
		Signals:   repository.NewSignalRepository(db),
		Sessions:  repository.NewSessionRepository(db),
		Sequences: repository.NewSequenceRepository(db),
	}

	if err := storage.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) migrate() error {
	migrations := []string{
		// Журнал распознанных сигналов
		`CREATE TABLE IF NOT EXISTS signals (
			id VARCHAR(26) PRIMARY KEY,
			asset VARCHAR(20) NOT NULL,
			direction VARCHAR(5) NOT NULL,
			requested_amount DECIMAL(20, 2) NOT NULL DEFAULT 0,
			duration INTEGER NOT NULL,
			entry_time TIMESTAMP,
			confidence INTEGER NOT NULL,
			raw_text TEXT NOT NULL,
			source VARCHAR(20) NOT NULL,
			received_at TIMESTAMP NOT NULL
		)`,
		// Отброшенные сообщения для аудита
		`CREATE TABLE IF NOT EXISTS signal_rejections (
			id SERIAL PRIMARY KEY,
			raw_text TEXT NOT NULL,
			reason VARCHAR(30) NOT NULL,
			detail TEXT,
			received_at TIMESTAMP NOT NULL
		)`,
		// Сделки: после терминального статуса строка не меняется
		`CREATE TABLE IF NOT EXISTS trades (
			id VARCHAR(26) PRIMARY KEY,
			signal_id VARCHAR(26) NOT NULL,
			broker_order_id VARCHAR(100),
			asset VARCHAR(20) NOT NULL,
			direction VARCHAR(5) NOT NULL,
			amount DECIMAL(20, 2) NOT NULL,
			duration INTEGER NOT NULL,
			status VARCHAR(15) NOT NULL,
			pnl DECIMAL(20, 2) NOT NULL DEFAULT 0,
			martingale_step INTEGER NOT NULL DEFAULT 0,
			opened_at TIMESTAMP NOT NULL,
			settled_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_opened_at ON trades(opened_at)`,
		// Торговые сессии
		`CREATE TABLE IF NOT EXISTS sessions (
			id VARCHAR(26) PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP,
			balance_start DECIMAL(20, 2) NOT NULL,
			balance_end DECIMAL(20, 2),
			total_trades INTEGER NOT NULL DEFAULT 0,
			winning_trades INTEGER NOT NULL DEFAULT 0,
			losing_trades INTEGER NOT NULL DEFAULT 0,
			void_trades INTEGER NOT NULL DEFAULT 0,
			total_pnl DECIMAL(20, 2) NOT NULL DEFAULT 0
		)`,
		// Архив завершённых martingale-цепочек
		`CREATE TABLE IF NOT EXISTS martingale_sequences (
			id SERIAL PRIMARY KEY,
			key VARCHAR(30) NOT NULL,
			origin_signal_id VARCHAR(26) NOT NULL,
			steps INTEGER NOT NULL,
			base_amount DECIMAL(20, 2) NOT NULL,
			multiplier DECIMAL(10, 2) NOT NULL,
			max_steps INTEGER NOT NULL,
			status VARCHAR(20) NOT NULL,
			total_invested DECIMAL(20, 2) NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveSignal сохраняет распознанный сигнал
func (s *PostgresStorage) SaveSignal(sig *domain.Signal) error {
	return s.Signals.Save(sig)
}

// SaveRejection сохраняет отброшенное сообщение
func (s *PostgresStorage) SaveRejection(rawText, reason, detail string, receivedAt time.Time) error {
	return s.Signals.SaveRejection(rawText, reason, detail, receivedAt)
}

// StartSession регистрирует начало торговой сессии
func (s *PostgresStorage) StartSession(session *domain.TradingSession) error {
	return s.Sessions.Start(session)
}

// FinishSession записывает итоги сессии
func (s *PostgresStorage) FinishSession(session *domain.TradingSession) error {
	return s.Sessions.Finish(session)
}

// ArchiveSequence сохраняет завершённую martingale-цепочку
func (s *PostgresStorage) ArchiveSequence(seq *domain.MartingaleSequence) error {
	return s.Sequences.Archive(seq)
}

// SaveTrade сохраняет открытую сделку
func (s *PostgresStorage) SaveTrade(trade *domain.Trade) error {
	return s.Trades.Save(trade)
}

// SettleTrade записывает терминальный статус сделки
func (s *PostgresStorage) SettleTrade(tradeID, status string, pnl float64, settledAt time.Time) error {
	return s.Trades.Settle(tradeID, status, pnl, settledAt)
}

// Close закрывает соединение с базой
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

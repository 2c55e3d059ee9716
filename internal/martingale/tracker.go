package martingale

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kirillm/qx-signal-bot/internal/domain"
)

// Config задаёт параметры восстановления убытков
type Config struct {
	Enabled            bool
	Multiplier         float64
	MaxSteps           int
	BalanceCeilingFrac float64 // ставка цепочки не может превысить эту долю баланса
}

// Store - архив завершённых цепочек
type Store interface {
	ArchiveSequence(seq *domain.MartingaleSequence) error
}

// Tracker ведёт цепочки восстановления убытков по ключу актив|направление.
// Одновременно по одному ключу существует не более одной активной цепочки.
type Tracker struct {
	mu        sync.Mutex
	cfg       Config
	store     Store // nil = без архива
	sequences map[string]*domain.MartingaleSequence
	history   []*domain.MartingaleSequence // завершённые цепочки для сводки
	logger    zerolog.Logger
}

// NewTracker создает трекер martingale-цепочек
func NewTracker(cfg Config, store Store, logger zerolog.Logger) *Tracker {
	return &Tracker{
		cfg:       cfg,
		store:     store,
		sequences: make(map[string]*domain.MartingaleSequence),
		logger:    logger.With().Str("component", "martingale").Logger(),
	}
}

// NextStake возвращает ставку для следующего шага цепочки по ключу.
// Если активной цепочки нет, возвращается базовая ставка и шаг 0.
// Формула: base * multiplier^step.
func (t *Tracker) NextStake(key string, baseAmount float64) (amount float64, step int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq, ok := t.sequences[key]
	if !ok || !seq.Active() {
		return baseAmount, 0
	}
	return seq.BaseAmount * math.Pow(seq.Multiplier, float64(seq.Step)), seq.Step
}

// RecordLoss регистрирует убыток по ключу и решает судьбу цепочки.
// Возвращает сумму следующего шага и true, если восстановление продолжается.
// Балансовый потолок проверяется до выдачи шага: цепочка, которой не хватает
// средств, завершается со статусом ABORTED_BALANCE.
func (t *Tracker) RecordLoss(key, signalID string, lostAmount, balance float64) (nextAmount float64, recover bool) {
	if !t.cfg.Enabled {
		return 0, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	seq, ok := t.sequences[key]
	if !ok || !seq.Active() {
		seq = &domain.MartingaleSequence{
			Key:            key,
			OriginSignalID: signalID,
			Step:           0,
			BaseAmount:     lostAmount,
			Multiplier:     t.cfg.Multiplier,
			MaxSteps:       t.cfg.MaxSteps,
			Status:         domain.SequenceActive,
			CreatedAt:      time.Now(),
		}
		t.sequences[key] = seq
	}

	seq.TotalInvested += lostAmount
	seq.Step++

	if seq.Step >= seq.MaxSteps {
		t.finish(seq, domain.SequenceAbortedMaxSteps)
		return 0, false
	}

	next := seq.BaseAmount * math.Pow(seq.Multiplier, float64(seq.Step))
	if next > balance*t.cfg.BalanceCeilingFrac {
		t.finish(seq, domain.SequenceAbortedBalance)
		return 0, false
	}

	t.logger.Info().
		Str("key", key).
		Int("step", seq.Step).
		Float64("next_amount", next).
		Float64("total_invested", seq.TotalInvested).
		Msg("⚠️ Loss recorded, escalating stake")

	return next, true
}

// RecordWin завершает активную цепочку по ключу со статусом COMPLETED_WIN.
// Выигрыш вне цепочки - no-op.
func (t *Tracker) RecordWin(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq, ok := t.sequences[key]
	if !ok || !seq.Active() {
		return
	}
	t.finish(seq, domain.SequenceCompletedWin)
}

// RecordVoid завершает активную цепочку без эскалации: недействительная
// сделка не считается ни выигрышем, ни проигрышем, но продолжать цепочку
// по ней нельзя
func (t *Tracker) RecordVoid(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq, ok := t.sequences[key]
	if !ok || !seq.Active() {
		return
	}
	t.finish(seq, domain.SequenceClosedVoid)
}

// ActiveSequence возвращает активную цепочку по ключу, если она есть
func (t *Tracker) ActiveSequence(key string) (*domain.MartingaleSequence, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq, ok := t.sequences[key]
	if !ok || !seq.Active() {
		return nil, false
	}
	cp := *seq
	return &cp, true
}

// ActiveCount возвращает число активных цепочек
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, seq := range t.sequences {
		if seq.Active() {
			n++
		}
	}
	return n
}

// Summary возвращает строку со статистикой завершённых цепочек
func (t *Tracker) Summary() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var wins, aborted int
	var invested float64
	for _, seq := range t.history {
		invested += seq.TotalInvested
		if seq.Status == domain.SequenceCompletedWin {
			wins++
		} else {
			aborted++
		}
	}
	return fmt.Sprintf("sequences: %d recovered, %d aborted, %.2f invested", wins, aborted, invested)
}

// finish переводит цепочку в финальный статус. Вызывается под t.mu.
func (t *Tracker) finish(seq *domain.MartingaleSequence, status string) {
	seq.Status = status
	t.history = append(t.history, seq)
	delete(t.sequences, seq.Key)

	if t.store != nil {
		if err := t.store.ArchiveSequence(seq); err != nil {
			t.logger.Error().Err(err).Str("key", seq.Key).Msg("Failed to archive sequence")
		}
	}

	event := t.logger.Info()
	if status != domain.SequenceCompletedWin {
		event = t.logger.Warn()
	}
	event.
		Str("key", seq.Key).
		Str("status", status).
		Int("steps", seq.Step).
		Float64("total_invested", seq.TotalInvested).
		Msg("Martingale sequence finished")
}

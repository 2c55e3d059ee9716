package telegram

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// RawMessage - сырое сообщение из отслеживаемого чата
type RawMessage struct {
	ChatID     int64
	MessageID  int
	Text       string
	ReceivedAt time.Time
}

// Listener читает сообщения из отслеживаемых каналов с сигналами.
// Сообщения из прочих чатов игнорируются молча.
type Listener struct {
	api       *tgbotapi.BotAPI
	monitored map[int64]bool
	out       chan RawMessage
	logger    zerolog.Logger
}

// NewListener создает слушатель сигнальных чатов
func NewListener(api *tgbotapi.BotAPI, monitoredChats []int64, logger zerolog.Logger) *Listener {
	monitored := make(map[int64]bool, len(monitoredChats))
	for _, id := range monitoredChats {
		monitored[id] = true
	}

	return &Listener{
		api:       api,
		monitored: monitored,
		out:       make(chan RawMessage, 128),
		logger:    logger.With().Str("component", "listener").Logger(),
	}
}

// Messages возвращает канал входящих сообщений.
// Канал закрывается после остановки Run.
func (l *Listener) Messages() <-chan RawMessage {
	return l.out
}

// Run читает обновления до отмены контекста
func (l *Listener) Run(ctx context.Context) {
	defer close(l.out)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := l.api.GetUpdatesChan(u)

	l.logger.Info().Int("chats", len(l.monitored)).Msg("🚀 Listening for signals")

	for {
		select {
		case <-ctx.Done():
			l.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			msg := extractMessage(update)
			if msg == nil || !l.monitored[msg.Chat.ID] {
				continue
			}
			if msg.Text == "" {
				continue
			}

			raw := RawMessage{
				ChatID:     msg.Chat.ID,
				MessageID:  msg.MessageID,
				Text:       msg.Text,
				ReceivedAt: time.Now(),
			}

			select {
			case l.out <- raw:
			default:
				// Очередь переполнена: сигнал устаревает быстрее, чем
				// ждёт, поэтому лучше уронить его, чем блокировать чтение
				l.logger.Warn().Int64("chat_id", raw.ChatID).Msg("⚠️ Message queue full, dropping signal")
			}
		}
	}
}

// extractMessage достаёт сообщение из обновления: обычное или пост канала
func extractMessage(update tgbotapi.Update) *tgbotapi.Message {
	if update.Message != nil {
		return update.Message
	}
	if update.ChannelPost != nil {
		return update.ChannelPost
	}
	return nil
}

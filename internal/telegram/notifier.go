package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Notifier отправляет уведомления в чат владельца.
// Отправка асинхронная и не блокирует торговый цикл; ошибки доставки
// логируются и не влияют на торговлю.
type Notifier struct {
	api     *tgbotapi.BotAPI
	chatID  int64
	limiter *rate.Limiter
	queue   chan string
	logger  zerolog.Logger
}

// NewNotifier создает нотификатор. Лимит - телеграмный потолок
// на отправку сообщений в один чат.
func NewNotifier(api *tgbotapi.BotAPI, chatID int64, logger zerolog.Logger) *Notifier {
	return &Notifier{
		api:     api,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Limit(1), 5),
		queue:   make(chan string, 256),
		logger:  logger.With().Str("component", "notifier").Logger(),
	}
}

// Notify ставит сообщение в очередь отправки. Никогда не блокирует:
// при переполнении очереди сообщение отбрасывается.
func (n *Notifier) Notify(text string) {
	if n.chatID == 0 {
		return
	}
	select {
	case n.queue <- text:
	default:
		n.logger.Warn().Msg("⚠️ Notification queue full, dropping message")
	}
}

// Run отправляет сообщения из очереди до отмены контекста
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			n.drain()
			return
		case text := <-n.queue:
			if err := n.limiter.Wait(ctx); err != nil {
				n.send(text)
				n.drain()
				return
			}
			n.send(text)
		}
	}
}

// drain отправляет накопившиеся сообщения при остановке, без лимитера
func (n *Notifier) drain() {
	for {
		select {
		case text := <-n.queue:
			n.send(text)
		default:
			return
		}
	}
}

func (n *Notifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.api.Send(msg); err != nil {
		n.logger.Error().Err(err).Msg("Failed to send notification")
	}
}

package chat

import (
	"context"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// LongPollTimeout is the chat provider's server-side long-poll wait,
// per §4.5.
const LongPollTimeout = 30

// RetryDelay is how long the Poller sleeps after a transport error before
// retrying, per §4.5.
const RetryDelay = 5 * time.Second

// CallbackEvent is the Poller's inbound event, passed to the Callback
// Handler (C10): the originating-user id, the raw "action:id" callback
// data, the callback id to answer, and the originating message id to
// edit.
type CallbackEvent struct {
	ApproverID      string
	Data            string
	CallbackID      string
	OriginMessageID int
}

// CallbackHandler processes one inbound callback. Implemented by
// internal/callback (C10).
type CallbackHandler interface {
	HandleCallback(ctx context.Context, event CallbackEvent) error
}

// Poller is the single long-lived inbound loop of §4.5: it holds the
// update offset in memory, requests updates with a 30-second long-poll
// wait, and processes only callback_query updates, one at a time, in the
// same goroutine that owns the Callback Handler (§5's "single long-running
// unit owning the Chat Poller loop and the Callback Handler").
type Poller struct {
	bot     *tgbotapi.BotAPI
	offset  int
	handler CallbackHandler
	logger  *slog.Logger
}

// NewPoller builds a Poller bound to client's underlying bot connection.
func NewPoller(client *Client, handler CallbackHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{bot: client.Bot(), handler: handler, logger: logger}
}

// Run blocks until ctx is cancelled, driving the long-poll loop.
func (p *Poller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updateCfg := tgbotapi.NewUpdate(p.offset)
		updateCfg.Timeout = LongPollTimeout

		updates, err := p.bot.GetUpdates(updateCfg)
		if err != nil {
			p.logger.Warn("chat poller: transport error, retrying", "error", err, "retry_after", RetryDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(RetryDelay):
			}
			continue
		}

		for _, update := range updates {
			p.offset = update.UpdateID + 1
			p.processUpdate(ctx, update)
		}
	}
}

func (p *Poller) processUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery == nil {
		return
	}
	cb := update.CallbackQuery

	approverID := ""
	if cb.From != nil {
		approverID = cb.From.UserName
		if approverID == "" {
			approverID = int64ToString(cb.From.ID)
		}
	}
	originMessageID := 0
	if cb.Message != nil {
		originMessageID = cb.Message.MessageID
	}

	event := CallbackEvent{
		ApproverID:      approverID,
		Data:            cb.Data,
		CallbackID:      cb.ID,
		OriginMessageID: originMessageID,
	}

	if err := p.handler.HandleCallback(ctx, event); err != nil {
		p.logger.Error("chat poller: callback handling failed", "error", err, "data", cb.Data)
	}
}

func int64ToString(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bouncer/broker/internal/circuitbreaker"
	"github.com/bouncer/broker/internal/model"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Command is one /help-menu entry for set_commands.
type Command struct {
	Name        string
	Description string
}

// Client implements C5's outbound operations over a Telegram bot token,
// grounded on the teacher pack's telegram-bot agent (NewMessage,
// NewEditMessageText, NewInlineKeyboardMarkup, NewSetMyCommands). Outbound
// calls are wrapped in a circuit breaker so a degraded Telegram API fails
// fast instead of stalling every pipeline submission.
type Client struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewClient dials the Telegram Bot API with token and binds every outbound
// send to chatID (the single operator channel Bouncer posts into). breaker
// is the caller's Chat breaker (BrokerCircuitBreakers.Chat) so /v1/health
// reports the same trip state this client actually exercises; a nil
// breaker falls back to a locally-owned default, for callers (tests) that
// don't need the shared one.
func NewClient(token string, chatID int64, breaker *circuitbreaker.CircuitBreaker, logger *slog.Logger) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("chat: bot init: %w", err)
	}
	bot.Client.Timeout = 70 * time.Second
	if logger == nil {
		logger = slog.Default()
	}
	if breaker == nil {
		breaker = circuitbreaker.New(&circuitbreaker.Config{
			Name:        "chat-channel",
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}
	return &Client{bot: bot, chatID: chatID, breaker: breaker, logger: logger}, nil
}

// call runs fn through the breaker, discarding its nil payload.
func (c *Client) call(fn func() error) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// Bot exposes the underlying API client, used only by Poller.
func (c *Client) Bot() *tgbotapi.BotAPI { return c.bot }

func buildKeyboard(buttons []Button) *tgbotapi.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data)))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func (c *Client) sendCard(card Card, silent bool) (int, error) {
	var messageID int
	err := c.call(func() error {
		msg := tgbotapi.NewMessage(c.chatID, card.Text)
		msg.ParseMode = tgbotapi.ModeMarkdown
		msg.DisableNotification = silent
		if kb := buildKeyboard(card.Buttons); kb != nil {
			msg.ReplyMarkup = kb
		}
		sent, err := c.bot.Send(msg)
		if err != nil {
			return fmt.Errorf("chat: send: %w", err)
		}
		messageID = sent.MessageID
		return nil
	})
	return messageID, err
}

// Send implements §4.5's send(text, keyboard?).
func (c *Client) Send(ctx context.Context, card Card) (int, error) {
	return c.sendCard(card, false)
}

// SendSilentCard implements §4.5's send_silent(text, keyboard?).
func (c *Client) SendSilentCard(ctx context.Context, card Card) (int, error) {
	return c.sendCard(card, true)
}

// Edit implements §4.5's edit(message_id, text).
func (c *Client) Edit(ctx context.Context, messageID int, card Card) error {
	return c.call(func() error {
		edit := tgbotapi.NewEditMessageText(c.chatID, messageID, card.Text)
		edit.ParseMode = tgbotapi.ModeMarkdown
		if kb := buildKeyboard(card.Buttons); kb != nil {
			edit.ReplyMarkup = kb
		}
		if _, err := c.bot.Send(edit); err != nil {
			return fmt.Errorf("chat: edit: %w", err)
		}
		return nil
	})
}

// Answer implements §4.5's answer(callback_id, text).
func (c *Client) Answer(ctx context.Context, callbackID, text string) error {
	return c.call(func() error {
		cfg := tgbotapi.NewCallback(callbackID, text)
		if _, err := c.bot.Request(cfg); err != nil {
			return fmt.Errorf("chat: answer: %w", err)
		}
		return nil
	})
}

// SetCommands implements §4.5's set_commands(menu).
func (c *Client) SetCommands(ctx context.Context, cmds []Command) error {
	botCmds := make([]tgbotapi.BotCommand, 0, len(cmds))
	for _, cmd := range cmds {
		botCmds = append(botCmds, tgbotapi.BotCommand{Command: cmd.Name, Description: cmd.Description})
	}
	return c.call(func() error {
		if _, err := c.bot.Request(tgbotapi.NewSetMyCommands(botCmds...)); err != nil {
			return fmt.Errorf("chat: set commands: %w", err)
		}
		return nil
	})
}

// SendParallel implements §4.5's send_parallel(req[]): a batch of
// independent sends issued concurrently, matching §4.10's note that a
// message edit and a callback answer should be issued in parallel to hide
// round-trip latency.
func (c *Client) SendParallel(ctx context.Context, cards []Card) ([]int, []error) {
	ids := make([]int, len(cards))
	errs := make([]error, len(cards))
	var wg sync.WaitGroup
	for i, card := range cards {
		wg.Add(1)
		go func(i int, card Card) {
			defer wg.Done()
			id, err := c.sendCard(card, false)
			ids[i] = id
			errs[i] = err
		}(i, card)
	}
	wg.Wait()
	return ids, errs
}

// SendApprovalPrompt satisfies pipeline.Notifier: renders and sends
// ApprovalCard for a newly pending_approval Request.
func (c *Client) SendApprovalPrompt(ctx context.Context, req *model.Request, allowTrustButton bool) (int, error) {
	dangerous := !allowTrustButton
	return c.Send(ctx, ApprovalCard(req, dangerous))
}

// SendSilent satisfies pipeline.Notifier: a plain silent text note, no
// keyboard.
func (c *Client) SendSilent(ctx context.Context, text string) (int, error) {
	return c.SendSilentCard(ctx, Card{Text: text})
}

package chat

import (
	"context"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []CallbackEvent
}

func (h *recordingHandler) HandleCallback(ctx context.Context, event CallbackEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return nil
}

func TestProcessUpdateIgnoresNonCallbackUpdates(t *testing.T) {
	handler := &recordingHandler{}
	p := &Poller{handler: handler}
	p.processUpdate(context.Background(), tgbotapi.Update{
		Message: &tgbotapi.Message{MessageID: 1, Text: "hello"},
	})
	assert.Empty(t, handler.events)
}

func TestProcessUpdateDispatchesCallbackQuery(t *testing.T) {
	handler := &recordingHandler{}
	p := &Poller{handler: handler}
	p.processUpdate(context.Background(), tgbotapi.Update{
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cb-1",
			Data:    "approve:req-1",
			From:    &tgbotapi.User{ID: 42, UserName: "alice"},
			Message: &tgbotapi.Message{MessageID: 99},
		},
	})
	require.Len(t, handler.events, 1)
	event := handler.events[0]
	assert.Equal(t, "alice", event.ApproverID)
	assert.Equal(t, "approve:req-1", event.Data)
	assert.Equal(t, "cb-1", event.CallbackID)
	assert.Equal(t, 99, event.OriginMessageID)
}

func TestProcessUpdateFallsBackToNumericIDWhenUsernameEmpty(t *testing.T) {
	handler := &recordingHandler{}
	p := &Poller{handler: handler}
	p.processUpdate(context.Background(), tgbotapi.Update{
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:   "cb-2",
			Data: "deny:req-2",
			From: &tgbotapi.User{ID: 777},
		},
	})
	require.Len(t, handler.events, 1)
	assert.Equal(t, "777", handler.events[0].ApproverID)
}

func TestInt64ToString(t *testing.T) {
	assert.Equal(t, "0", int64ToString(0))
	assert.Equal(t, "777", int64ToString(777))
	assert.Equal(t, "-5", int64ToString(-5))
}

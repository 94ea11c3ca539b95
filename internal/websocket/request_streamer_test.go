package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bouncer/broker/internal/model"
)

func TestBroadcastEventWithNoClientsLeavesHubEmpty(t *testing.T) {
	s := NewRequestStreamer()
	go s.Run()

	s.BroadcastEvent(RequestEvent{Type: EventRequestCreated, RequestID: "req-1"})

	select {
	case <-time.After(100 * time.Millisecond):
	}

	stats := s.Statistics()
	assert.Equal(t, 0, stats["connected_clients"])
}

func TestStreamRequestCreatedBuildsExpectedPayload(t *testing.T) {
	s := NewRequestStreamer()
	req := &model.Request{
		RequestID:    "req-2",
		Source:       "agent-1",
		AccountID:    "111111111111",
		Command:      "aws s3 ls",
		RiskScore:    10,
		RiskCategory: "low",
		Status:       model.StatusAutoApproved,
	}

	go func() {
		event := <-s.broadcast
		assert.Equal(t, EventRequestCreated, event.Type)
		assert.Equal(t, "req-2", event.RequestID)
		assert.Equal(t, "agent-1", event.Data["source"])
		assert.Equal(t, "111111111111", event.Data["account_id"])
	}()

	s.StreamRequestCreated(req)
	time.Sleep(50 * time.Millisecond)
}

func TestStreamCompletedIncludesExitCodeWhenPresent(t *testing.T) {
	s := NewRequestStreamer()
	code := 0
	req := &model.Request{RequestID: "req-3", Status: model.StatusApproved, ExitCode: &code}

	go func() {
		event := <-s.broadcast
		assert.Equal(t, EventCompleted, event.Type)
		assert.Equal(t, 0, event.Data["exit_code"])
	}()

	s.StreamCompleted(req)
	time.Sleep(50 * time.Millisecond)
}

func TestStatisticsReportsQueueDepth(t *testing.T) {
	s := NewRequestStreamer()
	s.broadcast <- RequestEvent{Type: EventRequestCreated}
	stats := s.Statistics()
	assert.Equal(t, 1, stats["broadcast_queue"])
}

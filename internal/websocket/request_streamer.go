// Package websocket streams live Request lifecycle events to connected
// dashboard clients, keeping the teacher's register/unregister/broadcast
// hub shape from its DAG visualization streamer while replacing the
// node/edge payload with Bouncer's own Request events.
package websocket

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bouncer/broker/internal/model"
)

// RequestEvent is one lifecycle update for a broker Request: created,
// pending approval, approved, denied, executing, or completed.
type RequestEvent struct {
	Type      string                 `json:"type"`
	RequestID string                 `json:"request_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

const (
	EventRequestCreated = "request_created"
	EventPendingChat    = "pending_chat_approval"
	EventDecided        = "decided"
	EventExecuting      = "executing"
	EventCompleted      = "completed"
)

// RequestStreamer manages WebSocket connections for live Request updates.
type RequestStreamer struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan RequestEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// NewRequestStreamer creates a new request streamer.
func NewRequestStreamer() *RequestStreamer {
	return &RequestStreamer{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan RequestEvent, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Run starts the WebSocket hub. Intended to be launched as a goroutine
// from cmd/server/main.go alongside the Chat Poller and pipeline workers.
func (s *RequestStreamer) Run() {
	for {
		select {
		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			n := len(s.clients)
			s.mu.Unlock()
			log.Printf("websocket: client connected (total: %d)", n)

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.Close()
			}
			n := len(s.clients)
			s.mu.Unlock()
			log.Printf("websocket: client disconnected (total: %d)", n)

		case event := <-s.broadcast:
			s.mu.RLock()
			for client := range s.clients {
				if err := client.WriteJSON(event); err != nil {
					log.Printf("websocket: write error: %v", err)
					client.Close()
					delete(s.clients, client)
				}
			}
			s.mu.RUnlock()
		}
	}
}

// HandleWebSocket upgrades an incoming HTTP connection and registers it
// with the hub.
func (s *RequestStreamer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket: upgrade error: %v", err)
		return
	}

	s.register <- conn

	go func() {
		defer func() {
			s.unregister <- conn
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// BroadcastEvent sends an event to all connected clients.
func (s *RequestStreamer) BroadcastEvent(event RequestEvent) {
	event.Timestamp = time.Now()
	s.broadcast <- event
}

// StreamRequestCreated announces a newly submitted request.
func (s *RequestStreamer) StreamRequestCreated(req *model.Request) {
	s.BroadcastEvent(RequestEvent{
		Type:      EventRequestCreated,
		RequestID: req.RequestID,
		Data: map[string]interface{}{
			"source":        req.Source,
			"account_id":    req.AccountID,
			"command":       req.Command,
			"risk_score":    req.RiskScore,
			"risk_category": req.RiskCategory,
			"status":        req.Status,
		},
	})
}

// StreamPendingChatApproval announces that a request now awaits a human
// decision in chat.
func (s *RequestStreamer) StreamPendingChatApproval(req *model.Request) {
	s.BroadcastEvent(RequestEvent{
		Type:      EventPendingChat,
		RequestID: req.RequestID,
		Data: map[string]interface{}{
			"chat_message_id": req.ChatMessageID,
			"risk_category":   req.RiskCategory,
		},
	})
}

// StreamDecided announces a terminal decision (approved, denied, blocked,
// or auto-approved via classifier/trust/grant).
func (s *RequestStreamer) StreamDecided(req *model.Request) {
	s.BroadcastEvent(RequestEvent{
		Type:      EventDecided,
		RequestID: req.RequestID,
		Data: map[string]interface{}{
			"status":        req.Status,
			"decision_type": req.DecisionType,
			"approved_by":   req.ApprovedBy,
			"rule_id":       req.RuleID,
		},
	})
}

// StreamExecuting announces that the Executor has started running the
// request's command.
func (s *RequestStreamer) StreamExecuting(req *model.Request) {
	s.BroadcastEvent(RequestEvent{
		Type:      EventExecuting,
		RequestID: req.RequestID,
		Data: map[string]interface{}{
			"account_id": req.AccountID,
		},
	})
}

// StreamCompleted announces the final execution result.
func (s *RequestStreamer) StreamCompleted(req *model.Request) {
	data := map[string]interface{}{
		"status": req.Status,
	}
	if req.ExitCode != nil {
		data["exit_code"] = *req.ExitCode
	}
	s.BroadcastEvent(RequestEvent{
		Type:      EventCompleted,
		RequestID: req.RequestID,
		Data:      data,
	})
}

// Statistics returns current hub counters for the status/health surface.
func (s *RequestStreamer) Statistics() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"connected_clients": len(s.clients),
		"broadcast_queue":   len(s.broadcast),
	}
}

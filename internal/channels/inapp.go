package channels

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/alexnthnz/notification-engine/internal/config"
	"github.com/alexnthnz/notification-engine/internal/monitoring"
	"github.com/alexnthnz/notification-engine/internal/notification"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is the JSON frame pushed to websocket clients
type Event struct {
	Type         string                     `json:"type"`
	Message      string                     `json:"message,omitempty"`
	Notification *notification.Notification `json:"notification,omitempty"`
}

// session is one websocket connection. gorilla connections allow a single
// concurrent writer, so every write goes through mu.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) writeJSON(v any, wait time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(wait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

func (s *session) ping(wait time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wait))
}

// Hub is the in-app channel. It pushes notifications to every live websocket
// session of the recipient; users without a session read them on the next poll.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*session]struct{}
	upgrader websocket.Upgrader
	cfg      config.WebSocketConfig
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// NewHub creates an in-app channel. metrics may be nil.
func NewHub(cfg config.WebSocketConfig, logger *zap.Logger, metrics *monitoring.Metrics) *Hub {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 512
	}

	h := &Hub{
		sessions: make(map[string]map[*session]struct{}),
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// SendNotification pushes n to the user's live sessions. It always succeeds: an offline
// user still finds the notification in the store.
func (h *Hub) SendNotification(ctx context.Context, n notification.Notification, user notification.User) (*notification.DeliveryReport, error) {
	sessions := h.snapshot(n.UserID)
	status := notification.StatusSent

	event := Event{Type: "notification", Notification: pushed(n)}
	for _, s := range sessions {
		if err := s.writeJSON(event, h.cfg.WriteWait); err != nil {
			h.logger.Warn("Failed to push in-app notification",
				zap.String("id", n.ID),
				zap.String("user_id", n.UserID),
				zap.Error(err),
			)
			h.remove(n.UserID, s)
			continue
		}
		status = notification.StatusDelivered
	}

	return &notification.DeliveryReport{
		NotificationID: n.ID,
		Channel:        notification.ChannelInApp,
		Status:         status,
	}, nil
}

// pushed is the copy clients receive: the record as it reads once this
// attempt has put it in the inbox.
func pushed(n notification.Notification) *notification.Notification {
	if !n.Status.Delivered() && n.Status != notification.StatusRead {
		n.Status = notification.StatusSent
	}
	n.InAppSent = true
	if n.SentAt == nil {
		now := time.Now().UTC()
		n.SentAt = &now
	}
	return &n
}

// GetChannelType returns the channel type
func (h *Hub) GetChannelType() notification.Channel {
	return notification.ChannelInApp
}

// Sessions returns the number of live sessions of a user
func (h *Hub) Sessions(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID])
}

// ServeWS upgrades the request and keeps the session registered until the
// client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	s := &session{conn: conn}
	h.add(userID, s)
	defer h.remove(userID, s)

	conn.SetReadLimit(h.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	if err := s.writeJSON(Event{Type: "connected", Message: "WebSocket connection established"}, h.cfg.WriteWait); err != nil {
		h.logger.Warn("Failed to send welcome message", zap.String("user_id", userID), zap.Error(err))
		return
	}

	done := make(chan struct{})
	defer close(done)
	go h.pingLoop(s, userID, done)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket closed", zap.String("user_id", userID), zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) pingLoop(s *session, userID string, done <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PongWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.ping(h.cfg.WriteWait); err != nil {
				h.logger.Debug("Ping failed", zap.String("user_id", userID), zap.Error(err))
				return
			}
		}
	}
}

// Close disconnects every session
func (h *Hub) Close() {
	h.mu.Lock()
	all := h.sessions
	h.sessions = make(map[string]map[*session]struct{})
	h.mu.Unlock()

	for _, sessions := range all {
		for s := range sessions {
			s.conn.Close()
			if h.metrics != nil {
				h.metrics.DecrementActiveConnections()
			}
		}
	}
}

func (h *Hub) add(userID string, s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[userID] == nil {
		h.sessions[userID] = make(map[*session]struct{})
	}
	h.sessions[userID][s] = struct{}{}
	if h.metrics != nil {
		h.metrics.IncrementActiveConnections()
	}
}

func (h *Hub) remove(userID string, s *session) {
	h.mu.Lock()
	sessions, ok := h.sessions[userID]
	_, present := sessions[s]
	if ok && present {
		delete(sessions, s)
		if len(sessions) == 0 {
			delete(h.sessions, userID)
		}
	}
	h.mu.Unlock()

	if present {
		s.conn.Close()
		if h.metrics != nil {
			h.metrics.DecrementActiveConnections()
		}
	}
}

func (h *Hub) snapshot(userID string) []*session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*session, 0, len(h.sessions[userID]))
	for s := range h.sessions[userID] {
		out = append(out, s)
	}
	return out
}

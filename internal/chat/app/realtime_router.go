package app

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/config"
	"chat_sync_service/pkg/logger"
	"chat_sync_service/pkg/token"

	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// closeCodeAuth backend close code for an authentication failure
const closeCodeAuth = 4401

// RealtimeRouter owns the persistent channel to the backend: connection
// lifecycle, re-authentication, and routing of inbound events into the
// state store. It is the single owner of the channel handle; UI
// collaborators emit through it rather than holding a socket themselves.
type RealtimeRouter struct {
	store       *StateStore
	cfg         config.ChannelConfig
	matchWindow time.Duration
	tokens      token.Provider
	dialer      *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}

	// seen drops exact duplicate deliveries of one server event
	seen *lru.Cache[string, struct{}]

	throttleMu sync.Mutex
	lastTyping map[string]time.Time
}

// NewRealtimeRouter init the event router
func NewRealtimeRouter(store *StateStore, cfg config.ChannelConfig, matchWindow time.Duration, tokens token.Provider) *RealtimeRouter {
	seen, _ := lru.New[string, struct{}](cfg.SeenIDCapacity)
	return &RealtimeRouter{
		store:       store,
		cfg:         cfg,
		matchWindow: matchWindow,
		tokens:      tokens,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.ConnectTimeout,
		},
		seen:       seen,
		lastTyping: make(map[string]time.Time),
	}
}

// Connect starts the channel lifecycle. The channel stays up while the
// app is backgrounded; only Disconnect (logout) tears it down.
func (r *RealtimeRouter) Connect() {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	done := make(chan struct{})
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		r.run(ctx)
	}()
}

// Disconnect tears the channel down immediately (logout).
func (r *RealtimeRouter) Disconnect() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	done := r.done
	r.done = nil
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout"),
			time.Now().Add(time.Second))
		conn.Close()
	}
	// wait for the run loop to exit so its state writes cannot land
	// after the final disconnected one
	if done != nil {
		<-done
	}
	r.store.SetConnectionState(func(c *domain.ConnectionState) {
		c.State = domain.TransportDisconnected
		c.DisconnectedAt = time.Now()
	})
}

// run drives the connect/reconnect state machine. Transport losses
// reconnect forever with a capped delay; an unrecoverable auth failure
// gets exactly one refresh-and-retry before the whole loop is torn
// down, the escape hatch against reconnection storms.
func (r *RealtimeRouter) run(ctx context.Context) {
	attempts := 0
	authRetried := false

	for {
		if ctx.Err() != nil {
			return
		}

		state := domain.TransportConnecting
		if attempts > 0 {
			state = domain.TransportReconnecting
		}
		r.store.SetConnectionState(func(c *domain.ConnectionState) {
			c.State = state
			c.Attempts = attempts
		})

		pair, err := r.freshTokens(ctx)
		if err != nil {
			logger.Log.Error("channel_auth_unrecoverable", zap.Error(err))
			r.teardown()
			return
		}

		conn, resp, err := r.dialer.DialContext(ctx, r.cfg.URL, http.Header{
			"Authorization": []string{token.Bearer(pair.Access)},
		})
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				if authRetried {
					logger.Log.Error("channel_auth_rejected_after_refresh", zap.Int("status", resp.StatusCode))
					r.teardown()
					return
				}
				authRetried = true
				if _, rerr := r.tokens.Refresh(ctx); rerr != nil {
					logger.Log.Error("channel_token_refresh_failed", zap.Error(rerr))
					r.teardown()
					return
				}
				continue
			}
			attempts++
			logger.Log.Warn("channel_dial_failed", zap.Int("attempts", attempts), zap.Error(err))
			select {
			case <-time.After(r.reconnectDelay(attempts)):
			case <-ctx.Done():
				return
			}
			continue
		}

		r.mu.Lock()
		r.conn = conn
		r.mu.Unlock()
		attempts = 0
		authRetried = false
		r.store.SetConnectionState(func(c *domain.ConnectionState) {
			c.State = domain.TransportConnected
			c.Transport = "websocket"
			c.ConnectedAt = time.Now()
			c.Attempts = 0
		})
		logger.Log.Info("channel_connected", zap.String("url", r.cfg.URL))

		authClosed := r.readLoop(ctx, conn)

		r.mu.Lock()
		if r.conn == conn {
			r.conn = nil
		}
		r.mu.Unlock()
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		r.store.SetConnectionState(func(c *domain.ConnectionState) {
			c.State = domain.TransportReconnecting
			c.DisconnectedAt = time.Now()
		})

		if authClosed {
			if authRetried {
				logger.Log.Error("channel_auth_closed_after_refresh")
				r.teardown()
				return
			}
			authRetried = true
			if _, err := r.tokens.Refresh(ctx); err != nil {
				logger.Log.Error("channel_token_refresh_failed", zap.Error(err))
				r.teardown()
				return
			}
		}
		attempts++
	}
}

// freshTokens returns a pair whose access token is valid, refreshing
// proactively before the attempt when it has expired.
func (r *RealtimeRouter) freshTokens(ctx context.Context) (token.Pair, error) {
	pair, err := r.tokens.Tokens()
	if err != nil {
		return token.Pair{}, err
	}
	if token.NotExpired(pair.Access, 10*time.Second) {
		return pair, nil
	}
	return r.tokens.Refresh(ctx)
}

// readLoop pumps inbound events until the connection drops. Reports
// whether the closure was an auth-class rejection.
func (r *RealtimeRouter) readLoop(ctx context.Context, conn *websocket.Conn) (authClosed bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, closeCodeAuth, websocket.ClosePolicyViolation) {
				logger.Log.Warn("channel_closed_auth", zap.Error(err))
				return true
			}
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Log.Info("channel_closed", zap.Error(err))
			} else {
				logger.Log.Warn("channel_read_error", zap.Error(err))
			}
			return false
		}
		if ctx.Err() != nil {
			return false
		}
		r.dispatch(data)
	}
}

// dispatch routes one inbound event into the store. Malformed payloads
// are dropped with a diagnostic, never propagated.
func (r *RealtimeRouter) dispatch(data []byte) {
	var env domain.ChannelEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Log.Warn("channel_bad_envelope", zap.Error(err))
		return
	}

	switch env.Event {
	case domain.EventMessageNew:
		var ev domain.NewMessageEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil || ev.Message.ID == "" || ev.Message.RoomID == "" {
			logger.Log.Warn("message_new_malformed", zap.Error(err))
			return
		}
		dedupeKey := ev.EventID
		if dedupeKey == "" {
			dedupeKey = ev.Message.ID
		}
		if dedupeKey != "" {
			if _, dup := r.seen.Get(dedupeKey); dup {
				logger.Log.Debug("message_new_duplicate", zap.String("key", dedupeKey))
				return
			}
			r.seen.Add(dedupeKey, struct{}{})
		}
		r.store.ApplyInbound(ev.Message, r.matchWindow)

	case domain.EventMessageDeleted:
		var ev domain.MessageDeletedEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil || ev.MessageID == "" || ev.RoomID == "" {
			logger.Log.Warn("message_deleted_malformed", zap.Error(err))
			return
		}
		r.store.DeleteMessage(ev.RoomID, ev.MessageID, ev.ForAll, ev.HiddenFor)

	case domain.EventMessageStatus:
		var ev domain.MessageStatusEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil || ev.MessageID == "" {
			logger.Log.Warn("message_status_malformed", zap.Error(err))
			return
		}
		r.store.ApplyStatus(ev.RoomID, ev.MessageID, ev.Status)

	case domain.EventReactionAdded, domain.EventReactionRemoved, domain.EventReactionUpdated:
		var ev domain.ReactionEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil || ev.MessageID == "" {
			logger.Log.Warn("reaction_event_malformed", zap.Error(err))
			return
		}
		r.store.ApplyReactions(ev.RoomID, ev.MessageID, ev.Reactions, time.Second)

	case domain.EventPollUpdated:
		var ev domain.PollUpdatedEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil || ev.MessageID == "" {
			logger.Log.Warn("poll_updated_malformed", zap.Error(err))
			return
		}
		r.store.ApplyPoll(ev.RoomID, ev.MessageID, ev.Poll)

	case domain.EventTypingIn:
		var ev domain.TypingEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil || ev.RoomID == "" || ev.UserID == "" {
			logger.Log.Warn("typing_malformed", zap.Error(err))
			return
		}
		r.store.SetTyping(ev.RoomID, ev.UserID, ev.Kind, ev.Active)

	case domain.EventUserStatus:
		var ev domain.UserStatusEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil || ev.UserID == "" {
			logger.Log.Warn("user_status_malformed", zap.Error(err))
			return
		}
		r.store.SetPresence(ev.UserID, ev.Online, ev.LastSeen)

	case domain.EventRoomUpdated:
		var ev domain.RoomUpdatedEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil || ev.Room.ID == "" {
			logger.Log.Warn("room_updated_malformed", zap.Error(err))
			return
		}
		r.store.UpsertRoom(ev.Room)

	case domain.EventRoomDeleted:
		var ev domain.RoomDeletedEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil || ev.RoomID == "" {
			logger.Log.Warn("room_deleted_malformed", zap.Error(err))
			return
		}
		r.store.RemoveRoom(ev.RoomID)

	default:
		logger.Log.Debug("channel_unknown_event", zap.String("event", string(env.Event)))
	}
}

// EmitTyping sends a typing signal, throttled per room. Silently no-ops
// while disconnected; ephemeral signals are never queued.
func (r *RealtimeRouter) EmitTyping(roomID string, kind domain.ActivityKind, active bool) {
	r.throttleMu.Lock()
	if active && time.Since(r.lastTyping[roomID]) < r.cfg.TypingThrottle {
		r.throttleMu.Unlock()
		return
	}
	r.lastTyping[roomID] = time.Now()
	r.throttleMu.Unlock()

	r.emit(domain.EventTyping, domain.TypingEvent{
		RoomID: roomID,
		UserID: r.store.CurrentUserID(),
		Kind:   kind,
		Active: active,
	})
}

// EmitMarkRead sends a mark-read signal for the room.
func (r *RealtimeRouter) EmitMarkRead(roomID string) {
	r.emit(domain.EventMarkRead, domain.MarkReadRequest{RoomID: roomID})
}

// EmitSetActiveRoom reports the currently open room to the server.
func (r *RealtimeRouter) EmitSetActiveRoom(roomID string) {
	r.emit(domain.EventSetActiveRoom, domain.SetActiveRoomRequest{RoomID: roomID})
}

// EmitJoinRoom subscribes to a room's events.
func (r *RealtimeRouter) EmitJoinRoom(roomID string) {
	r.emit(domain.EventJoinRoom, domain.JoinRoomRequest{RoomID: roomID})
}

func (r *RealtimeRouter) emit(event domain.EventName, payload interface{}) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		logger.Log.Warn("emit_marshal_failed", zap.String("event", string(event)), zap.Error(err))
		return
	}
	env := domain.ChannelEnvelope{Event: event, Payload: body}

	r.writeMu.Lock()
	err = conn.WriteJSON(env)
	r.writeMu.Unlock()
	if err != nil {
		logger.Log.Warn("emit_write_failed", zap.String("event", string(event)), zap.Error(err))
	}
}

// reconnectDelay bounded escalation from the base delay up to the cap.
func (r *RealtimeRouter) reconnectDelay(attempts int) time.Duration {
	d := r.cfg.ReconnectBaseDelay * time.Duration(attempts)
	if d > r.cfg.ReconnectMaxDelay {
		d = r.cfg.ReconnectMaxDelay
	}
	return d
}

// teardown closes the loop for good after an unrecoverable auth failure.
func (r *RealtimeRouter) teardown() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	r.store.SetConnectionState(func(c *domain.ConnectionState) {
		c.State = domain.TransportDisconnected
		c.DisconnectedAt = time.Now()
	})
}

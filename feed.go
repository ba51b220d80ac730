package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"rigidsync/broker/internal/auth"
	"rigidsync/broker/internal/config"
	"rigidsync/broker/internal/events"
	"rigidsync/broker/internal/logging"
)

const (
	feedBuffer     = 64
	feedWriteWait  = 10 * time.Second
	feedReadLimit  = 4 << 10
	feedPongFactor = 2
)

// feedAuthenticator identifies /ws callers. The returned id names the event subscriber, so a
// reconnecting client with the same id resumes its unacknowledged events.
type feedAuthenticator interface {
	Authenticate(r *http.Request) (string, error)
}

type allowAllAuthenticator struct{}

// Authenticate trusts the optional subscriber query parameter.
func (allowAllAuthenticator) Authenticate(r *http.Request) (string, error) {
	return strings.TrimSpace(r.URL.Query().Get("subscriber")), nil
}

type hmacFeedAuthenticator struct {
	verifier *auth.HMACTokenVerifier
}

// Authenticate validates the feed token and returns its subject.
func (a *hmacFeedAuthenticator) Authenticate(r *http.Request) (string, error) {
	if a == nil || a.verifier == nil {
		return "", errors.New("verifier not configured")
	}
	token := strings.TrimSpace(r.URL.Query().Get("auth_token"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Auth-Token"))
	}
	if token == "" {
		return "", errors.New("missing auth token")
	}
	claims, err := a.verifier.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// feedAck is the only message clients send: the highest sequence they have processed.
type feedAck struct {
	Ack uint64 `json:"ack"`
}

func (b *Broker) upgrader() websocket.Upgrader {
	allowed := b.cfg.AllowedOrigins
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if len(allowed) == 0 || origin == "" {
				return true
			}
			parsed, err := url.Parse(origin)
			if err != nil {
				return false
			}
			for _, candidate := range allowed {
				if candidate == "*" || strings.EqualFold(candidate, origin) || strings.EqualFold(candidate, parsed.Host) {
					return true
				}
			}
			return false
		},
	}
}

// feedHandler streams events.Stream envelopes to WebSocket clients, one subscription per
// connection, and applies their acknowledgements.
func (b *Broker) feedHandler() http.HandlerFunc {
	upgrader := b.upgrader()
	return func(w http.ResponseWriter, r *http.Request) {
		logger := logging.LoggerFromContext(r.Context())
		subscriber, err := b.feedAuth.Authenticate(r)
		if err != nil {
			logger.Warn("feed connection rejected", logging.String("remote_addr", r.RemoteAddr), logging.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if subscriber == "" {
			subscriber = "anon-" + uuid.NewString()
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("feed upgrade failed", logging.Error(err))
			return
		}
		logger = logger.With(logging.String("subscriber", subscriber))
		sub, err := b.events.Subscribe(r.Context(), subscriber, feedBuffer)
		if err != nil {
			logger.Warn("feed subscribe failed", logging.Error(err))
			_ = conn.Close()
			return
		}
		b.metrics.SetWebSocketClients(b.events.Subscribers())
		logger.Info("feed client connected")

		readDone := make(chan struct{})
		go b.readAcks(conn, sub, logger, readDone)
		b.writeEvents(conn, sub, logger, readDone)

		sub.Close()
		_ = conn.Close()
		//1.- Anonymous subscribers can never resume, so their state is dropped at once.
		if strings.HasPrefix(subscriber, "anon-") {
			b.events.Forget(subscriber)
		}
		b.metrics.SetWebSocketClients(b.events.Subscribers())
		logger.Info("feed client disconnected")
	}
}

func (b *Broker) pingInterval() time.Duration {
	if b.cfg.PingInterval > 0 {
		return b.cfg.PingInterval
	}
	return config.DefaultPingInterval
}

func (b *Broker) readAcks(conn *websocket.Conn, sub *events.Subscription, logger *logging.Logger, done chan<- struct{}) {
	defer close(done)
	wait := b.pingInterval() * feedPongFactor
	conn.SetReadLimit(feedReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("feed read ended", logging.Error(err))
			}
			return
		}
		var ack feedAck
		if err := json.Unmarshal(raw, &ack); err != nil || ack.Ack == 0 {
			logger.Debug("ignoring feed message", logging.Int("bytes", len(raw)))
			continue
		}
		if err := sub.Ack(ack.Ack); err != nil {
			logger.Debug("feed ack rejected", logging.Error(err))
		}
	}
}

func (b *Broker) writeEvents(conn *websocket.Conn, sub *events.Subscription, logger *logging.Logger, readDone <-chan struct{}) {
	ticker := time.NewTicker(b.pingInterval())
	defer ticker.Stop()
	for {
		select {
		case <-readDone:
			return
		case <-sub.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "superseded"),
				time.Now().Add(feedWriteWait))
			return
		case env := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteJSON(env); err != nil {
				logger.Debug("feed write failed", logging.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				return
			}
		}
	}
}

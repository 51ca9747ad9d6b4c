package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	v1 "jobchat/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "jobchat.v1"

	wsCloseGrace      = 1 * time.Second
	wsMaxPingFailures = 3

	wsDisconnectTimeout = 5 * time.Second
)

// WSGateway is the per-booking, per-user duplex endpoint: GET /ws/chat/{booking_id}/{user_id}.
//
// A connection is accepted only when the booking resolves to two participants and the user is
// one of them. Accepted connections are registered for live delivery and presence until they close.
type WSGateway struct {
	log      *slog.Logger
	svc      *Service
	verifier TokenVerifier
	cfg      WSConfig

	// Derived for websocket.Accept origin checks.
	originPatterns []string
}

// NewWSGateway constructs a gateway. verifier may be nil (user id taken from the path as is).
func NewWSGateway(log *slog.Logger, svc *Service, verifier TokenVerifier, cfg WSConfig) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.normalized()
	return &WSGateway{
		log:            log,
		svc:            svc,
		verifier:       verifier,
		cfg:            cfg,
		originPatterns: deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins),
	}
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS authorizes, upgrades and runs one chat session.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	bookingID := strings.TrimSpace(r.PathValue("booking_id"))
	userID := strings.TrimSpace(r.PathValue("user_id"))

	if g.verifier != nil {
		uid, err := g.verifier.VerifyBearer(bearerToken(r))
		if err != nil || uid != userID {
			g.log.Info("ws.reject.auth", "booking_id", bookingID, "user_id", userID, "err", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conv, self, err := g.svc.Authorize(r.Context(), bookingID, userID)
	if err != nil {
		status := httpStatus(err)
		g.log.Info("ws.reject.participant", "booking_id", bookingID, "user_id", userID, "status", status, "err", err)
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Optional: clients that offer it get it echoed back.
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	client := newWSClient(self.UserID, g.cfg.SendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.send.
	// Deregistration happens before client.Close so broadcasters stop targeting this handle first.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			dctx, dcancel := context.WithTimeout(context.WithoutCancel(ctx), wsDisconnectTimeout)
			g.svc.Disconnect(dctx, conv, self.UserID, client)
			dcancel()

			client.Close(reason)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	// Register before any goroutine can call shutdown, so Disconnect always follows Connect.
	if prev := g.svc.Connect(ctx, conv, self.UserID, client); prev != nil && g.cfg.CloseSuperseded {
		prev.Close("superseded")
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				// Closed from outside (superseded): flush nothing more, end the session.
				shutdown(websocket.StatusGoingAway, client.closeReason())
				return
			case b := <-client.send:
				if err := writeFrame(ctx, conn, b, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "handle_id", client.ID(), "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "handle_id", client.ID(), "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		data, err := readFrame(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "handle_id", client.ID(), "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		if !rl.Allow(time.Now()) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		ev, err := v1.DecodeInbound(data)
		if err != nil {
			if errors.Is(err, v1.ErrUnknownType) || errors.Is(err, v1.ErrMissingType) {
				g.trySendError(ctx, client, "unsupported", err.Error())
			} else {
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
			}
			continue readLoop
		}

		switch ev := ev.(type) {
		case v1.Typing:
			g.svc.Typing(ctx, conv, self.UserID, ev.IsTyping)

		case v1.DeliveredAck:
			if _, err := g.svc.MarkDelivered(ctx, conv, ev.MessageID, self.UserID); err != nil {
				g.trySendError(ctx, client, errorCode(err), err.Error())
			}

		case v1.Ping:
			_ = client.Send(ctx, v1.Pong{})

		case v1.SendMessage:
			msg, err := g.svc.Send(ctx, SendInput{
				ConversationID: conv.ID,
				SenderID:       self.UserID,
				SenderRole:     self.Role,
				Content:        ev.Content,
			})
			if err != nil {
				g.trySendError(ctx, client, errorCode(err), err.Error())
				continue readLoop
			}
			_ = client.Send(ctx, v1.MessageAck{MessageID: msg.ID, Timestamp: msg.CreatedAt})

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported event: %T", ev))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- send helpers ----

func (g *WSGateway) trySendError(ctx context.Context, client *wsClient, code, msg string) {
	_ = client.Send(ctx, v1.Error{Code: code, Message: msg})
}

// ---- frame IO ----

func readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func writeFrame(parent context.Context, conn *websocket.Conn, b []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// websocket.Accept matches OriginPatterns against the origin host; only allowlisted hosts pass.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

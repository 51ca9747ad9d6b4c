// Package main provides a CI-friendly smoke test for the booking chat server.
//
// It validates:
//   - both participants connect and receive the presence snapshot
//   - new_message over the socket -> message_ack to the sender, new_message to the peer
//   - message_delivered from the peer -> delivery receipt to the sender
//   - HTTP read by the peer -> message_read receipt to the sender
//   - the conversation view reports the message as read
//
// Run it against a server started with CHAT_DEV_SEED=true, or point -booking/-client/-provider
// at a real booking. With -secret-key the tool mints PASETO v4.public bearer tokens.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "jobchat/shared/contracts/chat/v1"

	"aidanwoods.dev/go-paseto"
	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name   string
	userID string
	token  string
	conn   *websocket.Conn

	inbox chan v1.Outbound
	errCh chan error
}

type config struct {
	baseURL  string
	origin   string
	booking  string
	client   string
	provider string
	text     string
	timeout  time.Duration
	verbose  bool

	signer *tokenSigner
}

func main() {
	var (
		baseURL   = flag.String("url", "http://127.0.0.1:8080", "Server base URL (http or https)")
		origin    = flag.String("origin", "", "Origin header to send on the WebSocket handshake")
		booking   = flag.String("booking", "demo", "Booking id of the conversation")
		client    = flag.String("client", "demo-client", "Client user id")
		provider  = flag.String("provider", "demo-provider", "Provider user id")
		text      = flag.String("text", "hello from ws-smoke 👋", "Message text to send")
		secretKey = flag.String("secret-key", "", "Hex Ed25519 secret key used to mint bearer tokens (optional)")
		issuer    = flag.String("issuer", "", "Token issuer claim")
		timeout   = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose   = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	cfg := config{
		baseURL:  strings.TrimRight(*baseURL, "/"),
		origin:   *origin,
		booking:  *booking,
		client:   *client,
		provider: *provider,
		text:     *text,
		timeout:  *timeout,
		verbose:  *verbose,
	}
	if err := validateBaseURL(cfg.baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if *secretKey != "" {
		s, err := newTokenSigner(*secretKey, *issuer)
		if err != nil {
			fatalf("invalid -secret-key: %v", err)
		}
		cfg.signer = s
	}

	root := context.Background()

	a := mustConnect(root, cfg, "client", cfg.client)
	defer closeWS(a.conn)
	a.mustReadUntil(root, v1.TypeOnlineUsers, cfg.timeout)

	b := mustConnect(root, cfg, "provider", cfg.provider)
	defer closeWS(b.conn)
	snap := b.mustReadUntil(root, v1.TypeOnlineUsers, cfg.timeout).(v1.OnlineUsers)
	if !contains(snap.Users, cfg.client) {
		fatalf("online_users for provider should list the client: %v", snap.Users)
	}
	status := a.mustReadUntil(root, v1.TypeUserStatus, cfg.timeout).(v1.UserStatus)
	if status.UserID != cfg.provider || !status.IsOnline {
		fatalf("client expected provider online, got %+v", status)
	}

	mustWrite(root, a.conn, map[string]any{"type": v1.TypeNewMessage, "content": cfg.text}, cfg.timeout)
	ack := a.mustReadUntil(root, v1.TypeMessageAck, cfg.timeout).(v1.MessageAck)
	if strings.TrimSpace(ack.MessageID) == "" {
		fatalf("message_ack missing message_id")
	}

	msg := b.mustReadUntil(root, v1.TypeNewMessage, cfg.timeout).(v1.NewMessage)
	if msg.MessageID != ack.MessageID || msg.SenderID != cfg.client || msg.Content != strings.TrimSpace(cfg.text) {
		fatalf("new_message mismatch: got %+v want id=%s", msg, ack.MessageID)
	}

	mustWrite(root, b.conn, map[string]any{"type": v1.TypeMessageDelivered, "message_id": msg.MessageID}, cfg.timeout)
	delivered := a.mustReadUntil(root, v1.TypeMessageDelivered, cfg.timeout).(v1.DeliveredReceipt)
	if delivered.MessageID != msg.MessageID || delivered.UserID != cfg.provider {
		fatalf("delivery receipt mismatch: %+v", delivered)
	}

	mustMarkRead(root, cfg, b, msg.MessageID)
	read := a.mustReadUntil(root, v1.TypeMessageRead, cfg.timeout).(v1.ReadReceipt)
	if read.MessageID != msg.MessageID || read.UserID != cfg.provider {
		fatalf("read receipt mismatch: %+v", read)
	}

	mustConversationShowsRead(root, cfg, a, msg.MessageID)

	if cfg.verbose {
		fmt.Printf("message %s delivered at %s read at %s\n", msg.MessageID, delivered.Timestamp.Format(time.RFC3339), read.Timestamp.Format(time.RFC3339))
	}
	fmt.Printf("OK: booking=%s message_id=%s\n", cfg.booking, msg.MessageID)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func wsURL(base, booking, userID string) string {
	ws := "ws" + strings.TrimPrefix(base, "http")
	return ws + "/ws/chat/" + url.PathEscape(booking) + "/" + url.PathEscape(userID)
}

func mustConnect(parent context.Context, cfg config, name, userID string) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, cfg.timeout)
	defer cancel()

	c := &smokeClient{
		name:   name,
		userID: userID,
		inbox:  make(chan v1.Outbound, 512),
		errCh:  make(chan error, 1),
	}
	if cfg.signer != nil {
		c.token = cfg.signer.issue(userID)
	}

	h := http.Header{}
	if strings.TrimSpace(cfg.origin) != "" {
		h.Set("Origin", cfg.origin)
	}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL(cfg.baseURL, cfg.booking, userID), &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			fatalf("connect %s: %v (status %d)", name, err, resp.StatusCode)
		}
		fatalf("connect %s: %v", name, err)
	}
	conn.SetReadLimit(maxReadBytes)

	c.conn = conn
	c.startReadLoop()
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			ev, err := v1.DecodeOutbound(data)
			if err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad frame %q: %w", data, err):
				default:
				}
				return
			}

			select {
			case c.inbox <- ev:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

// mustReadUntil skips unrelated events (presence, typing) until wantType arrives.
func (c *smokeClient) mustReadUntil(parent context.Context, wantType string, stepTimeout time.Duration) v1.Outbound {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case ev, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if e, isErr := ev.(v1.Error); isErr {
				fatalf("server error (%s): code=%q msg=%q", c.name, e.Code, e.Message)
			}
			if ev.Type() == wantType {
				return ev
			}
		}
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, frame map[string]any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(frame)
	if err != nil {
		fatalf("marshal frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustMarkRead(parent context.Context, cfg config, reader *smokeClient, messageID string) {
	body := map[string]any{
		"message_id":  messageID,
		"reader_type": "provider",
		"user_id":     reader.userID,
	}
	var out struct {
		Status string `json:"status"`
	}
	status := mustDoJSON(parent, cfg, http.MethodPost, "/messages/read", reader.token, body, &out)
	if status != http.StatusOK || out.Status != "ok" {
		fatalf("mark read: status=%d body=%+v", status, out)
	}
}

func mustConversationShowsRead(parent context.Context, cfg config, viewer *smokeClient, messageID string) {
	var view struct {
		Messages []struct {
			ID   string `json:"id"`
			Read bool   `json:"read"`
		} `json:"messages"`
	}
	path := "/messages/booking/" + url.PathEscape(cfg.booking) + "?user_id=" + url.QueryEscape(viewer.userID)
	status := mustDoJSON(parent, cfg, http.MethodGet, path, viewer.token, nil, &view)
	if status != http.StatusOK {
		fatalf("conversation view: status=%d", status)
	}
	for _, m := range view.Messages {
		if m.ID == messageID {
			if !m.Read {
				fatalf("conversation view: message %s not marked read", messageID)
			}
			return
		}
	}
	fatalf("conversation view: message %s missing", messageID)
}

func mustDoJSON(parent context.Context, cfg config, method, path, token string, body, out any) int {
	ctx, cancel := context.WithTimeout(parent, cfg.timeout)
	defer cancel()

	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.baseURL+path, rdr)
	if err != nil {
		fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type tokenSigner struct {
	issuer string
	secret paseto.V4AsymmetricSecretKey
}

func newTokenSigner(secretHex, issuer string) (*tokenSigner, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(strings.TrimSpace(secretHex))
	if err != nil {
		return nil, err
	}
	return &tokenSigner{issuer: issuer, secret: secret}, nil
}

func (s *tokenSigner) issue(userID string) string {
	now := time.Now()
	tok := paseto.NewToken()
	if s.issuer != "" {
		tok.SetIssuer(s.issuer)
	}
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(now.Add(10 * time.Minute))
	_ = tok.Set("uid", userID)
	return tok.V4Sign(s.secret, nil)
}

func contains(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}

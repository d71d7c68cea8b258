package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

const (
	channelWriteWait = 10 * time.Second
	channelHandshake = 15 * time.Second
)

// wsDialer opens session channels at {server}/ws/{id}?cols=&rows=&token=.
type wsDialer struct {
	server *url.URL
	token  string
	dialer *websocket.Dialer
}

// NewWSDialer returns a Dialer for the given HTTP(S) server URL.
func NewWSDialer(serverURL, token string) (Dialer, error) {
	u, err := wsBaseURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &wsDialer{
		server: u,
		token:  token,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: channelHandshake,
		},
	}, nil
}

// wsBaseURL maps http to ws and https to wss; ws and wss pass through.
func wsBaseURL(serverURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(serverURL))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("server url %q: unsupported scheme %q", serverURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("server url %q: missing host", serverURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u, nil
}

func (d *wsDialer) sessionURL(id string, size GridSize) string {
	u := d.server.JoinPath("ws", id)
	q := url.Values{}
	if size.Valid() {
		q.Set("cols", strconv.Itoa(size.Cols))
		q.Set("rows", strconv.Itoa(size.Rows))
	}
	if d.token != "" {
		q.Set("token", d.token)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (d *wsDialer) Dial(ctx context.Context, id string, size GridSize) (Channel, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.sessionURL(id, size), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial session %s: %w (status %d)", id, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial session %s: %w", id, err)
	}
	return &wsChannel{conn: conn}, nil
}

// wsChannel serializes writes; gorilla connections allow one concurrent
// reader and one concurrent writer.
type wsChannel struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsChannel) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsChannel) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	kind := websocket.BinaryMessage
	if utf8.Valid(data) {
		kind = websocket.TextMessage
	}
	c.conn.SetWriteDeadline(time.Now().Add(channelWriteWait))
	return c.conn.WriteMessage(kind, data)
}

func (c *wsChannel) Close() error {
	c.mu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.conn.Close()
}

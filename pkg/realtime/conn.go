package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/models"
)

// ErrMalformed marks a frame that could not be decoded; the connection stays
// usable.
var ErrMalformed = errors.New("realtime: malformed event")

// Conn is the event stream of one conversation subscription.
type Conn interface {
	ReadEvent() (models.RealtimeEvent, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, convID string) (Conn, error)
}

// WSDialer opens one websocket per conversation at <URL>?conversationId=<id>.
type WSDialer struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	// PingInterval enables keepalive pings; a peer silent for two intervals
	// is treated as gone.
	PingInterval time.Duration
}

func (d *WSDialer) Dial(ctx context.Context, convID string) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("realtime: parse url: %w", err)
	}
	q := u.Query()
	q.Set("conversationId", convID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout, Proxy: http.ProxyFromEnvironment}
	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime: dial %s: status %d: %w", convID, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime: dial %s: %w", convID, err)
	}
	c := &wsConn{ws: ws, stop: make(chan struct{})}
	if d.PingInterval > 0 {
		c.keepalive(d.PingInterval)
	}
	return c, nil
}

type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	stop    chan struct{}
	once    sync.Once
}

func (c *wsConn) keepalive(every time.Duration) {
	extend := func() { _ = c.ws.SetReadDeadline(time.Now().Add(2 * every)) }
	extend()
	c.ws.SetPongHandler(func(string) error { extend(); return nil })
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-t.C:
				c.writeMu.Lock()
				err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(every))
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()
}

func (c *wsConn) ReadEvent() (models.RealtimeEvent, error) {
	var ev models.RealtimeEvent
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return ev, err
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.Kind == "" {
		return ev, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return ev, nil
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.stop)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voxelweather.ai/internal/protocol"
)

// RemoteError is an ERROR message received from the server.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// Client is the observer end of a weather socket.
type Client struct {
	conn    *websocket.Conn
	Welcome protocol.WelcomeMsg

	wmu sync.Mutex
}

// Dial connects, sends HELLO and waits for WELCOME.
func Dial(ctx context.Context, url string, hello protocol.HelloMsg) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	hello.Type = protocol.TypeHello
	if hello.ProtocolVersion == "" {
		hello.ProtocolVersion = protocol.Version
	}
	c := &Client{conn: conn}
	if err := c.write(hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	base, err := protocol.DecodeBase(msg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	switch base.Type {
	case protocol.TypeWelcome:
		if err := json.Unmarshal(msg, &c.Welcome); err != nil {
			conn.Close()
			return nil, fmt.Errorf("decode welcome: %w", err)
		}
		return c, nil
	case protocol.TypeError:
		conn.Close()
		return nil, decodeRemoteError(msg)
	default:
		conn.Close()
		return nil, fmt.Errorf("expected WELCOME, got %q", base.Type)
	}
}

// SendPos reports the observer's position.
func (c *Client) SendPos(pos [3]float64) error {
	return c.write(protocol.PosMsg{Type: protocol.TypePos, ProtocolVersion: protocol.Version, Pos: pos})
}

// Run reads until the connection fails or ctx is done, passing every WEATHER
// message to fn. fn runs on the reader goroutine.
func (c *Client) Run(ctx context.Context, fn func(protocol.WeatherMsg)) error {
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWeather:
			var w protocol.WeatherMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			fn(w)
		case protocol.TypeError:
			return decodeRemoteError(msg)
		}
	}
}

func (c *Client) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.conn.Close()
}

func (c *Client) write(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return writeJSON(c.conn, v)
}

func decodeRemoteError(msg []byte) error {
	var e protocol.ErrorMsg
	if err := json.Unmarshal(msg, &e); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}
	return &RemoteError{Code: e.Code, Message: e.Message}
}

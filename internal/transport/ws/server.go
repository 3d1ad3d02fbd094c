package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"voxelweather.ai/internal/protocol"
	"voxelweather.ai/internal/sim/authority"
	"voxelweather.ai/internal/sim/tuning"
)

const (
	handshakeTimeout = 5 * time.Second
	readTimeout      = 60 * time.Second
	writeTimeout     = 5 * time.Second
	lateJoinWait     = time.Minute
)

// Authority is the part of the authoritative runtime the socket layer talks to.
type Authority interface {
	Join() chan<- authority.JoinRequest
	Leave() chan<- string
	Move() chan<- authority.MoveRequest
	Tuning() tuning.Tuning
}

type Server struct {
	auth        Authority
	log         *log.Logger
	joinTimeout time.Duration

	upgrader websocket.Upgrader
}

func NewServer(a Authority, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		auth:        a,
		log:         logger,
		joinTimeout: handshakeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		observerID, out := s.handshake(conn)
		if observerID == "" {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypePos {
				continue
			}
			var pos protocol.PosMsg
			if err := json.Unmarshal(msg, &pos); err != nil || pos.ProtocolVersion != protocol.Version {
				continue
			}
			// Newer positions supersede older ones; drop when the loop is behind.
			select {
			case s.auth.Move() <- authority.MoveRequest{ObserverID: observerID, Pos: pos.Pos}:
			default:
			}
		}

		select {
		case s.auth.Leave() <- observerID:
		case <-time.After(handshakeTimeout):
			s.log.Printf("observer %s: leave not delivered", observerID)
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (observerID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		reject(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		reject(conn, protocol.ErrProtoBadRequest, "bad HELLO")
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		reject(conn, protocol.ErrProtoVersion, "unsupported protocol_version "+hello.ProtocolVersion)
		return "", nil
	}

	out = make(chan []byte, queueSize(s.auth.Tuning(), hello.Capabilities.MaxQueue))
	respCh := make(chan authority.JoinResponse, 1)
	select {
	case s.auth.Join() <- authority.JoinRequest{Name: hello.ObserverName, Pos: hello.Pos, Out: out, Resp: respCh}:
	default:
		reject(conn, protocol.ErrServerBusy, "join queue full")
		return "", nil
	}

	var resp authority.JoinResponse
	select {
	case resp = <-respCh:
	case <-time.After(s.joinTimeout):
		reject(conn, protocol.ErrServerBusy, "join timed out")
		go s.leaveLate(respCh)
		return "", nil
	}
	if err := writeJSON(conn, resp.Welcome); err != nil {
		return "", nil
	}
	return resp.Welcome.ObserverID, out
}

// leaveLate waits for a join the runtime accepted after the handshake gave up
// and removes the observer again.
func (s *Server) leaveLate(respCh <-chan authority.JoinResponse) {
	var resp authority.JoinResponse
	select {
	case resp = <-respCh:
	case <-time.After(lateJoinWait):
		return
	}
	id := resp.Welcome.ObserverID
	if id == "" {
		return
	}
	select {
	case s.auth.Leave() <- id:
		s.log.Printf("observer %s: joined after handshake timeout; removed", id)
	case <-time.After(lateJoinWait):
		s.log.Printf("observer %s: leave not delivered", id)
	}
}

// queueSize keeps room for a full resync burst.
func queueSize(t tuning.Tuning, requested int) int {
	n := 2*t.ObserverRange + 1
	minQ := n*n + 1
	q := requested
	if q <= 0 {
		q = t.ObserverQueue
	}
	if ceiling := 4 * t.ObserverQueue; ceiling > minQ && q > ceiling {
		q = ceiling
	}
	if q < minQ {
		q = minQ
	}
	return q
}

func reject(conn *websocket.Conn, code, message string) {
	_ = writeJSON(conn, protocol.NewError(code, message))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}

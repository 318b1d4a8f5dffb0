/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/watchparty/party"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var (
	errConnClosed      = errors.New("connection closed")
	errSendBufferFull  = errors.New("send buffer full")
	errMissingIdentity = errors.New("missing identity")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type frame struct {
	data   []byte
	binary bool
}

// wsConn adapts one websocket to party.Conn. Send never blocks: a full
// buffer is reported to the caller, which closes the connection.
type wsConn struct {
	id    string
	ws    *websocket.Conn
	codec *MessageCodec
	send  chan frame

	done      chan struct{}
	closeOnce sync.Once

	cfg *Config
}

func newWSConn(cfg *Config, id string, ws *websocket.Conn, codec *MessageCodec) *wsConn {
	return &wsConn{
		id:    id,
		ws:    ws,
		codec: codec,
		send:  make(chan frame, cfg.sendBuffer),
		done:  make(chan struct{}),
		cfg:   cfg,
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(msgType string, payload any) error {
	data, binary, err := c.codec.Encode(msgType, payload)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	select {
	case c.send <- frame{data: data, binary: binary}:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close asks the writer to flush what is queued and hang up.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})

	return nil
}

func (c *wsConn) readPump(loop *party.Loop) {
	defer func() {
		loop.Disconnect(c.id)
		_ = c.Close()
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(c.cfg.maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logf(c.cfg, "CLOSE: %s: %v", c.id, err)
			}

			return
		}

		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		msgType, payload, err := c.codec.Decode(data)
		if err != nil {
			_ = c.Send(party.MsgTypeError, party.ErrorPayload{
				Code:    "invalid_message",
				Message: "Invalid message format",
			})

			continue
		}

		loop.Dispatch(c.id, msgType, payload)
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case f := <-c.send:
			if err := c.write(f); err != nil {
				_ = c.Close()

				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()

				return
			}
		case <-c.done:
			c.flush()

			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

			return
		}
	}
}

// flush writes whatever is still queued, so notices sent right before a
// forced close still arrive.
func (c *wsConn) flush() {
	for {
		select {
		case f := <-c.send:
			if err := c.write(f); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) write(f frame) error {
	messageType := websocket.TextMessage
	if f.binary {
		messageType = websocket.BinaryMessage
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))

	return c.ws.WriteMessage(messageType, f.data)
}

// requestIdentity returns the identity an upstream proxy vouched for.
// Without --identity-header the identity is left for the first join to
// fill in.
func requestIdentity(cfg *Config, r *http.Request) (string, error) {
	if cfg.identityHeader == "" {
		return "", nil
	}

	identity := r.Header.Get(cfg.identityHeader)
	if identity == "" {
		return "", errMissingIdentity
	}

	return identity, nil
}

func serveWebSocket(cfg *Config, loop *party.Loop) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		identity, err := requestIdentity(cfg, r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)

			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "ERROR: websocket upgrade for %s: %v", realIP(r), err)

			return
		}

		format := parseFormat(r.URL.Query().Get("format"))

		conn := newWSConn(cfg, uuid.NewString(), ws, NewMessageCodec(format, cfg.compress, cfg.maxMessageSize))

		logf(cfg, "CONNECT: %s from %s (%s)", conn.id, realIP(r), format)

		loop.Connect(conn, identity)

		go conn.writePump()
		conn.readPump(loop)

		logf(cfg, "DISCONNECT: %s", conn.id)
	}
}

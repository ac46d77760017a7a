/*
Package transport owns the single push-channel connection to the dashboard backend.

A Transport does not reconnect by itself: when the connection drops it goes back to DISCONNECTED,
forgets the handle and tells its disconnect listeners. Topic interest held by the server for the old
connection is gone at that point. Supervisor wraps a Transport to reconnect and replay topics.
*/
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/axolotl-cloud/jobwatch/common/models"
	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024
)

type State int32

const (
	DISCONNECTED State = iota
	CONNECTING
	CONNECTED
)

func (s State) String() string {
	switch s {
	case CONNECTING:
		return "connecting"
	case CONNECTED:
		return "connected"
	default:
		return "disconnected"
	}
}

var ErrNotConnected = errors.New("push channel is not connected")

type EnvelopeHandler func(env models.Envelope)
type DisconnectHandler func(err error)

type Transport struct {
	id     string
	url    string
	dialer *websocket.Dialer

	mutex        sync.Mutex
	conn         *websocket.Conn
	state        State
	onEnvelope   []EnvelopeHandler
	onDisconnect []DisconnectHandler

	writeMutex sync.Mutex
}

func New(url string) *Transport {
	return &Transport{
		id:  uuid.New().String(),
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

func (t *Transport) Id() string {
	return t.id
}

func (t *Transport) State() State {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.state
}

/**
register a callback for every inbound envelope. Callbacks run on the read goroutine, one envelope at a
time and in arrival order.
*/
func (t *Transport) OnEnvelope(handler EnvelopeHandler) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.onEnvelope = append(t.onEnvelope, handler)
}

func (t *Transport) OnDisconnect(handler DisconnectHandler) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.onDisconnect = append(t.onDisconnect, handler)
}

/**
establish the connection. Calling Connect while connecting or connected does nothing.
*/
func (t *Transport) Connect(ctx context.Context) error {
	t.mutex.Lock()
	if t.state != DISCONNECTED {
		t.mutex.Unlock()
		return nil
	}
	t.state = CONNECTING
	t.mutex.Unlock()

	log.Printf("Connecting to push channel at %s", t.url)
	conn, _, dialErr := t.dialer.DialContext(ctx, t.url, nil)
	if dialErr != nil {
		log.Errorf("Could not connect to push channel at %s: %s", t.url, dialErr)
		t.mutex.Lock()
		t.state = DISCONNECTED
		t.mutex.Unlock()
		return dialErr
	}
	conn.SetReadLimit(maxMessageSize)

	t.mutex.Lock()
	t.conn = conn
	t.state = CONNECTED
	t.mutex.Unlock()

	log.Printf("Push channel connection established (client %s)", t.id)
	go t.readPump(conn)
	return nil
}

/**
write one envelope. If there is no connection the envelope is dropped and logged, nothing is queued.
*/
func (t *Transport) Send(env models.Envelope) error {
	t.mutex.Lock()
	conn := t.conn
	t.mutex.Unlock()

	if conn == nil {
		log.Warnf("WARNING: dropping %s envelope, push channel is not connected", env.Type)
		return ErrNotConnected
	}

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(env); err != nil {
		log.Errorf("Could not send %s envelope: %s", env.Type, err)
		return err
	}
	return nil
}

/**
close the connection on purpose. Disconnect listeners are still told, with a nil error.
*/
func (t *Transport) Close() error {
	t.mutex.Lock()
	conn := t.conn
	t.mutex.Unlock()
	if conn == nil {
		return nil
	}

	t.writeMutex.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	t.writeMutex.Unlock()

	t.dropConnection(conn, nil)
	return conn.Close()
}

/**
forget the given connection if it is still the current one and tell the listeners
*/
func (t *Transport) dropConnection(conn *websocket.Conn, reason error) {
	t.mutex.Lock()
	if t.conn != conn {
		t.mutex.Unlock()
		return
	}
	t.conn = nil
	t.state = DISCONNECTED
	listeners := make([]DisconnectHandler, len(t.onDisconnect))
	copy(listeners, t.onDisconnect)
	t.mutex.Unlock()

	if reason != nil {
		log.Warnf("WARNING: push channel connection closed: %s", reason)
	} else {
		log.Printf("Push channel connection closed")
	}
	for _, listener := range listeners {
		listener(reason)
	}
}

func (t *Transport) readPump(conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.dropConnection(conn, nil)
			} else {
				t.dropConnection(conn, err)
			}
			return
		}

		var env models.Envelope
		if unmarshalErr := json.Unmarshal(data, &env); unmarshalErr != nil {
			log.Warnf("WARNING: ignoring undecodable push message: %s", unmarshalErr)
			log.Debugf("offending message was %s", spew.Sdump(data))
			continue
		}
		t.deliver(env)
	}
}

func (t *Transport) deliver(env models.Envelope) {
	t.mutex.Lock()
	handlers := make([]EnvelopeHandler, len(t.onEnvelope))
	copy(handlers, t.onEnvelope)
	t.mutex.Unlock()

	for _, handler := range handlers {
		handler(env)
	}
}

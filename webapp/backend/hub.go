package backend

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/axolotl-cloud/jobwatch/common/models"
	mapset "github.com/deckarep/golang-set"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBuffer     = 256
)

/**
Hub is the server end of the push channel. Clients subscribe to topics; Publish sends an envelope to
every client subscribed to the topic.
*/
type Hub struct {
	upgrader websocket.Upgrader

	mutex   sync.RWMutex
	clients map[*pushClient]struct{}
	topics  map[string]mapset.Set
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*pushClient]struct{}),
		topics:  make(map[string]mapset.Set),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("WebSocket upgrade failed: %s", err)
		return
	}

	c := &pushClient{
		id:   uuid.New().String(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	h.mutex.Lock()
	h.clients[c] = struct{}{}
	h.mutex.Unlock()
	log.Debugf("push client %s connected from %s", c.id, r.RemoteAddr)

	go c.writePump()
	c.readPump()
}

func (h *Hub) subscribe(c *pushClient, topic string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	subscribers, haveTopic := h.topics[topic]
	if !haveTopic {
		subscribers = mapset.NewSet()
		h.topics[topic] = subscribers
	}
	subscribers.Add(c)
}

func (h *Hub) unsubscribe(c *pushClient, topic string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if subscribers, haveTopic := h.topics[topic]; haveTopic {
		subscribers.Remove(c)
		if subscribers.Cardinality() == 0 {
			delete(h.topics, topic)
		}
	}
}

func (h *Hub) unregister(c *pushClient) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, known := h.clients[c]; !known {
		return
	}
	delete(h.clients, c)
	for topic, subscribers := range h.topics {
		subscribers.Remove(c)
		if subscribers.Cardinality() == 0 {
			delete(h.topics, topic)
		}
	}
	close(c.send)
	log.Debugf("push client %s disconnected", c.id)
}

/**
send the envelope to everyone subscribed to the topic, returns how many clients it was queued for.
A client whose queue is full misses the message.
*/
func (h *Hub) Publish(topic string, env models.Envelope) int {
	content, err := json.Marshal(env)
	if err != nil {
		log.Errorf("Could not marshal %s envelope for %s: %s", env.Type, topic, err)
		return 0
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()
	subscribers, haveTopic := h.topics[topic]
	if !haveTopic {
		return 0
	}
	sent := 0
	for _, s := range subscribers.ToSlice() {
		c := s.(*pushClient)
		select {
		case c.send <- content:
			sent++
		default:
			log.Warnf("WARNING: push client %s is not keeping up, dropping message for %s", c.id, topic)
		}
	}
	return sent
}

/**
forget every subscriber of the topic
*/
func (h *Hub) DropTopic(topic string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	delete(h.topics, topic)
}

func (h *Hub) Subscribers(topic string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if subscribers, haveTopic := h.topics[topic]; haveTopic {
		return subscribers.Cardinality()
	}
	return 0
}

/**
close every client connection, as a server restart would
*/
func (h *Hub) DisconnectAll() {
	h.mutex.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mutex.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}

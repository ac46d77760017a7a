package backend

import (
	"encoding/json"
	"time"

	"github.com/axolotl-cloud/jobwatch/common/models"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

type pushClient struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *pushClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debugf("push client %s read error: %s", c.id, err)
			}
			return
		}

		var env models.Envelope
		if unmarshalErr := json.Unmarshal(data, &env); unmarshalErr != nil {
			log.Warnf("WARNING: invalid message from push client %s: %s", c.id, unmarshalErr)
			continue
		}

		switch env.Type {
		case models.ENVELOPE_SUBSCRIBE:
			if topic, topicErr := env.Topic(); topicErr == nil {
				c.hub.subscribe(c, topic)
			}
		case models.ENVELOPE_UNSUBSCRIBE:
			if topic, topicErr := env.Topic(); topicErr == nil {
				c.hub.unsubscribe(c, topic)
			}
		default:
			log.Debugf("ignoring %s message from push client %s", env.Type, c.id)
		}
	}
}

func (c *pushClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debugf("push client %s write error: %s", c.id, err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

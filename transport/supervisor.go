package transport

import (
	"context"
	"time"

	"github.com/axolotl-cloud/jobwatch/common/models"
	log "github.com/sirupsen/logrus"
)

const DEFAULT_MIN_BACKOFF = 500 * time.Millisecond

/**
TopicSource gives the topics that are currently wanted, so they can be re-subscribed on a fresh connection
*/
type TopicSource interface {
	Topics() []string
}

/**
Supervisor keeps a Transport connected. After every successful (re)connect it replays a subscribe for
each topic the TopicSource still wants; between attempts it backs off exponentially up to maxBackoff.
*/
type Supervisor struct {
	transport  *Transport
	topics     TopicSource
	minBackoff time.Duration
	maxBackoff time.Duration
	dropped    chan error
	connected  chan struct{}
}

func NewSupervisor(t *Transport, topics TopicSource, maxBackoff time.Duration) *Supervisor {
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	s := &Supervisor{
		transport:  t,
		topics:     topics,
		minBackoff: DEFAULT_MIN_BACKOFF,
		maxBackoff: maxBackoff,
		dropped:    make(chan error, 1),
		connected:  make(chan struct{}, 1),
	}
	t.OnDisconnect(func(err error) {
		select {
		case s.dropped <- err:
		default:
		}
	})
	return s
}

func (s *Supervisor) SetMinBackoff(d time.Duration) {
	if d > 0 {
		s.minBackoff = d
	}
}

/**
Connected fires (without blocking the supervisor) each time a connection is up and topics are replayed
*/
func (s *Supervisor) Connected() <-chan struct{} {
	return s.connected
}

func (s *Supervisor) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > s.maxBackoff {
		return s.maxBackoff
	}
	return next
}

func (s *Supervisor) replayTopics() {
	if s.topics == nil {
		return
	}
	topics := s.topics.Topics()
	for _, topic := range topics {
		_ = s.transport.Send(models.NewSubscribeEnvelope(topic))
	}
	if len(topics) > 0 {
		log.Printf("Re-subscribed to %d topics", len(topics))
	}
}

/**
blocks until the context is cancelled, then closes the transport
*/
func (s *Supervisor) Run(ctx context.Context) {
	backoff := s.minBackoff

	for {
		err := s.transport.Connect(ctx)
		if err == nil {
			backoff = s.minBackoff
			s.replayTopics()
			select {
			case s.connected <- struct{}{}:
			default:
			}

			select {
			case <-ctx.Done():
				s.transport.Close()
				return
			case dropErr := <-s.dropped:
				if dropErr == nil && ctx.Err() != nil {
					return
				}
				log.Printf("Push channel dropped, reconnecting in %s", backoff)
			}
		} else {
			log.Printf("Retrying push channel connection in %s", backoff)
		}

		select {
		case <-ctx.Done():
			s.transport.Close()
			return
		case <-time.After(backoff):
		}
		backoff = s.nextBackoff(backoff)
	}
}

/*
Package router fans inbound push envelopes out to handlers registered by envelope type, and tracks which
topics the dashboard currently wants to hear about.
*/
package router

import (
	"sort"
	"sync"

	"github.com/axolotl-cloud/jobwatch/common/models"
	mapset "github.com/deckarep/golang-set"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

/**
Sender is whatever can put an envelope on the push channel; transport.Transport satisfies it
*/
type Sender interface {
	Send(env models.Envelope) error
}

type Handler func(env models.Envelope)

/**
HandlerId identifies one registration made with On. Registering the same function twice gives two ids.
*/
type HandlerId string

type registration struct {
	id      HandlerId
	handler Handler
}

type Router struct {
	sender   Sender
	mutex    sync.RWMutex
	handlers map[models.EnvelopeType][]registration
	topics   mapset.Set
}

func New(sender Sender) *Router {
	return &Router{
		sender:   sender,
		handlers: make(map[models.EnvelopeType][]registration),
		topics:   mapset.NewSet(),
	}
}

/**
ask the server for events on the topic. Safe to repeat; the topic is remembered even if the send fails
so it can be replayed after a reconnect.
*/
func (r *Router) Subscribe(topic string) {
	r.topics.Add(topic)
	if err := r.sender.Send(models.NewSubscribeEnvelope(topic)); err != nil {
		log.Debugf("subscribe to %s not sent: %s", topic, err)
	}
}

func (r *Router) Unsubscribe(topic string) {
	r.topics.Remove(topic)
	if err := r.sender.Send(models.NewUnsubscribeEnvelope(topic)); err != nil {
		log.Debugf("unsubscribe from %s not sent: %s", topic, err)
	}
}

/**
topics subscribed and not yet unsubscribed, sorted
*/
func (r *Router) Topics() []string {
	rtn := make([]string, 0, r.topics.Cardinality())
	for _, t := range r.topics.ToSlice() {
		rtn = append(rtn, t.(string))
	}
	sort.Strings(rtn)
	return rtn
}

func (r *Router) On(kind models.EnvelopeType, handler Handler) HandlerId {
	id := HandlerId(uuid.New().String())
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.handlers[kind] = append(r.handlers[kind], registration{id: id, handler: handler})
	return id
}

/**
remove one registration. Removing something that is not registered does nothing.
*/
func (r *Router) Off(kind models.EnvelopeType, id HandlerId) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	existing := r.handlers[kind]
	for i, reg := range existing {
		if reg.id == id {
			updated := make([]registration, 0, len(existing)-1)
			updated = append(updated, existing[:i]...)
			updated = append(updated, existing[i+1:]...)
			if len(updated) == 0 {
				delete(r.handlers, kind)
			} else {
				r.handlers[kind] = updated
			}
			return
		}
	}
}

/**
drop every handler. Topic interest is left alone.
*/
func (r *Router) Clear() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.handlers = make(map[models.EnvelopeType][]registration)
}

func (r *Router) HandlerCount(kind models.EnvelopeType) int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.handlers[kind])
}

/**
call every handler registered for the envelope's type, in registration order. The handler list is taken
before the first call, so a handler that calls On or Off only affects later envelopes.
Envelopes with no handlers are dropped.
*/
func (r *Router) Dispatch(env models.Envelope) {
	r.mutex.RLock()
	regs := r.handlers[env.Type]
	r.mutex.RUnlock()

	if len(regs) == 0 {
		log.Debugf("no handlers for %s envelope, dropping", env.Type)
		return
	}
	for _, reg := range regs {
		r.invoke(reg, env)
	}
}

func (r *Router) invoke(reg registration, env models.Envelope) {
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("ERROR: handler %s panicked on %s envelope: %v", reg.id, env.Type, p)
		}
	}()
	reg.handler(env)
}

package main

import (
	"context"

	"github.com/axolotl-cloud/jobwatch/common/helpers"
	"github.com/axolotl-cloud/jobwatch/common/models"
	"github.com/axolotl-cloud/jobwatch/jobview"
	"github.com/axolotl-cloud/jobwatch/router"
	"github.com/axolotl-cloud/jobwatch/transport"
	log "github.com/sirupsen/logrus"
)

/**
the push side of the dashboard: one transport, the router fed from it and a job view on top
*/
type pushSession struct {
	config     *helpers.Config
	transport  *transport.Transport
	router     *router.Router
	view       *jobview.View
	supervisor *transport.Supervisor
	cancel     context.CancelFunc
	done       chan struct{}
}

func newPushSession(config *helpers.Config, store models.JobStore) *pushSession {
	t := transport.New(config.Push.Url)
	r := router.New(t)
	t.OnEnvelope(r.Dispatch)

	s := &pushSession{
		config:    config,
		transport: t,
		router:    r,
		view:      jobview.New(store, r),
	}
	if config.Push.Reconnect {
		s.supervisor = transport.NewSupervisor(t, r, config.Push.MaxBackoff)
	}
	return s
}

/**
connect. With push.reconnect set the supervisor owns the connection from here on and this returns
straight away; otherwise a failed connect is returned as an error.
*/
func (s *pushSession) Start(ctx context.Context) error {
	if s.supervisor == nil {
		return s.transport.Connect(ctx)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		s.supervisor.Run(runCtx)
		close(s.done)
	}()
	return nil
}

func (s *pushSession) Close() {
	s.view.Close()
	s.router.Clear()
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	if err := s.transport.Close(); err != nil {
		log.Debugf("closing push channel: %s", err)
	}
}

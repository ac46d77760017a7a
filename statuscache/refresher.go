package statuscache

import (
	"context"
	"sync"
	"time"

	"github.com/axolotl-cloud/jobwatch/apiclient"
	"github.com/axolotl-cloud/jobwatch/common/models"
	log "github.com/sirupsen/logrus"
)

const DEFAULT_REFRESH_INTERVAL = 5 * time.Second

type StatusFetcher interface {
	ContainerStatus(ctx context.Context, ref apiclient.ContainerRef) (models.ContainerStatus, error)
}

/**
Refresher polls one container's status into the cache: once on Start, then every interval until Stop.
A failed fetch writes CONTAINER_DEAD.
*/
type Refresher struct {
	cache    *Cache
	fetcher  StatusFetcher
	ref      apiclient.ContainerRef
	interval time.Duration
	skip     func(key string) bool

	mutex  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRefresher(cache *Cache, fetcher StatusFetcher, ref apiclient.ContainerRef, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = DEFAULT_REFRESH_INTERVAL
	}
	return &Refresher{
		cache:    cache,
		fetcher:  fetcher,
		ref:      ref,
		interval: interval,
	}
}

/**
ticks for which skip returns true are not fetched at all. The lifecycle coordinator's InFlight goes here
so a running action's `loading` is left alone. Safe to call on a running refresher.
*/
func (r *Refresher) SkipWhile(skip func(key string) bool) *Refresher {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.skip = skip
	return r
}

func (r *Refresher) skipFunc() func(key string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.skip
}

func (r *Refresher) Key() string {
	return r.ref.String()
}

/**
do one fetch and write the result. Returns the status fetched, or "" if the tick was skipped. The status
is not stored if something newer was written to the cache while the fetch was out.
*/
func (r *Refresher) Refresh(ctx context.Context) models.ContainerStatus {
	key := r.ref.String()
	//taken before the skip check: an action claiming the key after the check writes `loading` with a
	//later number, so this fetch's result is then discarded
	seq := r.cache.NextSeq()
	if skip := r.skipFunc(); skip != nil && skip(key) {
		log.Debugf("skipping status refresh for %s, action in progress", key)
		return ""
	}

	status, err := r.fetcher.ContainerStatus(ctx, r.ref)
	if err != nil {
		if ctx.Err() != nil {
			return ""
		}
		log.Warnf("WARNING: could not get status for %s, marking dead: %s", key, err)
		status = models.CONTAINER_DEAD
	}
	r.cache.Write(key, status, seq)
	return status
}

/**
start polling in the background. Calling Start on a running refresher does nothing.
*/
func (r *Refresher) Start(ctx context.Context) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(loopCtx, r.done)
}

func (r *Refresher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	r.Refresh(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh(ctx)
		}
	}
}

/**
stop polling and wait for the loop to exit; nothing is written to the cache after Stop returns
*/
func (r *Refresher) Stop() {
	r.mutex.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.done = nil
	r.mutex.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

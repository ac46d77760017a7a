/*
Package jobview keeps the client-side record of the jobs being displayed.

Two independent paths write to the same record: polled snapshots (ApplySnapshot, wired to the lifecycle
coordinator's progress callback) and pushed log lines arriving as job_log_update envelopes. Both go
through one lock so neither can lose the other's update.
*/
package jobview

import (
	"sync"

	"github.com/axolotl-cloud/jobwatch/common/models"
	"github.com/axolotl-cloud/jobwatch/router"
	log "github.com/sirupsen/logrus"
)

func TopicForJob(jobId string) string {
	return "job:" + jobId
}

/**
Bus is the part of the router the view needs
*/
type Bus interface {
	Subscribe(topic string)
	Unsubscribe(topic string)
	On(kind models.EnvelopeType, handler router.Handler) router.HandlerId
	Off(kind models.EnvelopeType, id router.HandlerId)
}

type UpdateFunc func(job models.Job)

type View struct {
	store models.JobStore
	bus   Bus

	mutex     sync.Mutex
	watched   map[string]struct{}
	handlerId router.HandlerId
	listeners []UpdateFunc
}

func New(store models.JobStore, bus Bus) *View {
	v := &View{
		store:   store,
		bus:     bus,
		watched: make(map[string]struct{}),
	}
	v.handlerId = bus.On(models.ENVELOPE_JOB_LOG_UPDATE, v.handleLogUpdate)
	return v
}

/**
start receiving pushed log lines for the job
*/
func (v *View) Watch(jobId string) {
	v.mutex.Lock()
	_, already := v.watched[jobId]
	v.watched[jobId] = struct{}{}
	v.mutex.Unlock()

	if !already {
		log.Debugf("watching job %s", jobId)
	}
	v.bus.Subscribe(TopicForJob(jobId))
}

func (v *View) Unwatch(jobId string) {
	v.mutex.Lock()
	_, wasWatched := v.watched[jobId]
	delete(v.watched, jobId)
	v.mutex.Unlock()

	if wasWatched {
		v.bus.Unsubscribe(TopicForJob(jobId))
	}
}

func (v *View) Watching(jobId string) bool {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	_, watched := v.watched[jobId]
	return watched
}

func (v *View) OnUpdate(fn UpdateFunc) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.listeners = append(v.listeners, fn)
}

/**
unregister from the router and drop every topic this view subscribed to
*/
func (v *View) Close() {
	v.bus.Off(models.ENVELOPE_JOB_LOG_UPDATE, v.handlerId)

	v.mutex.Lock()
	jobIds := make([]string, 0, len(v.watched))
	for jobId := range v.watched {
		jobIds = append(jobIds, jobId)
	}
	v.watched = make(map[string]struct{})
	v.mutex.Unlock()

	for _, jobId := range jobIds {
		v.bus.Unsubscribe(TopicForJob(jobId))
	}
}

func (v *View) Get(jobId string) (*models.Job, error) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.store.Get(jobId)
}

/**
merge a polled snapshot into the stored record. Once the job is terminal the backend stops publishing
for it, so the topic is dropped too.
*/
func (v *View) ApplySnapshot(job *models.Job) {
	if job == nil {
		return
	}

	v.mutex.Lock()
	existing, getErr := v.store.Get(job.Id)
	if getErr != nil {
		log.Errorf("Could not read stored job %s, replacing it with the snapshot: %s", job.Id, getErr)
		existing = nil
	}
	merged := models.MergeJobSnapshot(existing, *job)
	if putErr := v.store.Put(&merged); putErr != nil {
		v.mutex.Unlock()
		log.Errorf("Could not store snapshot for job %s: %s", job.Id, putErr)
		return
	}
	_, watched := v.watched[job.Id]
	listeners := v.copyListeners()
	v.mutex.Unlock()

	for _, fn := range listeners {
		fn(merged)
	}
	if watched && merged.Status.IsTerminal() {
		v.Unwatch(job.Id)
	}
}

/**
append one log line to the stored record, creating a stub if the job has not been seen yet
*/
func (v *View) AppendLog(jobId string, line models.JobLog) {
	v.mutex.Lock()
	if err := v.store.AppendLog(jobId, line); err != nil {
		v.mutex.Unlock()
		log.Errorf("Could not append log line to job %s: %s", jobId, err)
		return
	}
	updated, getErr := v.store.Get(jobId)
	listeners := v.copyListeners()
	v.mutex.Unlock()

	if getErr != nil || updated == nil {
		return
	}
	for _, fn := range listeners {
		fn(*updated)
	}
}

func (v *View) copyListeners() []UpdateFunc {
	rtn := make([]UpdateFunc, len(v.listeners))
	copy(rtn, v.listeners)
	return rtn
}

func (v *View) handleLogUpdate(env models.Envelope) {
	update, err := env.JobLogUpdate()
	if err != nil {
		log.Warnf("WARNING: ignoring malformed job_log_update: %s", err)
		return
	}
	if !v.Watching(update.JobId) {
		return
	}
	v.AppendLog(update.JobId, update.Log)
}

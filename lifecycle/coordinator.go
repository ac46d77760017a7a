/*
Package lifecycle drives a container through a start or stop: issue the action, wait for the job it
returns, then re-read the container's own status and store that in the status cache.
*/
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/axolotl-cloud/jobwatch/apiclient"
	"github.com/axolotl-cloud/jobwatch/common/helpers"
	"github.com/axolotl-cloud/jobwatch/common/models"
	"github.com/axolotl-cloud/jobwatch/jobpoller"
	"github.com/axolotl-cloud/jobwatch/statuscache"
	log "github.com/sirupsen/logrus"
)

type Outcome string

const (
	OUTCOME_SUCCESS             Outcome = "success"
	OUTCOME_FAILED              Outcome = "failed"
	OUTCOME_ACTION_REJECTED     Outcome = "action_rejected"
	OUTCOME_ALREADY_IN_PROGRESS Outcome = "already_in_progress"
	OUTCOME_TIMED_OUT           Outcome = "timed_out"
)

type Action string

const (
	ACTION_START Action = "start"
	ACTION_STOP  Action = "stop"
)

/**
stop a running container, start anything else
*/
func ActionFor(current models.ContainerStatus) Action {
	if current == models.CONTAINER_RUNNING {
		return ACTION_STOP
	}
	return ACTION_START
}

type Result struct {
	Outcome Outcome                `json:"outcome"`
	Action  Action                 `json:"action"`
	JobId   string                 `json:"job_id,omitempty"`
	Job     *models.Job            `json:"job,omitempty"`
	Status  models.ContainerStatus `json:"status"`
	Err     error                  `json:"-"`
}

type ContainerApi interface {
	StartContainer(ctx context.Context, ref apiclient.ContainerRef) (string, error)
	StopContainer(ctx context.Context, ref apiclient.ContainerRef) (string, error)
	ContainerStatus(ctx context.Context, ref apiclient.ContainerRef) (models.ContainerStatus, error)
}

type JobWaiter interface {
	WaitForCompletion(ctx context.Context, jobId string, progress jobpoller.ProgressFunc) (*models.Job, error)
}

type Coordinator struct {
	api      ContainerApi
	poller   JobWaiter
	cache    *statuscache.Cache
	notifier helpers.Notifier

	mutex      sync.Mutex
	inFlight   map[string]Action
	onProgress []jobpoller.ProgressFunc
}

func NewCoordinator(api ContainerApi, poller JobWaiter, cache *statuscache.Cache, notifier helpers.Notifier) *Coordinator {
	if notifier == nil {
		notifier = helpers.LogNotifier{}
	}
	return &Coordinator{
		api:      api,
		poller:   poller,
		cache:    cache,
		notifier: notifier,
		inFlight: make(map[string]Action),
	}
}

/**
OnJobProgress registers a callback that sees every job snapshot fetched while waiting, for a job display
to mirror
*/
func (c *Coordinator) OnJobProgress(fn jobpoller.ProgressFunc) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.onProgress = append(c.onProgress, fn)
}

/**
true while a Toggle for the given cache key (ContainerRef.String()) has not returned
*/
func (c *Coordinator) InFlight(key string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, busy := c.inFlight[key]
	return busy
}

func (c *Coordinator) claim(key string, action Action) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, busy := c.inFlight[key]; busy {
		return false
	}
	c.inFlight[key] = action
	return true
}

func (c *Coordinator) release(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.inFlight, key)
}

func (c *Coordinator) progress(job *models.Job) {
	c.mutex.Lock()
	listeners := make([]jobpoller.ProgressFunc, len(c.onProgress))
	copy(listeners, c.onProgress)
	c.mutex.Unlock()

	for _, fn := range listeners {
		fn(job)
	}
}

/**
start or stop the container depending on `current`, wait for the resulting job and reconcile the cached
status from the backend.

Only one Toggle per container runs at a time; a second one returns OUTCOME_ALREADY_IN_PROGRESS straight
away without touching the backend or the cache. Failures never panic or escape as errors: they come back
as an outcome, with the cause in Result.Err.
*/
func (c *Coordinator) Toggle(ctx context.Context, ref apiclient.ContainerRef, current models.ContainerStatus) Result {
	key := ref.String()
	action := ActionFor(current)

	if !c.claim(key, action) {
		log.Printf("Ignoring %s for %s, an action is already in progress", action, key)
		return Result{Outcome: OUTCOME_ALREADY_IN_PROGRESS, Action: action, Status: c.cache.Get(key)}
	}
	defer c.release(key)

	previous, hadPrevious := c.cache.Entry(key)
	c.cache.Write(key, models.CONTAINER_LOADING, c.cache.NextSeq())

	var jobId string
	var err error
	if action == ACTION_STOP {
		jobId, err = c.api.StopContainer(ctx, ref)
	} else {
		jobId, err = c.api.StartContainer(ctx, ref)
	}
	if err != nil {
		log.Errorf("Could not %s container %s: %s", action, key, err)
		c.cache.Restore(key, previous, hadPrevious)
		c.notifyError(action)
		return Result{Outcome: OUTCOME_ACTION_REJECTED, Action: action, Status: c.cache.Get(key), Err: err}
	}
	log.Printf("%s of %s accepted as job %s", action, key, jobId)

	job, waitErr := c.poller.WaitForCompletion(ctx, jobId, c.progress)
	result := Result{Action: action, JobId: jobId, Job: job}

	if waitErr != nil {
		if errors.Is(waitErr, jobpoller.ErrTimedOut) {
			log.Warnf("WARNING: gave up waiting for job %s (%s of %s)", jobId, action, key)
			//the job may still be going; whatever the container reports now is the best we have
			if !c.reconcile(ctx, ref, key, previous, hadPrevious) {
				log.Warnf("WARNING: status re-fetch for %s after timeout failed too", key)
			}
			c.notifier.Notify(helpers.Notification{
				Level:   helpers.NOTIFY_ERROR,
				Message: fmt.Sprintf("Timed out waiting for container to %s.", action),
			})
			result.Outcome = OUTCOME_TIMED_OUT
			result.Status = c.cache.Get(key)
			result.Err = waitErr
			return result
		}

		log.Errorf("Waiting for job %s failed: %s", jobId, waitErr)
		c.cache.Restore(key, previous, hadPrevious)
		c.notifyError(action)
		result.Outcome = OUTCOME_FAILED
		result.Status = c.cache.Get(key)
		result.Err = waitErr
		return result
	}

	if !c.reconcile(ctx, ref, key, previous, hadPrevious) {
		c.notifyError(action)
		result.Outcome = OUTCOME_FAILED
		result.Status = c.cache.Get(key)
		result.Err = fmt.Errorf("could not re-read status of %s after job %s", key, jobId)
		return result
	}
	result.Status = c.cache.Get(key)

	if job.Status == models.JOB_COMPLETED {
		result.Outcome = OUTCOME_SUCCESS
		c.notifier.Notify(helpers.Notification{Level: helpers.NOTIFY_SUCCESS, Message: successMessage(action)})
	} else {
		result.Outcome = OUTCOME_FAILED
		c.notifier.Notify(helpers.Notification{Level: helpers.NOTIFY_ERROR, Message: failureMessage(action)})
	}
	log.Printf("%s of %s finished: job %s %s, container now %s", action, key, jobId, job.Status, result.Status)
	return result
}

/**
re-read the container status and cache it. On failure the pre-action entry is put back and false returned.
*/
func (c *Coordinator) reconcile(ctx context.Context, ref apiclient.ContainerRef, key string, previous statuscache.Entry, hadPrevious bool) bool {
	seq := c.cache.NextSeq()
	status, err := c.api.ContainerStatus(ctx, ref)
	if err != nil {
		log.Errorf("Could not re-read status of %s: %s", key, err)
		c.cache.Restore(key, previous, hadPrevious)
		return false
	}
	c.cache.Write(key, status, seq)
	return true
}

func (c *Coordinator) notifyError(action Action) {
	verb := "starting"
	if action == ACTION_STOP {
		verb = "stopping"
	}
	c.notifier.Notify(helpers.Notification{
		Level:   helpers.NOTIFY_ERROR,
		Message: fmt.Sprintf("Error %s container.", verb),
	})
}

func successMessage(action Action) string {
	if action == ACTION_STOP {
		return "Container stopped successfully!"
	}
	return "Container started successfully!"
}

func failureMessage(action Action) string {
	if action == ACTION_STOP {
		return "Container failed to stop."
	}
	return "Container failed to start."
}

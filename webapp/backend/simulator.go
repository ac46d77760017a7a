/*
Package backend is a stand-in for the dashboard backend: containers, the jobs that start and stop them,
and the push channel that streams job logs. Jobs run on a timer instead of touching a container runtime.
*/
package backend

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/axolotl-cloud/jobwatch/apiclient"
	"github.com/axolotl-cloud/jobwatch/common/models"
	log "github.com/sirupsen/logrus"
)

var ErrUnknownContainer = errors.New("container not found")
var ErrUnknownJob = errors.New("job not found")

const DEFAULT_STEP_DELAY = 500 * time.Millisecond

type simContainer struct {
	name   string
	status models.ContainerStatus
	output []string
	//the next action's job fails and the status is left alone
	failing bool
}

type Backend struct {
	store     models.JobStore
	hub       *Hub
	stepDelay time.Duration

	mutex      sync.Mutex
	containers map[string]*simContainer
	jobIds     map[string]struct{}
	nextJobId  int64
	nextLogId  int64
	wg         sync.WaitGroup
}

func NewBackend(store models.JobStore, hub *Hub, stepDelay time.Duration) *Backend {
	if stepDelay <= 0 {
		stepDelay = DEFAULT_STEP_DELAY
	}
	return &Backend{
		store:      store,
		hub:        hub,
		stepDelay:  stepDelay,
		containers: make(map[string]*simContainer),
		jobIds:     make(map[string]struct{}),
	}
}

func (b *Backend) AddContainer(ref apiclient.ContainerRef, name string, status models.ContainerStatus) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.containers[ref.String()] = &simContainer{name: name, status: status}
}

func (b *Backend) SetFailing(ref apiclient.ContainerRef, failing bool) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	c, known := b.containers[ref.String()]
	if !known {
		return ErrUnknownContainer
	}
	c.failing = failing
	return nil
}

func (b *Backend) ContainerStatus(ref apiclient.ContainerRef) (models.ContainerStatus, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	c, known := b.containers[ref.String()]
	if !known {
		return "", ErrUnknownContainer
	}
	return c.status, nil
}

/**
the last `tail` lines the container wrote, newline separated
*/
func (b *Backend) ContainerLogs(ref apiclient.ContainerRef, tail int) (string, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	c, known := b.containers[ref.String()]
	if !known {
		return "", ErrUnknownContainer
	}
	lines := c.output
	if tail > 0 && len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	if len(lines) == 0 {
		return "", nil
	}
	return strings.Join(lines, "\n") + "\n", nil
}

func (b *Backend) StartContainer(ref apiclient.ContainerRef) (string, error) {
	return b.queueAction(ref, "Start", models.CONTAINER_RUNNING)
}

func (b *Backend) StopContainer(ref apiclient.ContainerRef) (string, error) {
	return b.queueAction(ref, "Stop", models.CONTAINER_EXITED)
}

func (b *Backend) queueAction(ref apiclient.ContainerRef, verb string, target models.ContainerStatus) (string, error) {
	b.mutex.Lock()
	c, known := b.containers[ref.String()]
	if !known {
		b.mutex.Unlock()
		return "", ErrUnknownContainer
	}
	b.nextJobId++
	jobId := strconv.FormatInt(b.nextJobId, 10)
	b.jobIds[jobId] = struct{}{}
	failing := c.failing
	name := fmt.Sprintf("%s container %s", verb, c.name)
	b.mutex.Unlock()

	now := time.Now().Unix()
	containerId := ref.ContainerId
	job := &models.Job{
		Id:          jobId,
		Name:        name,
		Status:      models.JOB_PENDING,
		CreatedAt:   now,
		UpdatedAt:   now,
		ContainerId: &containerId,
	}
	if err := b.store.Put(job); err != nil {
		log.Errorf("Could not save job %s: %s", jobId, err)
		return "", err
	}

	b.wg.Add(1)
	go b.runJob(jobId, ref, name, target, failing)
	return jobId, nil
}

func (b *Backend) setJobStatus(jobId string, status models.JobStatus) {
	job, err := b.store.Get(jobId)
	if err != nil || job == nil {
		log.Errorf("Could not load job %s to set status %s: %v", jobId, status, err)
		return
	}
	job.Status = status
	job.UpdatedAt = time.Now().Unix()
	if putErr := b.store.Put(job); putErr != nil {
		log.Errorf("Could not save status %s for job %s: %s", status, jobId, putErr)
	}
}

/**
record a log line and push it to the job's topic in the shape the real backend uses, with a numeric job_id
*/
func (b *Backend) addLog(jobId string, text string) {
	b.mutex.Lock()
	b.nextLogId++
	line := models.JobLog{Id: b.nextLogId, Line: text, CreatedAt: time.Now().Unix()}
	b.mutex.Unlock()

	if err := b.store.AppendLog(jobId, line); err != nil {
		log.Errorf("Could not add log to job %s: %s", jobId, err)
		return
	}

	numericId, _ := strconv.ParseInt(jobId, 10, 64)
	b.hub.Publish(topicForJob(jobId), models.Envelope{
		Type: models.ENVELOPE_JOB_LOG_UPDATE,
		Data: map[string]interface{}{
			"job_id": numericId,
			"log":    line,
		},
	})
}

func (b *Backend) runJob(jobId string, ref apiclient.ContainerRef, name string, target models.ContainerStatus, failing bool) {
	defer b.wg.Done()

	time.Sleep(b.stepDelay)
	b.setJobStatus(jobId, models.JOB_RUNNING)
	b.addLog(jobId, fmt.Sprintf("[INFO] Starting job: %s", name))

	time.Sleep(b.stepDelay)
	if failing {
		b.addLog(jobId, fmt.Sprintf("[ERROR] Job failed: could not %s", strings.ToLower(name)))
		b.setJobStatus(jobId, models.JOB_FAILED)
		b.hub.DropTopic(topicForJob(jobId))
		return
	}

	b.mutex.Lock()
	if c, known := b.containers[ref.String()]; known {
		c.status = target
		c.output = append(c.output, fmt.Sprintf("%s %s", time.Now().Format(time.RFC3339), target))
	}
	b.mutex.Unlock()

	b.addLog(jobId, fmt.Sprintf("[SUCCESS] Job '%s' completed", name))
	b.setJobStatus(jobId, models.JOB_COMPLETED)
	b.hub.DropTopic(topicForJob(jobId))
}

/**
wait for every job started so far to finish
*/
func (b *Backend) Wait() {
	b.wg.Wait()
}

func (b *Backend) Job(jobId string) (*models.Job, error) {
	b.mutex.Lock()
	_, known := b.jobIds[jobId]
	b.mutex.Unlock()
	if !known {
		return nil, ErrUnknownJob
	}
	job, err := b.store.Get(jobId)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrUnknownJob
	}
	return job, nil
}

func (b *Backend) Jobs() ([]models.Job, error) {
	b.mutex.Lock()
	ids := make([]int64, 0, len(b.jobIds))
	for id := range b.jobIds {
		n, _ := strconv.ParseInt(id, 10, 64)
		ids = append(ids, n)
	}
	b.mutex.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rtn := make([]models.Job, 0, len(ids))
	for _, id := range ids {
		job, err := b.Job(strconv.FormatInt(id, 10))
		if err != nil {
			if errors.Is(err, ErrUnknownJob) {
				continue
			}
			return nil, err
		}
		rtn = append(rtn, *job)
	}
	return rtn, nil
}

func (b *Backend) DeleteJob(jobId string) error {
	b.mutex.Lock()
	_, known := b.jobIds[jobId]
	delete(b.jobIds, jobId)
	b.mutex.Unlock()
	if !known {
		return ErrUnknownJob
	}
	return b.store.Remove(jobId)
}

func topicForJob(jobId string) string {
	return "job:" + jobId
}

package models

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"
)

type JobStatus string

const (
	JOB_PENDING   JobStatus = "pending"
	JOB_RUNNING   JobStatus = "running"
	JOB_COMPLETED JobStatus = "completed"
	JOB_FAILED    JobStatus = "failed"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JOB_PENDING, JOB_RUNNING, JOB_COMPLETED, JOB_FAILED:
		return true
	default:
		return false
	}
}

/**
completed and failed are terminal, nothing moves a job out of them
*/
func (s JobStatus) IsTerminal() bool {
	return s == JOB_COMPLETED || s == JOB_FAILED
}

func (s JobStatus) IsFailure() bool {
	return s == JOB_FAILED
}

func (s JobStatus) rank() int {
	switch s {
	case JOB_PENDING:
		return 1
	case JOB_RUNNING:
		return 2
	case JOB_COMPLETED, JOB_FAILED:
		return 3
	default:
		return 0
	}
}

/**
returns true if a job currently in state `s` may be moved to `next`.
status never moves backwards and a terminal status is never replaced, not even by the other terminal status.
*/
func (s JobStatus) CanMoveTo(next JobStatus) bool {
	if !next.Valid() {
		return false
	}
	if s.IsTerminal() {
		return s == next
	}
	return next.rank() >= s.rank()
}

type JobLog struct {
	Id        int64  `json:"id"`
	Line      string `json:"line"`
	CreatedAt int64  `json:"created_at"`
}

type Job struct {
	Id          string    `json:"id"`
	Name        string    `json:"name"`
	Status      JobStatus `json:"status"`
	CreatedAt   int64     `json:"created_at"`
	UpdatedAt   int64     `json:"updated_at"`
	ContainerId *string   `json:"container_id"`
	Logs        []JobLog  `json:"logs"`
}

/**
the backend sends numeric ids, we treat them as opaque strings so decode weakly through mapstructure
*/
func (j *Job) UnmarshalJSON(data []byte) error {
	var rawDataMap map[string]interface{}
	err := json.Unmarshal(data, &rawDataMap)
	if err != nil {
		return err
	}

	type plainJob Job
	var decoded plainJob
	decErr := CustomisedMapStructureDecode(rawDataMap, &decoded)
	if decErr != nil {
		log.Debugf("decoding ERROR: %s for %s", decErr, spew.Sdump(rawDataMap))
		return decErr
	}
	if decoded.Id == "" {
		return fmt.Errorf("job data has no id")
	}
	*j = Job(decoded)
	return nil
}

func (j *Job) hasLog(line JobLog) bool {
	for _, existing := range j.Logs {
		if line.Id != 0 && existing.Id == line.Id {
			return true
		}
		if line.Id == 0 && existing.Id == 0 && existing.Line == line.Line && existing.CreatedAt == line.CreatedAt {
			return true
		}
	}
	return false
}

/**
append a single pushed log line. Returns false if the line was already present (e.g. a snapshot got there first).
appending never touches the status, so a trailing flush after the job finished is fine.
*/
func (j *Job) AppendLog(line JobLog) bool {
	if j.hasLog(line) {
		return false
	}
	j.Logs = append(j.Logs, line)
	return true
}

/**
returns a copy of the job with its own log slice
*/
func (j Job) Clone() Job {
	rtn := j
	if j.Logs != nil {
		rtn.Logs = make([]JobLog, len(j.Logs))
		copy(rtn.Logs, j.Logs)
	}
	if j.ContainerId != nil {
		cid := *j.ContainerId
		rtn.ContainerId = &cid
	}
	return rtn
}

/**
merge a polled snapshot into what we already know about the job.
- status follows CanMoveTo, so a terminal status sticks and nothing goes backwards
- logs are the union of both sides; pushed lines that the snapshot does not know yet are kept,
  ordered by log id where ids are present
*/
func MergeJobSnapshot(existing *Job, incoming Job) Job {
	if existing == nil {
		return incoming.Clone()
	}
	merged := existing.Clone()

	if incoming.Name != "" {
		merged.Name = incoming.Name
	}
	if incoming.CreatedAt != 0 {
		merged.CreatedAt = incoming.CreatedAt
	}
	if incoming.UpdatedAt > merged.UpdatedAt {
		merged.UpdatedAt = incoming.UpdatedAt
	}
	if incoming.ContainerId != nil {
		cid := *incoming.ContainerId
		merged.ContainerId = &cid
	}

	if merged.Status == "" || merged.Status.CanMoveTo(incoming.Status) {
		merged.Status = incoming.Status
	} else if merged.Status != incoming.Status {
		log.Warnf("WARNING: ignoring status change %s -> %s for job %s", merged.Status, incoming.Status, merged.Id)
	}

	for _, line := range incoming.Logs {
		merged.AppendLog(line)
	}
	if allLogsHaveIds(merged.Logs) {
		sort.SliceStable(merged.Logs, func(a, b int) bool {
			return merged.Logs[a].Id < merged.Logs[b].Id
		})
	}
	return merged
}

func allLogsHaveIds(logs []JobLog) bool {
	for _, l := range logs {
		if l.Id == 0 {
			return false
		}
	}
	return true
}

package models

import (
	"sync"

	"github.com/jinzhu/copier"
)

/**
JobStore holds the client-side view of job records. It is written by two independent paths:
polled snapshots (Put after MergeJobSnapshot) and pushed log lines (AppendLog).
Get returns nil, nil if the job is not known.
*/
type JobStore interface {
	Get(jobId string) (*Job, error)
	Put(job *Job) error
	AppendLog(jobId string, line JobLog) error
	Remove(jobId string) error
}

type MemoryJobStore struct {
	mutex sync.RWMutex
	jobs  map[string]*Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*Job)}
}

func (s *MemoryJobStore) Get(jobId string) (*Job, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	existing, haveJob := s.jobs[jobId]
	if !haveJob {
		return nil, nil
	}
	rtn := existing.Clone()
	return &rtn, nil
}

func (s *MemoryJobStore) Put(job *Job) error {
	var stored Job
	if err := copier.Copy(&stored, job); err != nil {
		return err
	}
	stored = stored.Clone()

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.jobs[job.Id] = &stored
	return nil
}

/**
append a line to a job we may not have seen yet. An unknown job gets a stub record with just the id,
the next snapshot fills in the rest.
*/
func (s *MemoryJobStore) AppendLog(jobId string, line JobLog) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	existing, haveJob := s.jobs[jobId]
	if !haveJob {
		existing = &Job{Id: jobId}
		s.jobs[jobId] = existing
	}
	existing.AppendLog(line)
	return nil
}

func (s *MemoryJobStore) Remove(jobId string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.jobs, jobId)
	return nil
}

package models

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v7"
	"github.com/jinzhu/copier"
	log "github.com/sirupsen/logrus"
)

/**
flat form of a job that goes into a redis hash, logs live in a separate list so that pushed
lines can be appended without rewriting the record
*/
type jobHeader struct {
	Id        string
	Name      string
	Status    JobStatus
	CreatedAt int64
	UpdatedAt int64
	//empty when the job is not tied to a container; kept off the Job field name so copier leaves it alone
	Container string
}

func (h jobHeader) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"id":           h.Id,
		"name":         h.Name,
		"status":       string(h.Status),
		"created_at":   strconv.FormatInt(h.CreatedAt, 10),
		"updated_at":   strconv.FormatInt(h.UpdatedAt, 10),
		"container_id": h.Container,
	}
}

func jobHeaderFromMap(from map[string]string) jobHeader {
	createdAt, _ := strconv.ParseInt(from["created_at"], 10, 64)
	updatedAt, _ := strconv.ParseInt(from["updated_at"], 10, 64)
	return jobHeader{
		Id:        from["id"],
		Name:      from["name"],
		Status:    JobStatus(from["status"]),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Container: from["container_id"],
	}
}

type RedisJobStore struct {
	redisClient redis.Cmdable
	keyPrefix   string
}

func NewRedisJobStore(redisClient redis.Cmdable) *RedisJobStore {
	return &RedisJobStore{redisClient: redisClient, keyPrefix: "jobwatch"}
}

func (s *RedisJobStore) keyForJobId(id string) string {
	return fmt.Sprintf("%s:job:%s", s.keyPrefix, id)
}

func (s *RedisJobStore) keyForJobLog(id string) string {
	return fmt.Sprintf("%s:joblog:%s", s.keyPrefix, id)
}

/**
Retrieve the job for a given id from the datastore. Returns nil, nil if the job does not exist
*/
func (s *RedisJobStore) Get(jobId string) (*Job, error) {
	content, getErr := s.redisClient.HGetAll(s.keyForJobId(jobId)).Result()
	if getErr != nil {
		log.Errorf("Could not get job for id %s: %s", jobId, getErr)
		return nil, getErr
	}

	rawLogs, logErr := s.redisClient.LRange(s.keyForJobLog(jobId), 0, -1).Result()
	if logErr != nil {
		log.Errorf("Could not get logs for job %s: %s", jobId, logErr)
		return nil, logErr
	}

	if len(content) == 0 && len(rawLogs) == 0 {
		return nil, nil
	}

	header := jobHeaderFromMap(content)
	var job Job
	if copyErr := copier.Copy(&job, &header); copyErr != nil {
		return nil, copyErr
	}
	job.Id = jobId
	if header.Container != "" {
		containerId := header.Container
		job.ContainerId = &containerId
	}

	job.Logs = make([]JobLog, 0, len(rawLogs))
	for _, raw := range rawLogs {
		var line JobLog
		if unmarshalErr := json.Unmarshal([]byte(raw), &line); unmarshalErr != nil {
			log.Errorf("ERROR: Bad log data for job %s: %s. Offending data was %s.", jobId, unmarshalErr, raw)
			return nil, unmarshalErr
		}
		job.Logs = append(job.Logs, line)
	}
	return &job, nil
}

/**
Save the given job to the datastore, replacing any previous log list. Returns nil if successful, or an error
*/
func (s *RedisJobStore) Put(job *Job) error {
	var header jobHeader
	if copyErr := copier.Copy(&header, job); copyErr != nil {
		return copyErr
	}
	if job.ContainerId != nil {
		header.Container = *job.ContainerId
	}

	encodedLogs := make([]interface{}, len(job.Logs))
	for i, line := range job.Logs {
		encoded, marshalErr := json.Marshal(line)
		if marshalErr != nil {
			return marshalErr
		}
		encodedLogs[i] = string(encoded)
	}

	jobKey := s.keyForJobId(job.Id)
	logKey := s.keyForJobLog(job.Id)

	pipe := s.redisClient.TxPipeline()
	for k, v := range header.ToMap() {
		pipe.HSet(jobKey, k, v)
	}
	pipe.Del(logKey)
	if len(encodedLogs) > 0 {
		pipe.RPush(logKey, encodedLogs...)
	}
	_, putErr := pipe.Exec()
	if putErr != nil {
		log.Errorf("Could not save job %s to datastore: %s", job.Id, putErr)
		return putErr
	}
	return nil
}

/**
append one pushed log line. Lines already present (same id) are skipped, so a replayed push does not duplicate.
*/
func (s *RedisJobStore) AppendLog(jobId string, line JobLog) error {
	existing, getErr := s.Get(jobId)
	if getErr != nil {
		return getErr
	}
	if existing != nil && existing.hasLog(line) {
		return nil
	}

	encoded, marshalErr := json.Marshal(line)
	if marshalErr != nil {
		return marshalErr
	}
	_, pushErr := s.redisClient.RPush(s.keyForJobLog(jobId), string(encoded)).Result()
	if pushErr != nil {
		log.Errorf("Could not append log for job %s: %s", jobId, pushErr)
	}
	return pushErr
}

/**
removes the job and its logs from the datastore
*/
func (s *RedisJobStore) Remove(jobId string) error {
	_, err := s.redisClient.Del(s.keyForJobId(jobId), s.keyForJobLog(jobId)).Result()
	return err
}

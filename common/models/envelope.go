package models

import (
	"errors"
	"fmt"
)

type EnvelopeType string

const (
	ENVELOPE_SUBSCRIBE      EnvelopeType = "subscribe"
	ENVELOPE_UNSUBSCRIBE    EnvelopeType = "unsubscribe"
	ENVELOPE_JOB_LOG_UPDATE EnvelopeType = "job_log_update"
)

/**
the unit exchanged over the push channel, {"type": ..., "data": ...}.
Data is left as whatever encoding/json produced and is decoded on demand by the accessor for the tag.
*/
type Envelope struct {
	Type EnvelopeType `json:"type"`
	Data interface{}  `json:"data"`
}

type JobLogUpdate struct {
	JobId string `json:"jobId"`
	Log   JobLog `json:"log"`
}

var ErrWrongEnvelopeType = errors.New("envelope has a different type")

func NewSubscribeEnvelope(topic string) Envelope {
	return Envelope{Type: ENVELOPE_SUBSCRIBE, Data: topic}
}

func NewUnsubscribeEnvelope(topic string) Envelope {
	return Envelope{Type: ENVELOPE_UNSUBSCRIBE, Data: topic}
}

func NewJobLogUpdateEnvelope(jobId string, line JobLog) Envelope {
	return Envelope{Type: ENVELOPE_JOB_LOG_UPDATE, Data: JobLogUpdate{JobId: jobId, Log: line}}
}

/**
returns the topic carried by a subscribe/unsubscribe envelope
*/
func (e Envelope) Topic() (string, error) {
	if e.Type != ENVELOPE_SUBSCRIBE && e.Type != ENVELOPE_UNSUBSCRIBE {
		return "", ErrWrongEnvelopeType
	}
	topic, isStr := e.Data.(string)
	if !isStr {
		return "", fmt.Errorf("%s envelope data is %T, not a topic string", e.Type, e.Data)
	}
	return topic, nil
}

/**
decodes the payload of a job_log_update envelope.
The backend emits `job_id` where the dashboard protocol says `jobId`; both are accepted.
*/
func (e Envelope) JobLogUpdate() (*JobLogUpdate, error) {
	if e.Type != ENVELOPE_JOB_LOG_UPDATE {
		return nil, ErrWrongEnvelopeType
	}

	switch data := e.Data.(type) {
	case JobLogUpdate:
		return &data, nil
	case *JobLogUpdate:
		return data, nil
	case map[string]interface{}:
		var update JobLogUpdate
		decErr := CustomisedMapStructureDecode(data, &update)
		if decErr != nil {
			return nil, decErr
		}
		if update.JobId == "" {
			if alt, haveAlt := data["job_id"]; haveAlt && alt != nil {
				var fallback struct {
					JobId string `json:"job_id"`
				}
				if altErr := CustomisedMapStructureDecode(map[string]interface{}{"job_id": alt}, &fallback); altErr != nil {
					return nil, altErr
				}
				update.JobId = fallback.JobId
			}
		}
		if update.JobId == "" {
			return nil, errors.New("job_log_update has no job id")
		}
		return &update, nil
	default:
		return nil, fmt.Errorf("job_log_update data is %T, expected an object", e.Data)
	}
}

package models

import (
	"encoding/json"
	"testing"
)

func TestEnvelope_JobLogUpdate(t *testing.T) {
	var env Envelope
	err := json.Unmarshal([]byte(`{"type":"job_log_update","data":{"jobId":"12","log":{"id":3,"line":"[INFO] pulling image","created_at":1700000000}}}`), &env)
	if err != nil {
		t.Fatal("could not unmarshal envelope: ", err)
	}

	update, decErr := env.JobLogUpdate()
	if decErr != nil {
		t.Fatal("JobLogUpdate failed unexpectedly: ", decErr)
	}
	if update.JobId != "12" {
		t.Errorf("got job id '%s', expected '12'", update.JobId)
	}
	if update.Log.Line != "[INFO] pulling image" || update.Log.Id != 3 {
		t.Errorf("log line decoded incorrectly: %v", update.Log)
	}
}

/**
the backend writes job_id with a numeric value
*/
func TestEnvelope_JobLogUpdateBackendShape(t *testing.T) {
	var env Envelope
	err := json.Unmarshal([]byte(`{"type":"job_log_update","data":{"job_id":77,"log":{"id":1,"line":"hello"}}}`), &env)
	if err != nil {
		t.Fatal("could not unmarshal envelope: ", err)
	}

	update, decErr := env.JobLogUpdate()
	if decErr != nil {
		t.Fatal("JobLogUpdate failed unexpectedly: ", decErr)
	}
	if update.JobId != "77" {
		t.Errorf("got job id '%s', expected '77'", update.JobId)
	}
}

func TestEnvelope_WrongType(t *testing.T) {
	env := NewSubscribeEnvelope("job:1")
	_, err := env.JobLogUpdate()
	if err != ErrWrongEnvelopeType {
		t.Errorf("expected ErrWrongEnvelopeType, got %v", err)
	}

	topic, topicErr := env.Topic()
	if topicErr != nil || topic != "job:1" {
		t.Errorf("expected topic job:1, got '%s' (%v)", topic, topicErr)
	}
}

func TestEnvelope_SubscribeWireFormat(t *testing.T) {
	content, err := json.Marshal(NewUnsubscribeEnvelope("job:4"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != `{"type":"unsubscribe","data":"job:4"}` {
		t.Errorf("unexpected wire format: %s", string(content))
	}
}

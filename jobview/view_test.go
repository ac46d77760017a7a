package jobview

import (
	"testing"

	"github.com/alicebob/miniredis"
	"github.com/axolotl-cloud/jobwatch/common/models"
	"github.com/axolotl-cloud/jobwatch/router"
	"github.com/go-redis/redis/v7"
)

type nullSender struct {
	sent []models.Envelope
}

func (s *nullSender) Send(env models.Envelope) error {
	s.sent = append(s.sent, env)
	return nil
}

func TestTopicForJob(t *testing.T) {
	if TopicForJob("42") != "job:42" {
		t.Errorf("unexpected topic %s", TopicForJob("42"))
	}
}

func TestView_WatchSubscribes(t *testing.T) {
	sender := &nullSender{}
	r := router.New(sender)
	v := New(models.NewMemoryJobStore(), r)

	v.Watch("42")
	if !v.Watching("42") {
		t.Error("expected job 42 to be watched")
	}
	topics := r.Topics()
	if len(topics) != 1 || topics[0] != "job:42" {
		t.Errorf("expected router to hold job:42, got %v", topics)
	}

	v.Unwatch("42")
	v.Unwatch("42")
	if len(r.Topics()) != 0 {
		t.Errorf("expected no topics after unwatch, got %v", r.Topics())
	}
	if len(sender.sent) != 2 {
		t.Errorf("expected one subscribe and one unsubscribe, got %d envelopes", len(sender.sent))
	}
}

func TestView_PushedLinesOnlyForWatchedJobs(t *testing.T) {
	r := router.New(&nullSender{})
	v := New(models.NewMemoryJobStore(), r)
	v.Watch("42")

	r.Dispatch(models.NewJobLogUpdateEnvelope("42", models.JobLog{Id: 1, Line: "pulling image"}))
	r.Dispatch(models.NewJobLogUpdateEnvelope("99", models.JobLog{Id: 1, Line: "someone else's job"}))

	job, _ := v.Get("42")
	if job == nil || len(job.Logs) != 1 || job.Logs[0].Line != "pulling image" {
		t.Errorf("expected one log line on job 42, got %v", job)
	}
	other, _ := v.Get("99")
	if other != nil {
		t.Errorf("unwatched job should not be recorded, got %v", other)
	}
}

func TestView_SnapshotAndPushMerge(t *testing.T) {
	r := router.New(&nullSender{})
	v := New(models.NewMemoryJobStore(), r)
	v.Watch("7")

	//a pushed line arrives before the first snapshot
	r.Dispatch(models.NewJobLogUpdateEnvelope("7", models.JobLog{Id: 3, Line: "step three"}))

	v.ApplySnapshot(&models.Job{
		Id:     "7",
		Name:   "start container",
		Status: models.JOB_RUNNING,
		Logs:   []models.JobLog{{Id: 1, Line: "step one"}, {Id: 2, Line: "step two"}},
	})

	job, _ := v.Get("7")
	if job.Name != "start container" || job.Status != models.JOB_RUNNING {
		t.Errorf("snapshot fields not applied: %v", job)
	}
	if len(job.Logs) != 3 {
		t.Fatalf("expected 3 log lines, got %d", len(job.Logs))
	}
	for i, expected := range []string{"step one", "step two", "step three"} {
		if job.Logs[i].Line != expected {
			t.Errorf("line %d: expected %s, got %s", i, expected, job.Logs[i].Line)
		}
	}

	//a duplicate push of a line the snapshot already had is ignored
	r.Dispatch(models.NewJobLogUpdateEnvelope("7", models.JobLog{Id: 2, Line: "step two"}))
	job, _ = v.Get("7")
	if len(job.Logs) != 3 {
		t.Errorf("duplicate line should not be appended, have %d lines", len(job.Logs))
	}
}

func TestView_TerminalSnapshotUnwatches(t *testing.T) {
	r := router.New(&nullSender{})
	v := New(models.NewMemoryJobStore(), r)
	v.Watch("8")

	var updates []models.JobStatus
	v.OnUpdate(func(job models.Job) {
		updates = append(updates, job.Status)
	})

	v.ApplySnapshot(&models.Job{Id: "8", Status: models.JOB_RUNNING})
	v.ApplySnapshot(&models.Job{Id: "8", Status: models.JOB_COMPLETED})

	if v.Watching("8") {
		t.Error("terminal job should no longer be watched")
	}
	if len(r.Topics()) != 0 {
		t.Errorf("expected job:8 to be unsubscribed, topics are %v", r.Topics())
	}

	//a late snapshot cannot undo the terminal state
	v.ApplySnapshot(&models.Job{Id: "8", Status: models.JOB_RUNNING})
	job, _ := v.Get("8")
	if job.Status != models.JOB_COMPLETED {
		t.Errorf("expected completed to stick, got %s", job.Status)
	}
	if len(updates) != 3 || updates[1] != models.JOB_COMPLETED {
		t.Errorf("unexpected update sequence %v", updates)
	}
}

func TestView_CloseReleasesEverything(t *testing.T) {
	r := router.New(&nullSender{})
	v := New(models.NewMemoryJobStore(), r)
	v.Watch("1")
	v.Watch("2")

	v.Close()
	if r.HandlerCount(models.ENVELOPE_JOB_LOG_UPDATE) != 0 {
		t.Error("view handler should be removed on close")
	}
	if len(r.Topics()) != 0 {
		t.Errorf("expected no topics after close, got %v", r.Topics())
	}
}

func TestView_RedisBackedStore(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})

	r := router.New(&nullSender{})
	v := New(models.NewRedisJobStore(client), r)
	v.Watch("5")

	v.ApplySnapshot(&models.Job{Id: "5", Name: "stop container", Status: models.JOB_PENDING})
	r.Dispatch(models.NewJobLogUpdateEnvelope("5", models.JobLog{Id: 1, Line: "stopping"}))

	job, getErr := v.Get("5")
	if getErr != nil {
		t.Fatal(getErr)
	}
	if job.Name != "stop container" || len(job.Logs) != 1 || job.Logs[0].Line != "stopping" {
		t.Errorf("unexpected job from redis store: %v", job)
	}
}

package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/axolotl-cloud/jobwatch/common/helpers"
	"github.com/axolotl-cloud/jobwatch/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_StartContainerProjectScoped(t *testing.T) {
	var gotPath, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		helpers.WriteJsonContent(map[string]interface{}{"job_id": 17}, w, 200)
	}))
	defer server.Close()

	client := NewClient(server.URL+"/api", time.Second)
	jobId, err := client.StartContainer(context.Background(), ContainerRef{ProjectId: "3", ContainerId: "c1"})

	require.NoError(t, err)
	assert.Equal(t, "17", jobId)
	assert.Equal(t, "/api/projects/3/containers/c1/start", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
}

func TestClient_StopContainerBareRoute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/containers/c2/stop", r.URL.Path)
		helpers.WriteJsonContent(map[string]string{"job_id": "J2"}, w, 200)
	}))
	defer server.Close()

	jobId, err := NewClient(server.URL, time.Second).StopContainer(context.Background(), ContainerRef{ContainerId: "c2"})
	require.NoError(t, err)
	assert.Equal(t, "J2", jobId)
}

func TestClient_ActionWithoutJobId(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		helpers.WriteJsonContent(map[string]string{}, w, 200)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, time.Second).StartContainer(context.Background(), ContainerRef{ContainerId: "c1"})
	assert.Error(t, err)
}

func TestClient_HTTPErrorDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		helpers.WriteJsonContent(helpers.GenericErrorResponse{Error: "Job not found"}, w, 404)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, time.Second).GetJob(context.Background(), "99")
	require.Error(t, err)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, 404, httpErr.StatusCode)
	assert.Equal(t, "Job not found", httpErr.Detail)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestClient_ContainerStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/containers/c1/status", r.URL.Path)
		helpers.WriteJsonContent(map[string]string{"status": "exited"}, w, 200)
	}))
	defer server.Close()

	status, err := NewClient(server.URL, time.Second).ContainerStatus(context.Background(), ContainerRef{ContainerId: "c1"})
	require.NoError(t, err)
	assert.Equal(t, models.CONTAINER_EXITED, status)
}

func TestClient_ContainerStatusUnrecognised(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		helpers.WriteJsonContent(map[string]string{"status": "loading"}, w, 200)
	}))
	defer server.Close()

	status, err := NewClient(server.URL, time.Second).ContainerStatus(context.Background(), ContainerRef{ContainerId: "c1"})
	assert.Error(t, err)
	assert.Equal(t, models.CONTAINER_UNKNOWN, status)
}

func TestClient_GetJobAndList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/jobs/5":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":5,"name":"Start web","status":"completed","created_at":1700000000,"logs":[{"id":1,"line":"done"}]}`))
		case "/jobs":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"id":5,"name":"Start web","status":"completed"},{"id":6,"name":"Stop web","status":"pending"}]`))
		default:
			w.WriteHeader(404)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	job, err := client.GetJob(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, "5", job.Id)
	assert.Equal(t, models.JOB_COMPLETED, job.Status)
	assert.Len(t, job.Logs, 1)

	jobs, listErr := client.ListJobs(context.Background())
	require.NoError(t, listErr)
	require.Len(t, jobs, 2)
	assert.Equal(t, "6", jobs[1].Id)
}

func TestClient_ContainerLogs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100", r.URL.Query().Get("tail"))
		helpers.WriteJsonContent("line one\nline two", w, 200)
	}))
	defer server.Close()

	content, err := NewClient(server.URL, time.Second).ContainerLogs(context.Background(), ContainerRef{ProjectId: "p", ContainerId: "c"}, 100)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", content)
}

func TestClient_DeleteJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(204)
	}))
	defer server.Close()

	assert.NoError(t, NewClient(server.URL, time.Second).DeleteJob(context.Background(), "5"))
}

/**
after the threshold of server errors the breaker opens and calls fail without reaching the server
*/
func TestClient_BreakerOpens(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(503)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, WithBreaker(2, time.Minute))
	for i := 0; i < 4; i++ {
		_, err := client.ContainerStatus(context.Background(), ContainerRef{ContainerId: "c1"})
		assert.Error(t, err)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

/**
404s are the caller's problem, not a sign the backend is down
*/
func TestClient_BreakerIgnoresClientErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(404)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, WithBreaker(2, time.Minute))
	for i := 0; i < 4; i++ {
		_, _ = client.GetJob(context.Background(), "x")
	}
	assert.Equal(t, int32(4), atomic.LoadInt32(&hits))
}

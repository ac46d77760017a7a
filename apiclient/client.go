/*
Package apiclient talks to the dashboard REST backend: container lifecycle actions, container status
and the job resource.
*/
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/axolotl-cloud/jobwatch/common/helpers"
	"github.com/axolotl-cloud/jobwatch/common/models"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

var ErrNotFound = errors.New("resource not found")

/**
returned for any non-2xx response. Detail is the backend's {"error": ...} text if it sent one.
*/
type HTTPError struct {
	Method     string
	Url        string
	StatusCode int
	Detail     string
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.Url, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s %s returned %d", e.Method, e.Url, e.StatusCode)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

/**
identifies a container. The backend nests containers under projects; with an empty ProjectId the
bare /containers/{id} routes are used.
*/
type ContainerRef struct {
	ProjectId   string
	ContainerId string
}

func (r ContainerRef) String() string {
	if r.ProjectId == "" {
		return r.ContainerId
	}
	return r.ProjectId + "/" + r.ContainerId
}

func (r ContainerRef) path(suffix string) string {
	p := "/containers/" + url.PathEscape(r.ContainerId)
	if r.ProjectId != "" {
		p = "/projects/" + url.PathEscape(r.ProjectId) + p
	}
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

type Client struct {
	base       string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

type Option func(c *Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

/**
short-circuit calls after `threshold` consecutive transport or 5xx failures, until `cooldown` has passed
*/
func WithBreaker(threshold uint32, cooldown time.Duration) Option {
	return func(c *Client) {
		if threshold == 0 {
			c.breaker = nil
			return
		}
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "jobwatch-api",
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				var httpErr *HTTPError
				if errors.As(err, &httpErr) {
					return httpErr.StatusCode < 500
				}
				return err == nil
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				log.Warnf("WARNING: circuit breaker %s moved from %s to %s", name, from, to)
			},
		})
	}
}

func NewClient(base string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		base:       strings.TrimSuffix(base, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method string, path string, body interface{}, out interface{}) error {
	if c.breaker == nil {
		return c.doRequest(ctx, method, path, body, out)
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.doRequest(ctx, method, path, body, out)
	})
	return err
}

func (c *Client) doRequest(ctx context.Context, method string, path string, body interface{}, out interface{}) error {
	fullUrl := c.base + path

	var bodyReader io.Reader
	if body != nil {
		byteData, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			log.Errorf("Could not marshal data for %s %s: %s", method, fullUrl, marshalErr)
			return marshalErr
		}
		bodyReader = bytes.NewReader(byteData)
	}

	req, reqErr := http.NewRequestWithContext(ctx, method, fullUrl, bodyReader)
	if reqErr != nil {
		return reqErr
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(req)
	if err != nil {
		log.Debugf("%s %s failed: %s", method, fullUrl, err)
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		responseContent, _ := ioutil.ReadAll(response.Body)
		var errResponse helpers.GenericErrorResponse
		detail := strings.TrimSpace(string(responseContent))
		if json.Unmarshal(responseContent, &errResponse) == nil && errResponse.Error != "" {
			detail = errResponse.Error
		}
		return &HTTPError{
			Method:     method,
			Url:        fullUrl,
			StatusCode: response.StatusCode,
			Detail:     detail,
		}
	}

	if out == nil {
		return nil
	}
	if rawOut, isRaw := out.(*[]byte); isRaw {
		content, readErr := ioutil.ReadAll(response.Body)
		if readErr != nil {
			return readErr
		}
		*rawOut = content
		return nil
	}
	return helpers.ReadJsonBody(response.Body, out)
}

func (c *Client) containerAction(ctx context.Context, ref ContainerRef, action string) (string, error) {
	var rawResponse map[string]interface{}
	err := c.do(ctx, http.MethodPost, ref.path(action), nil, &rawResponse)
	if err != nil {
		return "", err
	}

	var accepted models.JobAccepted
	decErr := models.CustomisedMapStructureDecode(rawResponse, &accepted)
	if decErr != nil {
		return "", decErr
	}
	if accepted.JobId == "" {
		return "", fmt.Errorf("%s of container %s was accepted without a job id", action, ref)
	}
	return accepted.JobId, nil
}

/**
ask the backend to start the container, returns the id of the job that does it
*/
func (c *Client) StartContainer(ctx context.Context, ref ContainerRef) (string, error) {
	return c.containerAction(ctx, ref, "start")
}

/**
ask the backend to stop the container, returns the id of the job that does it
*/
func (c *Client) StopContainer(ctx context.Context, ref ContainerRef) (string, error) {
	return c.containerAction(ctx, ref, "stop")
}

func (c *Client) ContainerStatus(ctx context.Context, ref ContainerRef) (models.ContainerStatus, error) {
	var response models.ContainerStatusResponse
	err := c.do(ctx, http.MethodGet, ref.path("status"), nil, &response)
	if err != nil {
		return models.CONTAINER_UNKNOWN, err
	}
	if !response.Status.IsRuntimeValue() {
		return models.CONTAINER_UNKNOWN, fmt.Errorf("backend reported unrecognised status '%s' for %s", response.Status, ref)
	}
	return response.Status, nil
}

/**
the last `tail` lines of the container's own output
*/
func (c *Client) ContainerLogs(ctx context.Context, ref ContainerRef, tail int) (string, error) {
	var content []byte
	err := c.do(ctx, http.MethodGet, ref.path("logs")+"?tail="+strconv.Itoa(tail), nil, &content)
	if err != nil {
		return "", err
	}
	var asString string
	if json.Unmarshal(content, &asString) == nil {
		return asString, nil
	}
	return string(content), nil
}

func (c *Client) GetJob(ctx context.Context, jobId string) (*models.Job, error) {
	var job models.Job
	err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobId), nil, &job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) ListJobs(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	err := c.do(ctx, http.MethodGet, "/jobs", nil, &jobs)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (c *Client) DeleteJob(ctx context.Context, jobId string) error {
	return c.do(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(jobId), nil, nil)
}

package backend

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/axolotl-cloud/jobwatch/apiclient"
	"github.com/axolotl-cloud/jobwatch/common/helpers"
	"github.com/axolotl-cloud/jobwatch/common/models"
	log "github.com/sirupsen/logrus"
)

type Endpoints struct {
	Action ActionHandler
	Status StatusHandler
	Logs   LogsHandler
	GetJob GetJobHandler
	List   ListJobsHandler
	Delete DeleteJobHandler
	Push   *Hub
}

func NewEndpoints(b *Backend, hub *Hub) Endpoints {
	return Endpoints{
		Action: ActionHandler{b},
		Status: StatusHandler{b},
		Logs:   LogsHandler{b},
		GetJob: GetJobHandler{b},
		List:   ListJobsHandler{b},
		Delete: DeleteJobHandler{b},
		Push:   hub,
	}
}

/**
register the REST routes under apiBase (e.g. /api) and the push channel at pushPath (e.g. /ws).
Containers are reachable both project-scoped and bare.
*/
func (e Endpoints) WireUp(mux *http.ServeMux, apiBase string, pushPath string) {
	for _, prefix := range []string{apiBase + "/projects/{pid}/containers/{cid}", apiBase + "/containers/{cid}"} {
		mux.Handle("POST "+prefix+"/{action}", e.Action)
		mux.Handle("GET "+prefix+"/status", e.Status)
		mux.Handle("GET "+prefix+"/logs", e.Logs)
	}
	mux.Handle("GET "+apiBase+"/jobs", e.List)
	mux.Handle("GET "+apiBase+"/jobs/{id}", e.GetJob)
	mux.Handle("DELETE "+apiBase+"/jobs/{id}", e.Delete)
	mux.Handle("GET "+pushPath, e.Push)
}

func refFromRequest(r *http.Request) apiclient.ContainerRef {
	return apiclient.ContainerRef{ProjectId: r.PathValue("pid"), ContainerId: r.PathValue("cid")}
}

func writeError(w http.ResponseWriter, statusCode int, detail string) {
	helpers.WriteJsonContent(helpers.GenericErrorResponse{Error: detail}, w, statusCode)
}

type ActionHandler struct {
	backend *Backend
}

func (h ActionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ref := refFromRequest(r)

	var jobId string
	var err error
	switch r.PathValue("action") {
	case "start":
		jobId, err = h.backend.StartContainer(ref)
	case "stop":
		jobId, err = h.backend.StopContainer(ref)
	default:
		writeError(w, http.StatusNotFound, "Unknown action")
		return
	}

	if err != nil {
		if errors.Is(err, ErrUnknownContainer) {
			writeError(w, http.StatusNotFound, "Container not found")
			return
		}
		log.Errorf("Could not queue %s for %s: %s", r.PathValue("action"), ref, err)
		writeError(w, http.StatusInternalServerError, "Failed to add job")
		return
	}

	numericId, _ := strconv.ParseInt(jobId, 10, 64)
	helpers.WriteJsonContent(map[string]interface{}{"job_id": numericId}, w, http.StatusCreated)
}

type StatusHandler struct {
	backend *Backend
}

func (h StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status, err := h.backend.ContainerStatus(refFromRequest(r))
	if err != nil {
		writeError(w, http.StatusNotFound, "Container not found")
		return
	}
	helpers.WriteJsonContent(models.ContainerStatusResponse{Status: status}, w, http.StatusOK)
}

type LogsHandler struct {
	backend *Backend
}

func (h LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tail := 100
	if tailParam := r.URL.Query().Get("tail"); tailParam != "" {
		parsed, parseErr := strconv.Atoi(tailParam)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "Invalid tail value")
			return
		}
		tail = parsed
	}

	logs, err := h.backend.ContainerLogs(refFromRequest(r), tail)
	if err != nil {
		writeError(w, http.StatusNotFound, "Container not found")
		return
	}
	helpers.WriteJsonContent(logs, w, http.StatusOK)
}

type GetJobHandler struct {
	backend *Backend
}

func (h GetJobHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	job, err := h.backend.Job(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrUnknownJob) {
			writeError(w, http.StatusNotFound, "Job not found")
		} else {
			writeError(w, http.StatusInternalServerError, "Failed to retrieve job")
		}
		return
	}
	helpers.WriteJsonContent(job, w, http.StatusOK)
}

type ListJobsHandler struct {
	backend *Backend
}

func (h ListJobsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.backend.Jobs()
	if err != nil {
		log.Errorf("Could not list jobs: %s", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve jobs")
		return
	}
	helpers.WriteJsonContent(jobs, w, http.StatusOK)
}

type DeleteJobHandler struct {
	backend *Backend
}

func (h DeleteJobHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := h.backend.DeleteJob(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrUnknownJob) {
			writeError(w, http.StatusNotFound, "Job not found")
		} else {
			writeError(w, http.StatusInternalServerError, "Failed to delete job")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

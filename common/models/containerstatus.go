package models

type ContainerStatus string

const (
	CONTAINER_CREATED    ContainerStatus = "created"
	CONTAINER_RUNNING    ContainerStatus = "running"
	CONTAINER_PAUSED     ContainerStatus = "paused"
	CONTAINER_RESTARTING ContainerStatus = "restarting"
	CONTAINER_REMOVING   ContainerStatus = "removing"
	CONTAINER_EXITED     ContainerStatus = "exited"
	CONTAINER_DEAD       ContainerStatus = "dead"

	//client-only values, never sent by the backend
	CONTAINER_LOADING ContainerStatus = "loading"
	CONTAINER_UNKNOWN ContainerStatus = "unknown"
)

/**
true for the values the container runtime itself can report
*/
func (s ContainerStatus) IsRuntimeValue() bool {
	switch s {
	case CONTAINER_CREATED, CONTAINER_RUNNING, CONTAINER_PAUSED, CONTAINER_RESTARTING,
		CONTAINER_REMOVING, CONTAINER_EXITED, CONTAINER_DEAD:
		return true
	default:
		return false
	}
}

/**
human readable label for a status badge, "Unknown" before the first fetch
*/
func (s ContainerStatus) Label() string {
	if s == "" || s == CONTAINER_UNKNOWN {
		return "Unknown"
	}
	return string(s)
}

type ContainerStatusResponse struct {
	Status ContainerStatus `json:"status"`
}

type JobAccepted struct {
	JobId string `json:"job_id"`
}

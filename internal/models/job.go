package models

// JobStatus enumerates the lifecycle states of a replay job.
type JobStatus string

const (
	StatusNotStarted JobStatus = "not_started"
	StatusStarting   JobStatus = "starting"
	StatusConnected  JobStatus = "connected"
	StatusDone       JobStatus = "done"
	StatusErrored    JobStatus = "errored"
)

// Terminal reports whether no further transition can leave s.
func (s JobStatus) Terminal() bool {
	return s == StatusDone || s == StatusErrored
}

// State is a point-in-time view of a replay job as served to pollers.
type State struct {
	Status        JobStatus `json:"status"`
	MessagesAcked []int     `json:"messagesAcked"`
	Error         string    `json:"error,omitempty"`
}

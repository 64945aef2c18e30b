package models

import "time"

// PipelineLog represents a stage transition of one acquisition request
type PipelineLog struct {
	RequestID string    `json:"request_id"`
	Stage     string    `json:"stage"`
	BVID      string    `json:"bvid,omitempty"`
	Title     string    `json:"title,omitempty"`
	Selection string    `json:"selection,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Links     int       `json:"links,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats represents the counters shown on the web panel
type Stats struct {
	Requests  int `json:"requests"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

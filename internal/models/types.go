package models

import "time"

// JobStatus represents where a download job is in its lifecycle
type JobStatus string

const (
	JobStatusStarting    JobStatus = "starting"
	JobStatusQueued      JobStatus = "queued"
	JobStatusDownloading JobStatus = "downloading"
	JobStatusMoving      JobStatus = "moving"    // Relocating to the completed directory
	JobStatusCompleted   JobStatus = "completed" // Terminal
	JobStatusError       JobStatus = "error"     // Terminal
)

// IsTerminal reports whether no further byte accounting happens for the job
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// Location tags the directory a job's file currently lives in
type Location string

const (
	LocationWorking   Location = "working"
	LocationCompleted Location = "completed"
)

// Valid reports whether l names a known directory
func (l Location) Valid() bool {
	return l == LocationWorking || l == LocationCompleted
}

// Job is one tracked file transfer from submission to terminal status
type Job struct {
	ID     string    `json:"id" boltholdKey:"ID"`
	Status JobStatus `json:"status"`

	// Byte accounting
	Progress   float64 `json:"progress"`   // 0-100, only meaningful while Total > 0
	Downloaded int64   `json:"downloaded"` // bytes written so far
	Total      int64   `json:"total"`      // 0 means unknown
	Speed      float64 `json:"speed"`      // bytes/sec since start

	Filename  string   `json:"filename"`
	SourceURL string   `json:"source_url"`
	Location  Location `json:"location"`

	Error   string `json:"error,omitempty"`
	Note    string `json:"note,omitempty"` // Non-fatal annotation, e.g. a failed move
	BatchID string `json:"batch_id,omitempty" boltholdIndex:"BatchID"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// QueueEntry is what the admission queue needs to launch a download
type QueueEntry struct {
	JobID     string `json:"job_id"`
	SourceURL string `json:"source_url"`
	Filename  string `json:"filename"`
}

// QueueStats is a point-in-time view of admission capacity
type QueueStats struct {
	Active   int `json:"active"`
	Capacity int `json:"capacity"`
	Pending  int `json:"pending"`
	Free     int `json:"free"`
}

// BatchStatus represents the fan-out state of a batch submission
type BatchStatus string

const (
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
)

// Batch groups the jobs submitted together, e.g. all episodes of a season
type Batch struct {
	ID        string      `json:"id"`
	ShowTitle string      `json:"show_title"`
	Processed int         `json:"processed"`
	Total     int         `json:"total"`
	Succeeded int         `json:"succeeded"`
	Status    BatchStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// Snapshot is the durable copy of in-memory state used to survive restarts
type Snapshot struct {
	Jobs          map[string]Job `json:"jobs"`
	Pending       []QueueEntry   `json:"pending"`
	Active        []QueueEntry   `json:"active"`
	SearchHistory []string       `json:"search_history"`
	SavedAt       time.Time      `json:"saved_at"`
}

// IsEmpty reports whether there is nothing worth persisting
func (s *Snapshot) IsEmpty() bool {
	return len(s.Jobs) == 0 && len(s.Pending) == 0 && len(s.Active) == 0 && len(s.SearchHistory) == 0
}

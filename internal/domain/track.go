package domain

import "time"

// ReferenceKind classifies an inbound track reference.
type ReferenceKind int

const (
	// FreeText is a search phrase handed to the sources as-is.
	FreeText ReferenceKind = iota
	// Link is a recognized streaming-service URL that must be resolved first.
	Link
)

// String implements fmt.Stringer.
func (k ReferenceKind) String() string {
	if k == Link {
		return "link"
	}
	return "free_text"
}

// TrackReference is the raw request text, classified once on receipt.
type TrackReference struct {
	Raw  string
	Kind ReferenceKind
}

// UnknownSource is the artist recorded for free-text references.
const UnknownSource = "Unknown Source"

// ResolvedTrack is the canonical description of a track. Query is what the
// audio sources are searched for; Filename is filesystem-safe.
type ResolvedTrack struct {
	Query    string `json:"query"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Filename string `json:"filename"`
}

// DownloadResult is the outcome of one DownloadEngine fetch. LocalPath is set
// only when Success; Failure carries a DownloadFailure otherwise. WorkDir, when
// set, belongs to this result alone and is removed by whoever consumes it.
type DownloadResult struct {
	Success   bool
	LocalPath string
	WorkDir   string
	Failure   error
}

// StatusHandle identifies the status message a job reports progress into.
type StatusHandle struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// JobState is a stage of the per-job state machine.
type JobState string

const (
	JobQueued      JobState = "queued"
	JobResolving   JobState = "resolving"
	JobDownloading JobState = "downloading"
	JobDelivering  JobState = "delivering"
	JobDone        JobState = "done"
	JobFailed      JobState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool { return s == JobDone || s == JobFailed }

// Job is one admitted request. It is created at enqueue time and never reused.
// Prepaid marks jobs admitted through a settled payment.
type Job struct {
	ID          string
	RequesterID int64
	ChatID      int64
	Reference   TrackReference
	Status      StatusHandle
	Prepaid     bool
	EnqueuedAt  time.Time
}

package domain

import "time"

type UploadID string

type UploadState string

const (
	UploadPending   UploadState = "pending"
	UploadRunning   UploadState = "uploading"
	UploadSucceeded UploadState = "succeeded"
	UploadFailed    UploadState = "failed"
)

type UploadFile struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

type UploadTask struct {
	ID             UploadID    `json:"id"`
	Owner          UserID      `json:"owner"`
	File           UploadFile  `json:"file"`
	JobDescription string      `json:"job_description,omitempty"`
	State          UploadState `json:"state"`
	Progress       int         `json:"progress"`
	Error          string      `json:"error,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	FinishedAt     *time.Time  `json:"finished_at,omitempty"`
}

// UploadProgress is one discrete progress report from an uploader.
type UploadProgress struct {
	Percent int
	At      time.Time
}

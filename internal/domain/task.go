package domain

import "time"

// GenerationMode enumerates supported generation workflows.
type GenerationMode string

const (
	// ModeImage drives generation from a still portrait image (I2V).
	ModeImage GenerationMode = "image"
	// ModeVideo drives generation from an existing video clip (V2V).
	ModeVideo GenerationMode = "video"
)

// TaskStatus enumerates the caller-visible task lifecycle states.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "QUEUED"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
)

// TaskRequest is the external request contract shared by the immediate
// endpoint and the deferred queue. Each logical input (media, audio) must be
// supplied in exactly one of its three forms.
type TaskRequest struct {
	InputType    string `json:"input_type,omitempty"`
	ImagePath    string `json:"image_path,omitempty"`
	ImageURL     string `json:"image_url,omitempty"`
	ImageBase64  string `json:"image_base64,omitempty"`
	VideoPath    string `json:"video_path,omitempty"`
	VideoURL     string `json:"video_url,omitempty"`
	VideoBase64  string `json:"video_base64,omitempty"`
	AudioPath    string `json:"wav_path,omitempty"`
	AudioURL     string `json:"wav_url,omitempty"`
	AudioBase64  string `json:"wav_base64,omitempty"`
	Prompt       string `json:"prompt,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	MaxFrames    *int   `json:"max_frame,omitempty"`
	ForceOffload *bool  `json:"force_offload,omitempty"`
}

// Mode returns the requested generation mode, defaulting to image-driven.
func (t *TaskRequest) Mode() GenerationMode {
	if t.InputType == string(ModeVideo) {
		return ModeVideo
	}
	return ModeImage
}

// MediaRef assembles the primary media input reference for the active mode.
func (t *TaskRequest) MediaRef() InputRef {
	if t.Mode() == ModeVideo {
		return InputRef{Path: t.VideoPath, URL: t.VideoURL, Base64: t.VideoBase64}
	}
	return InputRef{Path: t.ImagePath, URL: t.ImageURL, Base64: t.ImageBase64}
}

// AudioRef assembles the audio input reference.
func (t *TaskRequest) AudioRef() InputRef {
	return InputRef{Path: t.AudioPath, URL: t.AudioURL, Base64: t.AudioBase64}
}

// Validate checks the request shape before any I/O is performed.
func (t *TaskRequest) Validate() error {
	if t.InputType != "" && t.InputType != string(ModeImage) && t.InputType != string(ModeVideo) {
		return NewError(CategoryValidation, "input_type must be \"image\" or \"video\"")
	}
	mediaName := "image"
	if t.Mode() == ModeVideo {
		mediaName = "video"
	}
	if err := t.MediaRef().Validate(mediaName); err != nil {
		return err
	}
	if err := t.AudioRef().Validate("wav"); err != nil {
		return err
	}
	if t.Width < 0 || t.Height < 0 {
		return NewError(CategoryValidation, "width and height must be positive")
	}
	if t.MaxFrames != nil && *t.MaxFrames <= 0 {
		return NewError(CategoryValidation, "max_frame must be positive")
	}
	return nil
}

// TaskFailure is the structured error carried by a failed TaskResult. The
// caller never sees a raw fault; every stage error is translated into this
// shape.
type TaskFailure struct {
	Stage    Stage         `json:"stage"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`
}

// TaskResult is the only entity that crosses the external boundary. Its
// shape is stable regardless of which internal stage produced it.
type TaskResult struct {
	Status TaskStatus `json:"status"`
	// ArtifactPath is the engine-local path of the produced video. The
	// gateway turns it into inline bytes (immediate mode) or a storage key
	// (deferred mode) before it leaves the process.
	ArtifactPath string       `json:"artifact_path,omitempty"`
	StorageKey   string       `json:"storage_key,omitempty"`
	VideoBase64  string       `json:"video,omitempty"`
	Failure      *TaskFailure `json:"error,omitempty"`
}

// Succeeded reports whether the result carries a usable artifact.
func (r *TaskResult) Succeeded() bool {
	return r != nil && r.Status == TaskStatusCompleted && r.Failure == nil
}

// Task is the persisted deferred-mode record.
type Task struct {
	ID         string
	Status     TaskStatus
	Request    []byte
	Result     []byte
	Node       string
	Progress   int
	ProgressOf int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

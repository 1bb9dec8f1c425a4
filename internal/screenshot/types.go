package screenshot

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// CaptureRequest is the immutable unit of work handed from the API to the pipeline.
type CaptureRequest struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// TargetSpec describes how project ids map onto deployed application hosts.
type TargetSpec struct {
	Scheme    string
	AppPrefix string
	Domain    string
}

// Endpoint resolves the deployed application for projectID.
func (s TargetSpec) Endpoint(projectID string) TargetEndpoint {
	scheme := s.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return TargetEndpoint{
		Scheme:    scheme,
		AppPrefix: s.AppPrefix,
		Domain:    s.Domain,
		ProjectID: projectID,
	}
}

// TargetEndpoint is the public address of one deployed preview application.
type TargetEndpoint struct {
	Scheme    string
	AppPrefix string
	Domain    string
	ProjectID string
}

// AppName is the application name reported back to API callers.
func (e TargetEndpoint) AppName() string {
	return e.AppPrefix + "-" + e.ProjectID
}

// BaseURL returns scheme://<prefix>-<project>.<domain>.
func (e TargetEndpoint) BaseURL() string {
	return fmt.Sprintf("%s://%s.%s", e.Scheme, e.AppName(), e.Domain)
}

// HealthCheckURL is the cache-busted URL used by the availability probe.
func (e TargetEndpoint) HealthCheckURL(at time.Time) string {
	return withMillisParam(e.BaseURL(), "_health_check", at)
}

// ScreenshotURL is the cache-busted URL the browser navigates to.
func (e TargetEndpoint) ScreenshotURL(at time.Time) string {
	return withMillisParam(e.BaseURL(), "_screenshot", at)
}

func withMillisParam(base, key string, at time.Time) string {
	q := url.Values{}
	q.Set(key, strconv.FormatInt(at.UnixMilli(), 10))
	return base + "?" + q.Encode()
}

// EncodingJPEG is the only encoding produced by the compressor.
const EncodingJPEG = "jpeg"

// ContentTypeJPEG is sent to object stores with every upload.
const ContentTypeJPEG = "image/jpeg"

// CompressedPayload is the output of the adaptive compressor.
type CompressedPayload struct {
	Data     []byte
	Encoding string
	Quality  int
	Width    int
	Height   int
	Pass     int
}

// ByteSize is the encoded length in bytes.
func (p CompressedPayload) ByteSize() int {
	return len(p.Data)
}

// KiB reports the size in units of 1024 bytes, for logs.
func (p CompressedPayload) KiB() float64 {
	return float64(len(p.Data)) / 1024
}

// PublishResult is returned by a successful publish.
type PublishResult struct {
	ObjectKey     string `json:"object_key"`
	ReferenceURL  string `json:"url"`
	FinalByteSize int    `json:"bytes"`
}

// Stage names one step of the capture pipeline.
type Stage string

// Pipeline stages, in execution order.
const (
	StageProbe    Stage = "probe"
	StageLaunch   Stage = "launch"
	StageNavigate Stage = "navigate"
	StageSettle   Stage = "settle"
	StageCapture  Stage = "capture"
	StageClose    Stage = "close"
	StageCompress Stage = "compress"
	StagePublish  Stage = "publish"
	StageCleanup  Stage = "cleanup"
	StageDone     Stage = "done"
)

// Status is the terminal state of a capture.
type Status string

// Terminal statuses.
const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Outcome summarises one pipeline run for hooks and notifications.
type Outcome struct {
	Request  CaptureRequest
	URL      string
	Status   Status
	Stage    Stage
	Err      error
	Result   PublishResult
	Duration time.Duration
}

// Event converts the outcome into its wire form.
func (o Outcome) Event() CompletionEvent {
	ev := CompletionEvent{
		RequestID:  o.Request.ID,
		ProjectID:  o.Request.ProjectID,
		Status:     o.Status,
		Stage:      o.Stage,
		URL:        o.Result.ReferenceURL,
		Bytes:      o.Result.FinalByteSize,
		DurationMS: o.Duration.Milliseconds(),
	}
	if o.Err != nil {
		ev.Error = o.Err.Error()
	}
	return ev
}

// CompletionEvent is emitted once per capture after it finishes.
type CompletionEvent struct {
	RequestID  string `json:"request_id"`
	ProjectID  string `json:"project_id"`
	Status     Status `json:"status"`
	Stage      Stage  `json:"stage"`
	Error      string `json:"error,omitempty"`
	URL        string `json:"url,omitempty"`
	Bytes      int    `json:"bytes,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

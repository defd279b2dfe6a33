package util

import (
	"errors"
	"net/http"
)

var (
	ErrDocumentFormat       = errors.New("document format error")
	ErrInferenceUnavailable = errors.New("inference unavailable")
	ErrMalformedResponse    = errors.New("malformed inference response")
	ErrPrerequisiteMissing  = errors.New("prerequisite missing")
	ErrCollectionNotFound   = errors.New("collection not found")
	ErrDocumentNotFound     = errors.New("document not found")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrRunInProgress        = errors.New("evaluation run already in progress")
	ErrQueueFull            = errors.New("task queue is full")
)

// PipelineError 携带错误类别与原因，errors.Is 按类别匹配
type PipelineError struct {
	Kind    error
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	msg := e.Kind.Error()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PipelineError) Is(target error) bool {
	return target == e.Kind
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func NewPipelineError(kind error, message string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Message: message, Err: err}
}

// HTTPStatus 错误类别到 HTTP 状态码
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrCollectionNotFound), errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrPrerequisiteMissing), errors.Is(err, ErrDocumentFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrInferenceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrMalformedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

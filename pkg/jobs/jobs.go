// Package jobs schedules and consumes dataset import jobs.
//
// A job carries only the id of a registered file upload. The importer is
// idempotent, so every driver may deliver a job more than once.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Dispatcher schedules one import invocation for an upload.
type Dispatcher interface {
	EnqueueImport(ctx context.Context, uploadID uuid.UUID) error
}

// ImportHandler runs an import for one upload. Returning nil or an error
// wrapped with Permanent acknowledges the job; any other error asks the
// driver to deliver it again.
type ImportHandler interface {
	Import(ctx context.Context, uploadID uuid.UUID) error
}

// ImportHandlerFunc adapts a function to ImportHandler.
type ImportHandlerFunc func(ctx context.Context, uploadID uuid.UUID) error

// Import calls f.
func (f ImportHandlerFunc) Import(ctx context.Context, uploadID uuid.UUID) error {
	return f(ctx, uploadID)
}

// Consumer pulls jobs from a queue and hands them to an ImportHandler.
type Consumer interface {
	Start()
	Shutdown(ctx context.Context) error
}

// ImportMessage is the wire format of an import job.
type ImportMessage struct {
	UploadID uuid.UUID `json:"upload_id"`
	// Attempt counts redeliveries for drivers without native redrive.
	Attempt int `json:"attempt,omitempty"`
}

// ErrInvalidMessage marks a message body that cannot be decoded.
var ErrInvalidMessage = errors.New("invalid import message")

func encodeMessage(msg ImportMessage) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode import message: %w", err)
	}
	return string(body), nil
}

func decodeMessage(body string) (ImportMessage, error) {
	var msg ImportMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.UploadID == uuid.Nil {
		return msg, fmt.Errorf("%w: missing upload_id", ErrInvalidMessage)
	}
	return msg, nil
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string     { return e.err.Error() }
func (e *permanentError) Unwrap() error     { return e.err }
func (e *permanentError) IsRetryable() bool { return false }

// Permanent marks err as not worth redelivering.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

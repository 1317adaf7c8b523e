package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	errs "github.com/angelmondragon/clubpay-backend/pkg/errors"
)

var payloadValidator = validator.New()

// State is where a job currently sits in its queue.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Spec describes a job submission. ID is the deduplication key: a second
// submission with a known ID is dropped.
type Spec struct {
	ID      string
	Name    string
	Data    any
	Options *Options
}

// Job is a job as stored in Redis.
type Job struct {
	ID           string
	Queue        string
	Name         string
	Data         json.RawMessage
	State        State
	AttemptsMade int
	MaxAttempts  int
	Backoff      time.Duration
	Error        string
	EnqueuedAt   time.Time
}

// Decode unmarshals the payload into dst and validates its struct tags.
// Malformed payloads are permanent failures.
func (j *Job) Decode(dst any) error {
	if err := json.Unmarshal(j.Data, dst); err != nil {
		return errs.Wrap(errs.CodeValidation, err, fmt.Sprintf("decode %s payload", j.Name))
	}
	if err := payloadValidator.Struct(dst); err != nil {
		return errs.Wrap(errs.CodeValidation, err, fmt.Sprintf("invalid %s payload", j.Name))
	}
	return nil
}

func jobFromFields(queueName, id string, fields map[string]string) *Job {
	job := &Job{
		ID:    id,
		Queue: queueName,
		Name:  fields["name"],
		Data:  json.RawMessage(fields["data"]),
		State: State(fields["state"]),
		Error: fields["error"],
	}
	job.AttemptsMade, _ = strconv.Atoi(fields["attempts_made"])
	job.MaxAttempts, _ = strconv.Atoi(fields["max_attempts"])
	if ms, err := strconv.ParseInt(fields["backoff_ms"], 10, 64); err == nil {
		job.Backoff = time.Duration(ms) * time.Millisecond
	}
	if ms, err := strconv.ParseInt(fields["enqueued_at"], 10, 64); err == nil {
		job.EnqueuedAt = time.UnixMilli(ms).UTC()
	}
	return job
}

func pairsToMap(flat []string) map[string]string {
	out := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		out[flat[i]] = flat[i+1]
	}
	return out
}

package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"queuewatch/internal/media"
	"queuewatch/internal/session"
)

// JobState is the lifecycle position of a video job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Job is one queued video upload.
type Job struct {
	ID        string
	SessionID string
	Filename  string
	CreatedAt time.Time

	session    *session.Session
	uploadPath string
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	mu         sync.Mutex
	state      JobState
	progress   media.Progress
	outcome    *Outcome
	err        error
	finishedAt time.Time
}

// JobStatus is the externally visible state of a job.
type JobStatus struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Filename   string         `json:"filename"`
	State      JobState       `json:"state"`
	Progress   media.Progress `json:"progress"`
	Outcome    *Outcome       `json:"outcome,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

func newJob(parent context.Context, s *session.Session, filename, uploadPath string, now time.Time) *Job {
	ctx, cancel := context.WithCancel(parent)
	return &Job{
		ID:         uuid.NewString(),
		SessionID:  s.ID,
		Filename:   filename,
		CreatedAt:  now,
		session:    s,
		uploadPath: uploadPath,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		state:      JobQueued,
	}
}

// Cancel requests cancellation. A running job stops at the next frame boundary.
func (j *Job) Cancel() {
	j.cancel()
}

// Wait blocks until the job has finished or ctx is done.
func (j *Job) Wait(ctx context.Context) (JobStatus, error) {
	select {
	case <-j.done:
		return j.Status(), nil
	case <-ctx.Done():
		return j.Status(), ctx.Err()
	}
}

// Err returns the failure of a finished job.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	st := JobStatus{
		ID:        j.ID,
		SessionID: j.SessionID,
		Filename:  j.Filename,
		State:     j.state,
		Progress:  j.progress,
		Outcome:   j.outcome,
		CreatedAt: j.CreatedAt,
	}
	if j.err != nil {
		st.Error = j.err.Error()
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		st.FinishedAt = &t
	}
	return st
}

func (j *Job) setRunning() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = JobRunning
}

func (j *Job) setProgress(p media.Progress) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress = p
}

func (j *Job) finish(outcome *Outcome, err error, now time.Time) {
	j.mu.Lock()
	switch {
	case err == nil:
		j.state = JobCompleted
		j.outcome = outcome
	case errors.Is(err, context.Canceled):
		j.state = JobCancelled
		j.err = err
	default:
		j.state = JobFailed
		j.err = err
	}
	j.finishedAt = now
	j.mu.Unlock()

	j.cancel()
	close(j.done)
}

func (j *Job) finished() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

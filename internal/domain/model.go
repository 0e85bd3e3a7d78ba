package domain

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccessful Status = "SUCCESSFUL"
	StatusFailed     Status = "FAILED"
	StatusStopped    Status = "STOPPED"
	StatusError      Status = "ERROR"
	StatusUnknown    Status = "UNKNOWN"
)

// Terminal reports whether no further status changes can occur.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccessful, StatusFailed, StatusStopped, StatusError:
		return true
	}
	return false
}

type Repository struct {
	Workspace string
	Slug      string
}

func (r Repository) FullName() string { return r.Workspace + "/" + r.Slug }

// ParseRepository parses a "workspace/slug" reference.
func ParseRepository(s string) (Repository, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Repository{}, &ValidationError{Msg: fmt.Sprintf("repository %q must be in workspace/slug form", s)}
	}
	return Repository{Workspace: parts[0], Slug: parts[1]}, nil
}

// Identifier names one concrete pipeline execution. Immutable once resolved.
type Identifier struct {
	Repo Repository
	UUID string
}

type Commit struct {
	Hash    string
	Author  string
	Message string
	Date    time.Time
}

// ShortHash returns the abbreviated hash shown in the UI.
func (c Commit) ShortHash() string {
	if len(c.Hash) > 8 {
		return c.Hash[:8]
	}
	return c.Hash
}

type Variable struct {
	Key     string
	Value   string
	Secured bool
}

type Step struct {
	Name        string
	Status      Status
	StartedAt   time.Time
	CompletedAt time.Time
}

// Duration returns the step runtime so far, zero if the step has not started.
func (s Step) Duration(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := s.CompletedAt
	if end.IsZero() {
		end = now
	}
	if end.Before(s.StartedAt) {
		return 0
	}
	return end.Sub(s.StartedAt)
}

// Snapshot is one point-in-time fetch of a pipeline execution.
type Snapshot struct {
	Identifier   Identifier
	BuildNumber  int
	Status       Status
	Branch       string
	Commit       Commit
	PipelineName string
	Variables    []Variable
	Steps        []Step
	CreatedAt    time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
	WebURL       string
}

package cache_fs

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/lparisi/bitbucket-pipeline-monitor/internal/domain"
)

func TestCache_WriteCreatesFile(t *testing.T) {
	path := t.TempDir() + "/status.json"

	snap := domain.Snapshot{
		Identifier: domain.Identifier{
			Repo: domain.Repository{Workspace: "acme", Slug: "web"},
			UUID: "{11111111-1111-1111-1111-111111111111}",
		},
		BuildNumber: 7,
		Status:      domain.StatusSuccessful,
		Branch:      "main",
	}
	st := domain.NewState(snap, time.Now())

	if err := New(path).Write(context.Background(), st); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("file not created: %v", err)
	}

	var out struct {
		Repository string `json:"repository"`
		Status     string `json:"status"`
		Terminal   bool   `json:"terminal"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if out.Repository != "acme/web" || out.Status != "SUCCESSFUL" || !out.Terminal {
		t.Errorf("got %+v", out)
	}
}

func TestCache_EmptyPath(t *testing.T) {
	if err := New("").Write(context.Background(), domain.State{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

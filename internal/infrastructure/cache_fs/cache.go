package cache_fs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/lparisi/bitbucket-pipeline-monitor/internal/domain"
)

// FSCache writes the last known pipeline state to a JSON file for external
// consumers (status bars and the like).
type FSCache struct {
	path string
}

func New(path string) *FSCache { return &FSCache{path: path} }

func (c *FSCache) Write(_ context.Context, s domain.State) error {
	if c.path == "" {
		return errors.New("cache path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(c.path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	type out struct {
		Repository string `json:"repository"`
		UUID       string `json:"uuid"`
		Build      int    `json:"build"`
		Branch     string `json:"branch"`
		Status     string `json:"status"`
		Terminal   bool   `json:"terminal"`
		URL        string `json:"url"`
		Polls      int    `json:"polls"`
		Retrieved  int64  `json:"retrieved"`
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")

	return enc.Encode(out{
		Repository: s.Snapshot.Identifier.Repo.FullName(),
		UUID:       s.Snapshot.Identifier.UUID,
		Build:      s.Snapshot.BuildNumber,
		Branch:     s.Snapshot.Branch,
		Status:     string(s.Snapshot.Status),
		Terminal:   s.Terminal,
		URL:        s.Snapshot.WebURL,
		Polls:      s.Polls,
		Retrieved:  time.Now().Unix(),
	})
}

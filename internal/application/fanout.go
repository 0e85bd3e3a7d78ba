package application

import (
	"context"

	"github.com/lparisi/bitbucket-pipeline-monitor/internal/domain"
	"go.uber.org/zap"
)

// TeeCache wraps a renderer so every frame is also written to the status
// cache. Cache failures are logged and never disturb the watch.
func TeeCache(log *zap.Logger, r domain.Renderer, cache domain.StatusCache) domain.Renderer {
	return &teeRenderer{log: log, next: r, cache: cache}
}

type teeRenderer struct {
	log   *zap.Logger
	next  domain.Renderer
	cache domain.StatusCache
}

func (t *teeRenderer) Render(s domain.State) {
	t.next.Render(s)
	t.write(s)
}

func (t *teeRenderer) Finish(s domain.State) {
	t.next.Finish(s)
	t.write(s)
}

func (t *teeRenderer) write(s domain.State) {
	if err := t.cache.Write(context.Background(), s); err != nil {
		t.log.Debug("status cache write failed", zap.Error(err))
	}
}

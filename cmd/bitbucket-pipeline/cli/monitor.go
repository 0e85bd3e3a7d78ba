package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lparisi/bitbucket-pipeline-monitor/internal/application"
	"github.com/lparisi/bitbucket-pipeline-monitor/internal/domain"
	"github.com/lparisi/bitbucket-pipeline-monitor/internal/infrastructure/bitbucket_http"
	"github.com/lparisi/bitbucket-pipeline-monitor/internal/infrastructure/cache_fs"
	"github.com/lparisi/bitbucket-pipeline-monitor/internal/infrastructure/config"
	"github.com/lparisi/bitbucket-pipeline-monitor/internal/infrastructure/logging"
	"github.com/lparisi/bitbucket-pipeline-monitor/internal/infrastructure/notify_libnotify"
	"github.com/lparisi/bitbucket-pipeline-monitor/internal/infrastructure/render_term"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	monRepo    string
	monUUID    string
	monBranch  string
	monRefresh time.Duration
	monNotify  bool
)

var monitorCmd = &cobra.Command{
	Use:          "monitor",
	Short:        "Watch one pipeline execution until it reaches a terminal state",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.New()
		defer func() { _ = log.Sync() }()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		interval := cfg.Poll.Interval
		if cmd.Flags().Changed("refresh") {
			interval = monRefresh
		}
		if interval <= 0 {
			return fmt.Errorf("refresh interval must be positive")
		}

		// The request timeout has to stay under the poll interval so
		// cancellation is never stuck behind a stalled fetch.
		timeout := cfg.Bitbucket.Timeout
		if timeout >= interval {
			timeout = interval / 2
		}

		client := bitbucket_http.New(cfg.Bitbucket.BaseURL, bitbucket_http.Credentials{
			Username:    cfg.Bitbucket.Username,
			AppPassword: cfg.Bitbucket.AppPassword,
			AccessToken: cfg.Bitbucket.AccessToken,
		}, timeout)

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		id, err := application.NewResolver(client).Resolve(ctx, application.Criteria{
			Repository: monRepo,
			UUID:       monUUID,
			Branch:     monBranch,
		})
		if err != nil {
			return err
		}

		var renderer domain.Renderer = render_term.New(os.Stdout)
		if cfg.Cache.Path != "" {
			renderer = application.TeeCache(log, renderer, cache_fs.New(cfg.Cache.Path))
		}

		eng := application.NewEngine(log, client, interval)
		if paused := watchPauseFile(ctx, cfg.Poll.PauseFile, log); paused != nil {
			eng.PauseWhen(paused)
		}

		outcome := eng.Run(ctx, id, renderer)

		if (monNotify || cfg.Notify.Enabled) && outcome.Kind == application.OutcomeCompleted {
			snap := outcome.State.Snapshot
			body := fmt.Sprintf("Pipeline #%d (%s)", snap.BuildNumber, snap.Branch)
			_ = notify_libnotify.NewSoft().Notify(context.Background(),
				notify_libnotify.TitleFor(outcome.Status), body, snap.WebURL)
		}

		if outcome.Kind == application.OutcomeFailed && outcome.Err != nil {
			_, _ = fmt.Fprintln(os.Stderr, outcome.Err)
		}

		if code := outcome.ExitCode(); code != 0 {
			return &exitCodeError{code: code}
		}
		return nil
	},
}

func init() {
	monitorCmd.Flags().StringVarP(&monRepo, "repo", "r", "", "repository in workspace/slug form")
	monitorCmd.Flags().StringVarP(&monUUID, "pipeline-uuid", "p", "", "UUID of the pipeline to monitor")
	monitorCmd.Flags().StringVarP(&monBranch, "branch", "b", "", "watch the latest pipeline on this branch")
	monitorCmd.Flags().DurationVarP(&monRefresh, "refresh", "f", 10*time.Second, "refresh interval")
	monitorCmd.Flags().BoolVar(&monNotify, "notify", false, "send a desktop notification when the pipeline finishes")
	_ = monitorCmd.MarkFlagRequired("repo")

	rootCmd.AddCommand(monitorCmd)
}

// watchPauseFile toggles a pause flag on creation and removal of the pause
// file. Returns nil when watching is unavailable, a predicate otherwise.
func watchPauseFile(ctx context.Context, path string, log *zap.Logger) func() bool {
	if path == "" {
		return nil
	}

	var paused atomic.Bool
	if _, err := os.Stat(path); err == nil {
		paused.Store(true)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("fsnotify init failed", zap.Error(err))
		return paused.Load
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := w.Add(dir); err != nil {
		log.Warn("fsnotify add dir failed", zap.String("dir", dir), zap.Error(err))
		_ = w.Close()
		return paused.Load
	}

	go func() {
		defer func() { _ = w.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					paused.Store(true)
					log.Warn("polling paused", zap.String("pause_file", path))
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					paused.Store(false)
					log.Warn("polling resumed")
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("fsnotify error", zap.Error(err))
			}
		}
	}()

	return paused.Load
}

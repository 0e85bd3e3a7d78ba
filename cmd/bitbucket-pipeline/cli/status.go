package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lparisi/bitbucket-pipeline-monitor/internal/application"
	"github.com/lparisi/bitbucket-pipeline-monitor/internal/domain"
	"github.com/lparisi/bitbucket-pipeline-monitor/internal/infrastructure/bitbucket_http"
	"github.com/lparisi/bitbucket-pipeline-monitor/internal/infrastructure/config"
	"github.com/lparisi/bitbucket-pipeline-monitor/internal/infrastructure/logging"
	"github.com/lparisi/bitbucket-pipeline-monitor/internal/infrastructure/render_term"
	"github.com/spf13/cobra"
)

var (
	statusRepo   string
	statusUUID   string
	statusBranch string
)

var statusCmd = &cobra.Command{
	Use:          "status",
	Short:        "Fetch and display a pipeline once, without watching",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.New()
		defer func() { _ = log.Sync() }()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		client := bitbucket_http.New(cfg.Bitbucket.BaseURL, bitbucket_http.Credentials{
			Username:    cfg.Bitbucket.Username,
			AppPassword: cfg.Bitbucket.AppPassword,
			AccessToken: cfg.Bitbucket.AccessToken,
		}, cfg.Bitbucket.Timeout)

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		id, err := application.NewResolver(client).Resolve(ctx, application.Criteria{
			Repository: statusRepo,
			UUID:       statusUUID,
			Branch:     statusBranch,
		})
		if err != nil {
			return err
		}

		snap, err := client.GetPipeline(ctx, id)
		if err != nil {
			return err
		}

		render_term.NewOnce(os.Stdout).Render(domain.NewState(snap, time.Now()))
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVarP(&statusRepo, "repo", "r", "", "repository in workspace/slug form")
	statusCmd.Flags().StringVarP(&statusUUID, "pipeline-uuid", "p", "", "UUID of the pipeline")
	statusCmd.Flags().StringVarP(&statusBranch, "branch", "b", "", "latest pipeline on this branch")
	_ = statusCmd.MarkFlagRequired("repo")

	rootCmd.AddCommand(statusCmd)
}

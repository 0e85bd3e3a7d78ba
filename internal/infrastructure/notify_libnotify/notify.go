package notify_libnotify

import (
	"context"
	"os/exec"
	"strings"

	"github.com/lparisi/bitbucket-pipeline-monitor/internal/domain"
)

type Notifier struct {
	soft bool
}

func New() *Notifier { return &Notifier{soft: false} }

// NewSoft returns a notifier that swallows notify-send failures; a missing
// desktop environment should never break the watch.
func NewSoft() *Notifier { return &Notifier{soft: true} }

func (n *Notifier) Notify(ctx context.Context, title, body, url string) error {
	if strings.TrimSpace(url) != "" {
		if body == "" {
			body = url
		} else {
			body = body + "\n" + url
		}
	}

	args := []string{
		"--app-name=bitbucket-pipeline",
		title, body,
	}

	cmd := exec.CommandContext(ctx, "notify-send", args...)
	if err := cmd.Run(); err != nil {
		if n.soft {
			return nil
		}
		return err
	}
	return nil
}

// TitleFor picks the notification headline for a final status.
func TitleFor(s domain.Status) string {
	switch s {
	case domain.StatusSuccessful:
		return "✅ Pipeline: successful"
	case domain.StatusFailed:
		return "❌ Pipeline: failed"
	case domain.StatusStopped:
		return "⛔ Pipeline: stopped"
	case domain.StatusError:
		return "❌ Pipeline: error"
	default:
		return "ℹ️ Pipeline: " + string(s)
	}
}

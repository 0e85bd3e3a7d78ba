package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lparisi/bitbucket-pipeline-monitor/internal/domain"
)

// Criteria is the user's intent: an explicit execution UUID, or the latest
// execution on a branch.
type Criteria struct {
	Repository string
	UUID       string
	Branch     string
}

type Resolver struct {
	client domain.PipelineClient
}

func NewResolver(client domain.PipelineClient) *Resolver {
	return &Resolver{client: client}
}

// Resolve turns criteria into a concrete pipeline identifier. Resolving by
// UUID is local; resolving by branch costs exactly one list call.
func (r *Resolver) Resolve(ctx context.Context, c Criteria) (domain.Identifier, error) {
	if c.Repository == "" {
		return domain.Identifier{}, &domain.ValidationError{Msg: "repository is required"}
	}

	repo, err := domain.ParseRepository(c.Repository)
	if err != nil {
		return domain.Identifier{}, err
	}

	if c.UUID != "" {
		id, err := normalizeUUID(c.UUID)
		if err != nil {
			return domain.Identifier{}, err
		}
		return domain.Identifier{Repo: repo, UUID: id}, nil
	}

	if c.Branch == "" {
		return domain.Identifier{}, &domain.ValidationError{Msg: "either a pipeline UUID or a branch is required"}
	}

	list, err := r.client.ListPipelinesForBranch(ctx, repo, c.Branch)
	if err != nil {
		var ae *domain.APIError
		if errors.As(err, &ae) && ae.Kind == domain.ErrNotFound {
			return domain.Identifier{}, &domain.NotFoundError{Msg: fmt.Sprintf("repository %s not found", repo.FullName())}
		}
		return domain.Identifier{}, err
	}
	if len(list) == 0 {
		return domain.Identifier{}, &domain.NotFoundError{Msg: fmt.Sprintf("no pipelines found for branch %q in %s", c.Branch, repo.FullName())}
	}

	// The service lists most-recent-first.
	return domain.Identifier{Repo: repo, UUID: list[0].Identifier.UUID}, nil
}

// normalizeUUID accepts braced and bare forms and returns the braced form
// the Bitbucket API uses in paths.
func normalizeUUID(s string) (string, error) {
	u, err := uuid.Parse(strings.Trim(s, "{}"))
	if err != nil {
		return "", &domain.ValidationError{Msg: fmt.Sprintf("invalid pipeline UUID %q", s)}
	}
	return "{" + u.String() + "}", nil
}

package domain

import "context"

type PipelineClient interface {
	// GetPipeline fetches the full snapshot of one execution, steps and
	// variables included.
	GetPipeline(ctx context.Context, id Identifier) (Snapshot, error)
	// ListPipelinesForBranch returns executions for the branch,
	// most recent first.
	ListPipelinesForBranch(ctx context.Context, repo Repository, branch string) ([]Snapshot, error)
}

type Renderer interface {
	// Render is called after every poll.
	Render(s State)
	// Finish is called exactly once when polling stops, with the best-effort
	// final state.
	Finish(s State)
}

type Notifier interface {
	Notify(ctx context.Context, title, body, url string) error
}

type StatusCache interface {
	Write(ctx context.Context, s State) error
}

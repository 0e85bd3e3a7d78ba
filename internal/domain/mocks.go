package domain

import (
	"context"
)

// FetchResult scripts one GetPipeline call for MockClient.
type FetchResult struct {
	Snapshot Snapshot
	Err      error
}

type MockClient struct {
	// Script is consumed one entry per GetPipeline call; the last entry
	// repeats once exhausted.
	Script []FetchResult
	// Branch responses for ListPipelinesForBranch.
	Branch    []Snapshot
	BranchErr error

	Fetches     int
	ListedRepo  Repository
	ListedRef   string
	ListedCalls int
}

func (m *MockClient) GetPipeline(ctx context.Context, id Identifier) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	i := m.Fetches
	m.Fetches++
	if len(m.Script) == 0 {
		return Snapshot{}, &NotFoundError{Msg: "mock: empty script"}
	}
	if i >= len(m.Script) {
		i = len(m.Script) - 1
	}
	r := m.Script[i]
	return r.Snapshot, r.Err
}

func (m *MockClient) ListPipelinesForBranch(ctx context.Context, repo Repository, branch string) ([]Snapshot, error) {
	m.ListedCalls++
	m.ListedRepo = repo
	m.ListedRef = branch
	if m.BranchErr != nil {
		return nil, m.BranchErr
	}
	return m.Branch, nil
}

type MockRenderer struct {
	Rendered []State
	Finished []State
}

func (r *MockRenderer) Render(s State) { r.Rendered = append(r.Rendered, s) }
func (r *MockRenderer) Finish(s State) { r.Finished = append(r.Finished, s) }

type MockNotifier struct {
	Messages []string
	Err      error
}

func (n *MockNotifier) Notify(ctx context.Context, title, body, url string) error {
	n.Messages = append(n.Messages, title+"|"+body+"|"+url)
	return n.Err
}

type MockCache struct {
	States []State
	Err    error
}

func (c *MockCache) Write(ctx context.Context, s State) error {
	if c.Err != nil {
		return c.Err
	}
	c.States = append(c.States, s)
	return nil
}

package application

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/lparisi/bitbucket-pipeline-monitor/internal/domain"
	"go.uber.org/zap"
)

var testID = domain.Identifier{
	Repo: domain.Repository{Workspace: "acme", Slug: "web"},
	UUID: "{11111111-1111-1111-1111-111111111111}",
}

func snap(status domain.Status) domain.Snapshot {
	return domain.Snapshot{Identifier: testID, Status: status, Branch: "main"}
}

func ok(status domain.Status) domain.FetchResult {
	return domain.FetchResult{Snapshot: snap(status)}
}

func transient() domain.FetchResult {
	return domain.FetchResult{Err: &domain.APIError{Kind: domain.ErrTransient, StatusCode: 502}}
}

func testEngine(client domain.PipelineClient, interval time.Duration) *Engine {
	e := NewEngine(zap.NewNop(), client, interval)
	e.initialBackoff = time.Millisecond
	e.maxBackoff = 2 * time.Millisecond
	e.maxElapsed = time.Second
	return e
}

func TestRun_CompletesThroughStatusSequence(t *testing.T) {
	client := &domain.MockClient{Script: []domain.FetchResult{
		ok(domain.StatusPending),
		ok(domain.StatusInProgress),
		ok(domain.StatusInProgress),
		ok(domain.StatusSuccessful),
	}}
	r := &domain.MockRenderer{}

	out := testEngine(client, time.Millisecond).Run(context.Background(), testID, r)

	if out.Kind != OutcomeCompleted || out.Status != domain.StatusSuccessful {
		t.Fatalf("outcome = %+v", out)
	}
	if out.ExitCode() != 0 {
		t.Errorf("exit code = %d, want 0", out.ExitCode())
	}
	if len(r.Rendered) != 4 {
		t.Fatalf("rendered %d frames, want 4", len(r.Rendered))
	}

	transitions := 0
	for _, s := range r.Rendered {
		if s.Transitioned {
			transitions++
		}
	}
	if transitions != 2 {
		t.Errorf("transitions = %d, want 2 (PENDING->IN_PROGRESS, IN_PROGRESS->SUCCESSFUL)", transitions)
	}

	if len(r.Finished) != 1 {
		t.Fatalf("finish called %d times, want 1", len(r.Finished))
	}
	if !r.Finished[0].Terminal {
		t.Error("final state should be terminal")
	}
	if r.Finished[0].Polls != 4 {
		t.Errorf("polls = %d, want 4", r.Finished[0].Polls)
	}
}

func TestRun_AlreadyTerminalFinishesWithoutLooping(t *testing.T) {
	client := &domain.MockClient{Script: []domain.FetchResult{ok(domain.StatusFailed)}}
	r := &domain.MockRenderer{}

	out := testEngine(client, time.Hour).Run(context.Background(), testID, r)

	if out.Kind != OutcomeCompleted || out.Status != domain.StatusFailed {
		t.Fatalf("outcome = %+v", out)
	}
	if out.ExitCode() != 1 {
		t.Errorf("exit code = %d, want 1", out.ExitCode())
	}
	if client.Fetches != 1 {
		t.Errorf("fetches = %d, want 1", client.Fetches)
	}
	if len(r.Rendered) != 1 || len(r.Finished) != 1 {
		t.Errorf("rendered %d, finished %d", len(r.Rendered), len(r.Finished))
	}
}

func TestRun_TransientFailuresAreRetriedNotFatal(t *testing.T) {
	client := &domain.MockClient{Script: []domain.FetchResult{
		ok(domain.StatusInProgress),
		transient(),
		transient(),
		transient(),
		ok(domain.StatusInProgress),
		ok(domain.StatusSuccessful),
	}}
	r := &domain.MockRenderer{}

	out := testEngine(client, time.Millisecond).Run(context.Background(), testID, r)

	if out.Kind != OutcomeCompleted || out.Status != domain.StatusSuccessful {
		t.Fatalf("outcome = %+v", out)
	}

	errFrames := 0
	for _, s := range r.Rendered {
		if s.LastErr != nil {
			errFrames++
			if s.Snapshot.Status != domain.StatusInProgress {
				t.Errorf("error frame lost the last known status: %s", s.Snapshot.Status)
			}
		}
	}
	if errFrames != 3 {
		t.Errorf("error frames = %d, want 3", errFrames)
	}
	if out.State.LastErr != nil {
		t.Error("final state should have the error cleared")
	}
}

func TestRun_ExhaustedRetriesAreFatal(t *testing.T) {
	client := &domain.MockClient{Script: []domain.FetchResult{
		ok(domain.StatusInProgress),
		transient(),
	}}
	r := &domain.MockRenderer{}

	e := testEngine(client, time.Millisecond)
	e.maxFailures = 3
	out := e.Run(context.Background(), testID, r)

	if out.Kind != OutcomeFailed {
		t.Fatalf("outcome = %+v", out)
	}
	if out.ExitCode() != 2 {
		t.Errorf("exit code = %d, want 2", out.ExitCode())
	}
	if len(r.Finished) != 1 {
		t.Errorf("finish called %d times, want 1", len(r.Finished))
	}
}

func TestRun_UnauthorizedIsImmediatelyFatal(t *testing.T) {
	client := &domain.MockClient{Script: []domain.FetchResult{
		ok(domain.StatusInProgress),
		{Err: &domain.APIError{Kind: domain.ErrUnauthorized, StatusCode: 401}},
	}}
	r := &domain.MockRenderer{}

	out := testEngine(client, time.Millisecond).Run(context.Background(), testID, r)

	if out.Kind != OutcomeFailed {
		t.Fatalf("outcome = %+v", out)
	}
	var ae *domain.APIError
	if !errors.As(out.Err, &ae) || ae.Kind != domain.ErrUnauthorized {
		t.Errorf("err = %v", out.Err)
	}
	if client.Fetches != 2 {
		t.Errorf("fetches = %d, unauthorized must not be retried", client.Fetches)
	}
}

func TestRun_RateLimitHonorsRetryAfter(t *testing.T) {
	client := &domain.MockClient{Script: []domain.FetchResult{
		ok(domain.StatusInProgress),
		{Err: &domain.APIError{Kind: domain.ErrRateLimited, StatusCode: 429, RetryAfter: time.Millisecond}},
		ok(domain.StatusSuccessful),
	}}
	r := &domain.MockRenderer{}

	out := testEngine(client, time.Millisecond).Run(context.Background(), testID, r)

	if out.Kind != OutcomeCompleted || out.Status != domain.StatusSuccessful {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestRun_InitialFetchRetriesTransientErrors(t *testing.T) {
	client := &domain.MockClient{Script: []domain.FetchResult{
		transient(),
		transient(),
		ok(domain.StatusSuccessful),
	}}
	r := &domain.MockRenderer{}

	out := testEngine(client, time.Millisecond).Run(context.Background(), testID, r)

	if out.Kind != OutcomeCompleted {
		t.Fatalf("outcome = %+v", out)
	}
	if client.Fetches != 3 {
		t.Errorf("fetches = %d, want 3", client.Fetches)
	}
}

func TestRun_FatalInitialFetchAbortsBeforeRendering(t *testing.T) {
	client := &domain.MockClient{Script: []domain.FetchResult{
		{Err: &domain.APIError{Kind: domain.ErrNotFound, StatusCode: 404}},
	}}
	r := &domain.MockRenderer{}

	out := testEngine(client, time.Millisecond).Run(context.Background(), testID, r)

	if out.Kind != OutcomeFailed {
		t.Fatalf("outcome = %+v", out)
	}
	if len(r.Rendered) != 0 || len(r.Finished) != 0 {
		t.Errorf("nothing should be rendered on resolution-time failure: %d/%d", len(r.Rendered), len(r.Finished))
	}
}

func TestRun_CancellationDuringSleep(t *testing.T) {
	client := &domain.MockClient{Script: []domain.FetchResult{
		ok(domain.StatusPending),
		ok(domain.StatusInProgress),
	}}
	r := &domain.MockRenderer{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() {
		done <- testEngine(client, 5*time.Millisecond).Run(ctx, testID, r)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	var out Outcome
	select {
	case out = <-done:
	case <-time.After(time.Second):
		t.Fatal("engine did not stop after cancellation")
	}

	if out.Kind != OutcomeCancelled {
		t.Fatalf("outcome = %+v", out)
	}
	if out.ExitCode() != 130 {
		t.Errorf("exit code = %d, want 130", out.ExitCode())
	}
	if len(r.Finished) != 1 {
		t.Fatalf("finish called %d times, want 1", len(r.Finished))
	}
	if r.Finished[0].Terminal {
		t.Error("cancelled watch must not report a terminal state")
	}
	last := r.Rendered[len(r.Rendered)-1]
	if !reflect.DeepEqual(r.Finished[0], last) {
		t.Error("finish should receive the last rendered state")
	}
}

func TestRun_PausedEngineSkipsFetches(t *testing.T) {
	client := &domain.MockClient{Script: []domain.FetchResult{
		ok(domain.StatusInProgress),
	}}
	r := &domain.MockRenderer{}

	e := testEngine(client, time.Millisecond)
	e.PauseWhen(func() bool { return true })

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()
	out := e.Run(ctx, testID, r)

	if out.Kind != OutcomeCancelled {
		t.Fatalf("outcome = %+v", out)
	}
	if client.Fetches != 1 {
		t.Errorf("fetches = %d, want only the initial one while paused", client.Fetches)
	}
}

func TestOutcome_ExitCodes(t *testing.T) {
	cases := []struct {
		out  Outcome
		want int
	}{
		{Outcome{Kind: OutcomeCompleted, Status: domain.StatusSuccessful}, 0},
		{Outcome{Kind: OutcomeCompleted, Status: domain.StatusFailed}, 1},
		{Outcome{Kind: OutcomeCompleted, Status: domain.StatusStopped}, 1},
		{Outcome{Kind: OutcomeCompleted, Status: domain.StatusError}, 1},
		{Outcome{Kind: OutcomeFailed, Err: errors.New("boom")}, 2},
		{Outcome{Kind: OutcomeCancelled}, 130},
	}
	for _, c := range cases {
		if got := c.out.ExitCode(); got != c.want {
			t.Errorf("%+v: exit code = %d, want %d", c.out, got, c.want)
		}
	}
}

func TestTeeCache_WritesEveryFrame(t *testing.T) {
	r := &domain.MockRenderer{}
	cache := &domain.MockCache{}
	tee := TeeCache(zap.NewNop(), r, cache)

	st := domain.NewState(snap(domain.StatusInProgress), time.Now())
	tee.Render(st)
	tee.Finish(st)

	if len(r.Rendered) != 1 || len(r.Finished) != 1 {
		t.Errorf("inner renderer saw %d/%d frames", len(r.Rendered), len(r.Finished))
	}
	if len(cache.States) != 2 {
		t.Errorf("cache saw %d states, want 2", len(cache.States))
	}
}

func TestTeeCache_CacheFailureDoesNotDisturbRendering(t *testing.T) {
	r := &domain.MockRenderer{}
	cache := &domain.MockCache{Err: errors.New("disk full")}
	tee := TeeCache(zap.NewNop(), r, cache)

	tee.Render(domain.NewState(snap(domain.StatusInProgress), time.Now()))
	if len(r.Rendered) != 1 {
		t.Errorf("rendered %d frames, want 1", len(r.Rendered))
	}
}

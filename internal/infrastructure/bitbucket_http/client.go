package bitbucket_http

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lparisi/bitbucket-pipeline-monitor/internal/domain"
)

const securedMask = "********"

// Credentials for the Bitbucket Cloud API: either username + app password
// (basic auth) or an access token (bearer).
type Credentials struct {
	Username    string
	AppPassword string
	AccessToken string
}

type Client struct {
	baseURL string
	creds   Credentials
	hc      *http.Client
}

func New(baseURL string, creds Credentials, timeout time.Duration) *Client {
	tr := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseURL: trimSlash(baseURL),
		creds:   creds,
		hc:      &http.Client{Transport: tr, Timeout: timeout},
	}
}

type stateDTO struct {
	Name   string `json:"name"`
	Result *struct {
		Name string `json:"name"`
	} `json:"result"`
}

type pipelineDTO struct {
	UUID        string    `json:"uuid"`
	BuildNumber int       `json:"build_number"`
	State       stateDTO  `json:"state"`
	CreatedOn   time.Time `json:"created_on"`
	StartedOn   time.Time `json:"started_on"`
	CompletedOn time.Time `json:"completed_on"`
	Target      struct {
		RefName  string `json:"ref_name"`
		Selector *struct {
			Pattern string `json:"pattern"`
		} `json:"selector"`
		Commit struct {
			Hash    string    `json:"hash"`
			Message string    `json:"message"`
			Date    time.Time `json:"date"`
			Author  struct {
				User struct {
					DisplayName string `json:"display_name"`
				} `json:"user"`
				Raw string `json:"raw"`
			} `json:"author"`
		} `json:"commit"`
	} `json:"target"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

type stepDTO struct {
	Name        string    `json:"name"`
	State       stateDTO  `json:"state"`
	StartedOn   time.Time `json:"started_on"`
	CompletedOn time.Time `json:"completed_on"`
}

type variableDTO struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Secured bool   `json:"secured"`
}

type stepPageDTO struct {
	Values []stepDTO `json:"values"`
}

type variablePageDTO struct {
	Values []variableDTO `json:"values"`
}

type pipelinePageDTO struct {
	Values []pipelineDTO `json:"values"`
}

// GetPipeline composes the pipeline detail, its steps and its variables into
// one snapshot.
func (c *Client) GetPipeline(ctx context.Context, id domain.Identifier) (domain.Snapshot, error) {
	base := fmt.Sprintf("/repositories/%s/pipelines/%s", id.Repo.FullName(), url.PathEscape(id.UUID))

	var p pipelineDTO
	if err := c.get(ctx, base, nil, &p); err != nil {
		return domain.Snapshot{}, err
	}

	var steps stepPageDTO
	if err := c.get(ctx, base+"/steps/", nil, &steps); err != nil {
		return domain.Snapshot{}, err
	}

	var vars variablePageDTO
	if err := c.get(ctx, base+"/variables/", nil, &vars); err != nil {
		return domain.Snapshot{}, err
	}

	return mapSnapshot(id.Repo, p, steps.Values, vars.Values), nil
}

// ListPipelinesForBranch returns executions on the branch ordered most
// recent first, without step or variable detail.
func (c *Client) ListPipelinesForBranch(ctx context.Context, repo domain.Repository, branch string) ([]domain.Snapshot, error) {
	q := url.Values{
		"sort":            {"-created_on"},
		"target.ref_name": {branch},
		"pagelen":         {"10"},
	}

	var page pipelinePageDTO
	if err := c.get(ctx, fmt.Sprintf("/repositories/%s/pipelines/", repo.FullName()), q, &page); err != nil {
		return nil, err
	}

	out := make([]domain.Snapshot, 0, len(page.Values))
	for _, p := range page.Values {
		out = append(out, mapSnapshot(repo, p, nil, nil))
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, v any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &domain.APIError{Kind: domain.ErrTransient, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return &domain.APIError{Kind: domain.ErrTransient, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &domain.APIError{Kind: domain.ErrUnauthorized, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusNotFound:
		return &domain.APIError{Kind: domain.ErrNotFound, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &domain.APIError{
			Kind:       domain.ErrRateLimited,
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter(resp),
		}
	case resp.StatusCode >= 300:
		return &domain.APIError{Kind: domain.ErrTransient, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &domain.APIError{Kind: domain.ErrTransient, Err: err}
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.creds.Username != "" && c.creds.AppPassword != "" {
		req.SetBasicAuth(c.creds.Username, c.creds.AppPassword)
		return
	}
	if c.creds.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.creds.AccessToken)
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if sec, err := strconv.Atoi(ra); err == nil && sec > 0 {
			return time.Duration(sec) * time.Second
		}
	}
	return 0
}

func mapSnapshot(repo domain.Repository, p pipelineDTO, steps []stepDTO, vars []variableDTO) domain.Snapshot {
	snap := domain.Snapshot{
		Identifier:   domain.Identifier{Repo: repo, UUID: p.UUID},
		BuildNumber:  p.BuildNumber,
		Status:       mapStatus(p.State),
		Branch:       p.Target.RefName,
		PipelineName: "default",
		CreatedAt:    p.CreatedOn,
		StartedAt:    p.StartedOn,
		CompletedAt:  p.CompletedOn,
	}

	if p.Target.Selector != nil && p.Target.Selector.Pattern != "" {
		snap.PipelineName = p.Target.Selector.Pattern
	}

	author := p.Target.Commit.Author.User.DisplayName
	if author == "" {
		author = p.Target.Commit.Author.Raw
	}
	snap.Commit = domain.Commit{
		Hash:    p.Target.Commit.Hash,
		Message: p.Target.Commit.Message,
		Author:  author,
		Date:    p.Target.Commit.Date,
	}

	if p.BuildNumber > 0 {
		snap.WebURL = fmt.Sprintf("https://bitbucket.org/%s/pipelines/results/%d", repo.FullName(), p.BuildNumber)
	}

	for _, s := range steps {
		snap.Steps = append(snap.Steps, domain.Step{
			Name:        s.Name,
			Status:      mapStatus(s.State),
			StartedAt:   s.StartedOn,
			CompletedAt: s.CompletedOn,
		})
	}

	for _, v := range vars {
		value := v.Value
		if v.Secured {
			value = securedMask
		}
		snap.Variables = append(snap.Variables, domain.Variable{Key: v.Key, Value: value, Secured: v.Secured})
	}

	return snap
}

// mapStatus flattens Bitbucket's state/result pair: a COMPLETED state carries
// the real outcome under result.name.
func mapStatus(s stateDTO) domain.Status {
	switch strings.ToUpper(s.Name) {
	case "PENDING":
		return domain.StatusPending
	case "IN_PROGRESS", "RUNNING":
		return domain.StatusInProgress
	case "SUCCESSFUL":
		return domain.StatusSuccessful
	case "FAILED":
		return domain.StatusFailed
	case "STOPPED":
		return domain.StatusStopped
	case "ERROR":
		return domain.StatusError
	case "COMPLETED":
		if s.Result == nil {
			return domain.StatusUnknown
		}
		return mapStatus(stateDTO{Name: s.Result.Name})
	default:
		return domain.StatusUnknown
	}
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

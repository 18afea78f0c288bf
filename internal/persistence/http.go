package persistence

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/conneroisu/playpen/internal/buffer"
	"github.com/conneroisu/playpen/internal/errors"
	"github.com/conneroisu/playpen/internal/logging"
	"github.com/conneroisu/playpen/internal/version"
)

const projectPath = "/api/projects/{id}"

// HTTPOptions configures an HTTPStore.
type HTTPOptions struct {
	BaseURL string
	Timeout time.Duration

	// LoadRetries is how often a failed load is retried. Saves are never
	// retried.
	LoadRetries  int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	Logger logging.Logger
}

// HTTPStore talks to the project API:
//
//	GET /api/projects/{id} -> {"name", "html", "css", "js"}
//	PUT /api/projects/{id} <- {"html", "css", "js"}
//
// The token is sent as a bearer credential. An empty token is allowed; the
// request goes out without an Authorization header and the server is
// expected to answer 401.
type HTTPStore struct {
	loader *resty.Client
	saver  *resty.Client
	logger logging.Logger
}

type projectBody struct {
	Name string `json:"name"`
	HTML string `json:"html"`
	CSS  string `json:"css"`
	JS   string `json:"js"`
}

// NewHTTPStore creates a store for the API at opts.BaseURL.
func NewHTTPStore(opts HTTPOptions) *HTTPStore {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.LoadRetries < 0 {
		opts.LoadRetries = 0
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = 200 * time.Millisecond
	}
	if opts.RetryWaitMax < opts.RetryWaitMin {
		opts.RetryWaitMax = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	userAgent := "playpen/" + version.GetShortVersion()

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.LoadRetries
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.Logger = nil
	// Hand the last response back to resty instead of a "giving up" error
	// so status classification still works after retries run out.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	loader := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(baseURL).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json")

	saver := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json")

	return &HTTPStore{
		loader: loader,
		saver:  saver,
		logger: opts.Logger.WithComponent("persistence"),
	}
}

// Load fetches project id.
func (s *HTTPStore) Load(ctx context.Context, id, token string) (Project, error) {
	perf := logging.StartOperation(s.logger, "project_load")

	req := s.loader.R().
		SetContext(ctx).
		SetPathParam("id", id)
	if token != "" {
		req.SetAuthToken(token)
	}

	resp, err := req.Get(projectPath)
	if err != nil {
		perr := errors.LoadError(id, errors.NewNetworkError(errors.ErrCodeNetwork, "project request failed", err))
		perf.EndWithError(ctx, perr, "project", id)
		return Project{}, perr
	}
	if resp.IsError() {
		perr := errors.LoadError(id, errors.FromStatus(resp.StatusCode(), resp.String()))
		perf.EndWithError(ctx, perr, "project", id, "status", resp.StatusCode(), "token", logging.TokenHint(token))
		return Project{}, perr
	}

	var body projectBody
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		perr := errors.LoadError(id, errors.NewInternalError(errors.ErrCodeBadStatus, "malformed project response", err))
		perf.EndWithError(ctx, perr, "project", id)
		return Project{}, perr
	}

	perf.End(ctx, "project", id, "status", resp.StatusCode())

	return Project{
		ID:   id,
		Name: body.Name,
		Sources: buffer.Sources{
			HTML: body.HTML,
			CSS:  body.CSS,
			JS:   body.JS,
		},
	}, nil
}

// Save replaces the sources of project id. The body always carries all
// three fields, empty ones included.
func (s *HTTPStore) Save(ctx context.Context, id, token string, src buffer.Sources) error {
	perf := logging.StartOperation(s.logger, "project_save")

	req := s.saver.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetHeader("Content-Type", "application/json").
		SetBody(src)
	if token != "" {
		req.SetAuthToken(token)
	}

	resp, err := req.Put(projectPath)
	if err != nil {
		perr := errors.SaveError(id, errors.NewNetworkError(errors.ErrCodeNetwork, "project request failed", err))
		perf.EndWithError(ctx, perr, "project", id)
		return perr
	}
	if resp.IsError() {
		perr := errors.SaveError(id, errors.FromStatus(resp.StatusCode(), resp.String()))
		perf.EndWithError(ctx, perr, "project", id, "status", resp.StatusCode(), "token", logging.TokenHint(token))
		return perr
	}

	perf.End(ctx, "project", id, "status", resp.StatusCode())
	return nil
}

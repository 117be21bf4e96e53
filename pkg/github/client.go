// Package github is a minimal client for the GitHub REST endpoints branchsync needs:
// the repository probe, the branch zipball and the git data API.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sdejongh/branchsync/pkg/logging"
	"github.com/sdejongh/branchsync/pkg/models"
)

const (
	// DefaultBaseURL is the public GitHub API root
	DefaultBaseURL = "https://api.github.com"

	// DefaultTimeout bounds each HTTP call
	DefaultTimeout = 5 * time.Minute

	apiVersion = "2022-11-28"

	// lowRateLimit is the remaining-call count below which responses are logged as warnings
	lowRateLimit = 10
)

// Client talks to one GitHub API host
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	timeout    time.Duration
	httpClient *http.Client
	logger     logging.Logger

	mu        sync.Mutex
	rateLimit RateLimit
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithUserAgent sets the User-Agent header sent on every request
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithTimeout sets the per-call timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger used for request and rate-limit diagnostics
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client for baseURL authenticating with token
func New(baseURL, token string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		userAgent:  "branchsync",
		timeout:    DefaultTimeout,
		httpClient: &http.Client{},
		logger:     logging.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RateLimit returns the rate-limit headers of the most recent response
func (c *Client) RateLimit() RateLimit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateLimit
}

// GetRepository fetches repository metadata, including the caller's permissions
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*Repository, error) {
	var out Repository
	if err := c.doJSON(ctx, http.MethodGet, repoPath(owner, repo), "get repository", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Probe checks that the token can push to the repository
func (c *Client) Probe(ctx context.Context, owner, repo string) (*Repository, error) {
	r, err := c.GetRepository(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	if !r.Permissions.Push {
		return r, &models.Error{
			Kind:       models.KindPermission,
			Op:         "probe",
			Path:       owner + "/" + repo,
			StatusCode: http.StatusOK,
			Err:        fmt.Errorf("token has no push permission"),
		}
	}
	return r, nil
}

// DownloadZipball streams the archive of ref into w and returns the byte count.
// progress, when set, is called after every chunk with the bytes written so far
// and the announced total (-1 when the host does not send one).
func (c *Client) DownloadZipball(ctx context.Context, owner, repo, ref string, w io.Writer, progress func(written, total int64)) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	p := repoPath(owner, repo) + "/zipball/" + escapeRef(ref)
	resp, err := c.send(ctx, http.MethodGet, p, "download zipball", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, c.classify("download zipball", p, resp)
	}

	cw := &countingWriter{w: w, total: resp.ContentLength, progress: progress}
	n, err := io.Copy(cw, resp.Body)
	if err != nil {
		if cw.err != nil {
			return n, models.IOError("write zipball", p, cw.err)
		}
		return n, models.NewError(models.KindNetwork, "download zipball", p, err)
	}
	return n, nil
}

// GetRef resolves refs/heads/{branch} to a commit SHA
func (c *Client) GetRef(ctx context.Context, owner, repo, branch string) (string, error) {
	var out Reference
	p := repoPath(owner, repo) + "/git/ref/heads/" + escapeRef(branch)
	if err := c.doJSON(ctx, http.MethodGet, p, "get ref", nil, &out, http.StatusOK); err != nil {
		return "", err
	}
	if out.Object.SHA == "" {
		return "", models.ParseError("get ref", p, fmt.Errorf("response has no object sha"))
	}
	return out.Object.SHA, nil
}

// GetCommit fetches a commit from the git data API
func (c *Client) GetCommit(ctx context.Context, owner, repo, sha string) (*Commit, error) {
	var out Commit
	p := repoPath(owner, repo) + "/git/commits/" + url.PathEscape(sha)
	if err := c.doJSON(ctx, http.MethodGet, p, "get commit", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	if out.Tree.SHA == "" {
		return nil, models.ParseError("get commit", p, fmt.Errorf("response has no tree sha"))
	}
	return &out, nil
}

// CreateBlob uploads content as a base64 blob and returns its SHA
func (c *Client) CreateBlob(ctx context.Context, owner, repo string, content []byte) (string, error) {
	in := blobRequest{
		Content:  base64.StdEncoding.EncodeToString(content),
		Encoding: "base64",
	}
	var out shaResponse
	p := repoPath(owner, repo) + "/git/blobs"
	if err := c.doJSON(ctx, http.MethodPost, p, "create blob", in, &out, http.StatusCreated); err != nil {
		return "", err
	}
	return out.required("create blob", p)
}

// CreateTree creates a tree on top of baseTree and returns its SHA.
// Entries with a nil SHA delete the path from the base tree.
func (c *Client) CreateTree(ctx context.Context, owner, repo, baseTree string, entries []TreeEntry) (string, error) {
	in := treeRequest{BaseTree: baseTree, Tree: entries}
	var out shaResponse
	p := repoPath(owner, repo) + "/git/trees"
	if err := c.doJSON(ctx, http.MethodPost, p, "create tree", in, &out, http.StatusCreated); err != nil {
		return "", err
	}
	return out.required("create tree", p)
}

// CreateCommit creates a commit object and returns its SHA
func (c *Client) CreateCommit(ctx context.Context, owner, repo, message, tree string, parents []string) (string, error) {
	in := commitRequest{Message: message, Tree: tree, Parents: parents}
	var out shaResponse
	p := repoPath(owner, repo) + "/git/commits"
	if err := c.doJSON(ctx, http.MethodPost, p, "create commit", in, &out, http.StatusCreated); err != nil {
		return "", err
	}
	return out.required("create commit", p)
}

// UpdateRef moves refs/heads/{branch} to sha. Without force the host rejects
// anything that is not a fast-forward with 422.
func (c *Client) UpdateRef(ctx context.Context, owner, repo, branch, sha string, force bool) error {
	in := refUpdateRequest{SHA: sha, Force: force}
	p := repoPath(owner, repo) + "/git/refs/heads/" + escapeRef(branch)
	return c.doJSON(ctx, http.MethodPatch, p, "update ref", in, nil, http.StatusOK)
}

// doJSON sends one JSON request under the per-call timeout and decodes the response into out
func (c *Client) doJSON(ctx context.Context, method, p, op string, in, out any, want int) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.send(ctx, method, p, op, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.classify(op, p, resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return models.NewError(models.KindNetwork, op, p, err)
		}
		return models.ParseError(op, p, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, p, op string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+p, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, models.NewError(models.KindNetwork, op, p, err)
	}

	c.observe(ctx, op, resp)
	c.logger.Debug(ctx, "api call", logging.Fields{
		"method":   method,
		"path":     p,
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	})
	return resp, nil
}

// observe records the rate-limit headers of a response
func (c *Client) observe(ctx context.Context, op string, resp *http.Response) {
	rl, ok := parseRateLimit(resp.Header)
	if !ok {
		return
	}
	c.mu.Lock()
	c.rateLimit = rl
	c.mu.Unlock()

	fields := logging.Fields{
		"op":        op,
		"limit":     rl.Limit,
		"remaining": rl.Remaining,
		"reset":     rl.Reset.Format(time.RFC3339),
	}
	if rl.Remaining < lowRateLimit {
		c.logger.Warn(ctx, "api rate limit nearly exhausted", fields)
		return
	}
	c.logger.Debug(ctx, "api rate limit", fields)
}

func parseRateLimit(h http.Header) (RateLimit, bool) {
	remaining := h.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return RateLimit{}, false
	}
	rl := RateLimit{Known: true}
	rl.Remaining, _ = strconv.Atoi(remaining)
	rl.Limit, _ = strconv.Atoi(h.Get("X-RateLimit-Limit"))
	if reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		rl.Reset = time.Unix(reset, 0).UTC()
	}
	return rl, true
}

func repoPath(owner, repo string) string {
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
}

// escapeRef escapes each segment of a ref name, keeping its slashes
func escapeRef(ref string) string {
	parts := strings.Split(ref, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

type countingWriter struct {
	w        io.Writer
	written  int64
	total    int64
	progress func(written, total int64)
	err      error // last write failure, to tell local errors from transport ones
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	if err != nil {
		cw.err = err
	}
	cw.written += int64(n)
	if cw.progress != nil {
		cw.progress(cw.written, cw.total)
	}
	return n, err
}

// Package remote publishes a set of file changes as one commit on a branch,
// through the host's git data API.
package remote

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"golang.org/x/sync/errgroup"

	"github.com/sdejongh/branchsync/internal/platform"
	"github.com/sdejongh/branchsync/pkg/github"
	"github.com/sdejongh/branchsync/pkg/logging"
	"github.com/sdejongh/branchsync/pkg/models"
	"github.com/sdejongh/branchsync/pkg/ratelimit"
)

// API is the subset of the host client the pipeline drives
type API interface {
	Probe(ctx context.Context, owner, repo string) (*github.Repository, error)
	GetRef(ctx context.Context, owner, repo, branch string) (string, error)
	GetCommit(ctx context.Context, owner, repo, sha string) (*github.Commit, error)
	CreateBlob(ctx context.Context, owner, repo string, content []byte) (string, error)
	CreateTree(ctx context.Context, owner, repo, baseTree string, entries []github.TreeEntry) (string, error)
	CreateCommit(ctx context.Context, owner, repo, message, tree string, parents []string) (string, error)
	UpdateRef(ctx context.Context, owner, repo, branch, sha string, force bool) error
}

// Source provides the content and mode of the files to upload.
// *archive.Reader satisfies it.
type Source interface {
	ReadEntry(name string) ([]byte, error)
	Mode(name string) (os.FileMode, error)
}

// Request describes one commit to publish
type Request struct {
	Owner   string
	Repo    string
	Branch  string
	Message string
	Upload  []string // files to create or overwrite, read from the Source
	Remove  []string // files to delete from the branch
}

// BlobInfo describes one uploaded blob
type BlobInfo struct {
	Path string
	SHA  string
	Mode filemode.FileMode
	Size int64
}

// Result is what a pipeline run produced, up to the phase it reached
type Result struct {
	Phase         Phase
	HeadSHA       string
	BaseTree      string
	TreeSHA       string
	CommitSHA     string
	Blobs         []BlobInfo
	BytesUploaded int64
}

// Event is sent to the observer on every phase transition and for every created blob
type Event struct {
	Phase     Phase
	Path      string // set for blob events
	Completed int
	Total     int
	Err       error // set when Phase is PhaseFailed
}

// Pipeline runs PROBE → GET_HEAD → CREATE_BLOBS → CREATE_TREE → CREATE_COMMIT → UPDATE_REF
type Pipeline struct {
	api      API
	workers  int
	limiter  *ratelimit.Limiter
	logger   logging.Logger
	observer func(Event)

	mu    sync.Mutex
	state Phase
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithWorkers bounds the number of concurrent blob uploads
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLimiter throttles blob uploads
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(p *Pipeline) { p.limiter = l }
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithObserver registers a callback for phase transitions and blob progress.
// Blob events may arrive from several goroutines at once.
func WithObserver(fn func(Event)) Option {
	return func(p *Pipeline) { p.observer = fn }
}

// New creates a pipeline driving api
func New(api API, opts ...Option) *Pipeline {
	p := &Pipeline{
		api:     api,
		workers: 4,
		logger:  logging.NewNullLogger(),
		state:   PhaseIdle,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the phase the pipeline is in
func (p *Pipeline) State() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Run publishes req as one commit whose parent is the current branch head.
// The ref is never force-updated. Failures return a *PipelineError naming the phase.
func (p *Pipeline) Run(ctx context.Context, req Request, src Source) (*Result, error) {
	result := &Result{}
	log := p.logger.WithFields(logging.Fields{
		"repository": req.Owner + "/" + req.Repo,
		"ref":        plumbing.NewBranchReferenceName(req.Branch).String(),
	})

	if len(req.Upload) == 0 && len(req.Remove) == 0 {
		log.Info(ctx, "nothing to publish", nil)
		p.enter(ctx, log, PhaseDone)
		result.Phase = PhaseDone
		return result, nil
	}

	fail := func(phase Phase, err error) (*Result, error) {
		perr := failAt(phase, err)
		result.Phase = PhaseFailed
		p.setState(PhaseFailed)
		log.Error(ctx, "pipeline failed", err, logging.Fields{
			"phase":       string(phase),
			"status_code": perr.StatusCode,
		})
		p.notify(Event{Phase: PhaseFailed, Err: perr})
		return result, perr
	}

	if err := p.validate(req); err != nil {
		return fail(PhaseProbe, err)
	}

	p.enter(ctx, log, PhaseProbe)
	if _, err := p.api.Probe(ctx, req.Owner, req.Repo); err != nil {
		return fail(PhaseProbe, err)
	}

	p.enter(ctx, log, PhaseGetHead)
	head, err := p.api.GetRef(ctx, req.Owner, req.Repo, req.Branch)
	if err != nil {
		return fail(PhaseGetHead, err)
	}
	if !plumbing.IsHash(head) {
		return fail(PhaseGetHead, models.ParseError("get ref", req.Branch, fmt.Errorf("invalid head sha %q", head)))
	}
	commit, err := p.api.GetCommit(ctx, req.Owner, req.Repo, head)
	if err != nil {
		return fail(PhaseGetHead, err)
	}
	result.HeadSHA = head
	result.BaseTree = commit.Tree.SHA

	p.enter(ctx, log, PhaseCreateBlobs)
	blobs, uploaded, err := p.createBlobs(ctx, req, src)
	result.BytesUploaded = uploaded
	if err != nil {
		return fail(PhaseCreateBlobs, err)
	}
	result.Blobs = blobs

	p.enter(ctx, log, PhaseCreateTree)
	tree, err := p.api.CreateTree(ctx, req.Owner, req.Repo, result.BaseTree, treeEntries(blobs, req.Remove))
	if err != nil {
		return fail(PhaseCreateTree, err)
	}
	result.TreeSHA = tree

	p.enter(ctx, log, PhaseCreateCommit)
	sha, err := p.api.CreateCommit(ctx, req.Owner, req.Repo, req.Message, tree, []string{head})
	if err != nil {
		return fail(PhaseCreateCommit, err)
	}
	result.CommitSHA = sha

	p.enter(ctx, log, PhaseUpdateRef)
	if err := p.api.UpdateRef(ctx, req.Owner, req.Repo, req.Branch, sha, false); err != nil {
		if models.StatusCodeOf(err) == http.StatusUnprocessableEntity {
			err = fmt.Errorf("%w: %w", ErrNotFastForward, err)
		}
		return fail(PhaseUpdateRef, err)
	}

	p.enter(ctx, log, PhaseDone)
	result.Phase = PhaseDone
	log.Info(ctx, "commit published", logging.Fields{
		"commit":  sha,
		"parent":  head,
		"blobs":   len(blobs),
		"removed": len(req.Remove),
	})
	return result, nil
}

func (p *Pipeline) validate(req Request) error {
	if req.Owner == "" || req.Repo == "" || req.Branch == "" {
		return fmt.Errorf("owner, repository and branch are required")
	}
	if req.Message == "" {
		return fmt.Errorf("commit message is required")
	}
	for _, list := range [][]string{req.Upload, req.Remove} {
		for _, path := range list {
			if err := platform.ValidateRelPath(path); err != nil {
				return models.NewError(models.KindIO, "publish", path, err)
			}
		}
	}
	return nil
}

// createBlobs uploads every file of req.Upload in parallel. The batch only succeeds
// when the completion counter reaches the file count and no upload failed; the first
// failure cancels the uploads still in flight.
func (p *Pipeline) createBlobs(ctx context.Context, req Request, src Source) ([]BlobInfo, int64, error) {
	total := len(req.Upload)
	blobs := make([]BlobInfo, total)

	var completed atomic.Int32
	var failed atomic.Bool
	var uploaded atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, path := range req.Upload {
		g.Go(func() error {
			if failed.Load() {
				return nil
			}
			info, err := p.createBlob(gctx, req, src, path)
			if err != nil {
				failed.Store(true)
				return err
			}
			blobs[i] = info
			uploaded.Add(info.Size)

			n := completed.Add(1)
			p.notify(Event{Phase: PhaseCreateBlobs, Path: path, Completed: int(n), Total: total})
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		return nil, uploaded.Load(), err
	}
	if failed.Load() || int(completed.Load()) != total {
		return nil, uploaded.Load(), fmt.Errorf("%w: %d of %d created", ErrIncompleteBatch, completed.Load(), total)
	}
	return blobs, uploaded.Load(), nil
}

func (p *Pipeline) createBlob(ctx context.Context, req Request, src Source, path string) (BlobInfo, error) {
	if err := ctx.Err(); err != nil {
		return BlobInfo{}, err
	}

	content, err := src.ReadEntry(path)
	if err != nil {
		return BlobInfo{}, models.IOError("read blob", path, err)
	}
	osMode, err := src.Mode(path)
	if err != nil {
		return BlobInfo{}, models.IOError("read blob mode", path, err)
	}
	mode, err := filemode.NewFromOSFileMode(osMode)
	if err != nil || !mode.IsFile() {
		mode = filemode.Regular
	}

	if err := p.limiter.Take(ctx, int64(len(content))); err != nil {
		return BlobInfo{}, err
	}

	sha, err := p.api.CreateBlob(ctx, req.Owner, req.Repo, content)
	if err != nil {
		return BlobInfo{}, fmt.Errorf("blob %s: %w", path, err)
	}
	if want := plumbing.ComputeHash(plumbing.BlobObject, content).String(); sha != want {
		return BlobInfo{}, &models.Error{
			Kind: models.KindAPI,
			Op:   "create blob",
			Path: path,
			Err:  fmt.Errorf("%w: host returned %s, expected %s", ErrBlobMismatch, sha, want),
		}
	}

	p.logger.Debug(ctx, "blob created", logging.Fields{"path": path, "sha": sha, "size": len(content)})
	return BlobInfo{Path: path, SHA: sha, Mode: mode, Size: int64(len(content))}, nil
}

// treeEntries builds the create-tree payload, sorted by path.
// Removed paths become entries with a null SHA.
func treeEntries(blobs []BlobInfo, removed []string) []github.TreeEntry {
	entries := make([]github.TreeEntry, 0, len(blobs)+len(removed))
	for _, b := range blobs {
		entries = append(entries, github.BlobEntry(b.Path, ModeString(b.Mode), b.SHA))
	}
	for _, path := range removed {
		entries = append(entries, github.DeleteEntry(path, ModeString(filemode.Regular)))
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
	return entries
}

// ModeString renders a git file mode as the API expects it, e.g. "100644"
func ModeString(m filemode.FileMode) string {
	return strconv.FormatUint(uint64(m), 8)
}

func (p *Pipeline) enter(ctx context.Context, log logging.Logger, phase Phase) {
	p.setState(phase)
	log.Info(ctx, "pipeline phase", logging.Fields{"phase": string(phase)})
	p.notify(Event{Phase: phase})
}

func (p *Pipeline) setState(phase Phase) {
	p.mu.Lock()
	p.state = phase
	p.mu.Unlock()
}

func (p *Pipeline) notify(e Event) {
	if p.observer != nil {
		p.observer(e)
	}
}

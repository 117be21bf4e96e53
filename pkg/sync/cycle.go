package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sdejongh/branchsync/internal/platform"
	"github.com/sdejongh/branchsync/pkg/apply"
	"github.com/sdejongh/branchsync/pkg/archive"
	"github.com/sdejongh/branchsync/pkg/diff"
	"github.com/sdejongh/branchsync/pkg/digest"
	"github.com/sdejongh/branchsync/pkg/logging"
	"github.com/sdejongh/branchsync/pkg/manifest"
	"github.com/sdejongh/branchsync/pkg/models"
	"github.com/sdejongh/branchsync/pkg/output"
	"github.com/sdejongh/branchsync/pkg/ratelimit"
	"github.com/sdejongh/branchsync/pkg/remote"
	"github.com/sdejongh/branchsync/pkg/storage"
)

// cycle carries the state handed from one phase to the next
type cycle struct {
	engine  *Engine
	op      *models.CycleOperation
	report  *models.CycleReport
	log     logging.Logger
	layout  platform.Layout
	builder *manifest.Builder
	limiter *ratelimit.Limiter
	release func() error

	project   storage.Backend
	extracted storage.Backend
	updated   storage.Backend

	local   *manifest.Manifest
	remote  *manifest.Manifest
	changes []models.ChangeRecord
}

type stage struct {
	phase Phase
	run   func(ctx context.Context) error
}

func newCycle(e *Engine, log logging.Logger, report *models.CycleReport) *cycle {
	op := e.operation
	return &cycle{
		engine: e,
		op:     op,
		report: report,
		log:    log,
		layout: platform.NewLayout(op.ScratchPath),
		builder: manifest.NewBuilder(
			digest.NewHasher(op.BufferSize),
			manifest.WithExclude(op.ExcludePatterns),
			manifest.WithWorkers(op.MaxWorkers),
			manifest.WithLogger(log),
		),
		limiter: ratelimit.NewLimiter(op.BandwidthLimit),
	}
}

func (c *cycle) run(ctx context.Context) error {
	defer c.unlock(ctx)

	analysis := []stage{
		{PhasePrepareScratch, c.prepareScratch},
		{PhaseDownload, c.download},
		{PhaseUnpack, c.unpack},
		{PhaseRemoteManifest, c.buildRemoteManifest},
		{PhaseLocalManifest, c.ensureLocalManifest},
		{PhaseDiff, c.diff},
	}
	if err := c.runStages(ctx, analysis); err != nil {
		return err
	}

	if c.op.AnalyzeOnly {
		c.log.Info(ctx, "Analyze-only mode, stopping after diff", logging.Fields{
			"changes":     len(c.changes),
			"change_list": c.layout.ChangeList(),
		})
		return nil
	}

	reconcile := []stage{
		{PhaseApply, c.apply},
		{PhaseRebuildManifests, c.rebuildManifests},
		{PhaseRepack, c.repack},
	}
	if c.op.Direction == models.DirectionPush {
		reconcile = append(reconcile, stage{PhaseUpload, c.upload})
	}
	return c.runStages(ctx, reconcile)
}

func (c *cycle) runStages(ctx context.Context, stages []stage) error {
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return &PhaseError{Phase: s.phase, Err: err}
		}

		c.log.Info(ctx, "Phase started", logging.Fields{"phase": string(s.phase)})
		output.Notify(c.engine.formatter, output.ProgressUpdate{Type: "phase_start", Phase: string(s.phase)})
		start := time.Now()

		if err := s.run(ctx); err != nil {
			output.Notify(c.engine.formatter, output.ProgressUpdate{Type: "phase_error", Phase: string(s.phase), Error: err})
			return &PhaseError{Phase: s.phase, Err: err}
		}

		c.report.Phases = append(c.report.Phases, string(s.phase))
		c.log.Info(ctx, "Phase completed", logging.Fields{
			"phase":    string(s.phase),
			"duration": time.Since(start).String(),
		})
		output.Notify(c.engine.formatter, output.ProgressUpdate{Type: "phase_complete", Phase: string(s.phase)})
	}
	return nil
}

func (c *cycle) unlock(ctx context.Context) {
	if c.release == nil {
		return
	}
	if err := c.release(); err != nil {
		c.log.Warn(ctx, "Failed to release scratch lock", logging.Fields{"error": err.Error()})
	}
}

func (c *cycle) prepareScratch(ctx context.Context) error {
	release, err := c.layout.Lock(c.op.ID)
	if err != nil {
		return err
	}
	c.release = release

	if err := c.layout.Reset(); err != nil {
		return models.IOError("prepare scratch", c.layout.Root, err)
	}

	project, err := openDir(c.op.ProjectPath)
	if err != nil {
		return err
	}
	extracted, err := openDir(c.layout.ExtractedDir())
	if err != nil {
		return err
	}
	updated, err := openDir(c.layout.UpdatedDir())
	if err != nil {
		return err
	}
	c.project, c.extracted, c.updated = project, extracted, updated
	return nil
}

func (c *cycle) download(ctx context.Context) error {
	path := c.layout.DownloadArchive()
	f, err := os.Create(path)
	if err != nil {
		return models.IOError("download", path, err)
	}

	w := ratelimit.NewWriter(ctx, f, c.limiter)
	n, err := c.engine.client.DownloadZipball(ctx, c.op.Owner, c.op.Repo, c.op.Branch, w, func(written, total int64) {
		output.Notify(c.engine.formatter, output.ProgressUpdate{
			Type:         "transfer_progress",
			Phase:        string(PhaseDownload),
			FilePath:     path,
			BytesWritten: written,
			TotalBytes:   total,
		})
	})
	closeErr := f.Close()
	c.report.Stats.BytesDownloaded = n
	if err != nil {
		return err
	}
	if closeErr != nil {
		return models.IOError("download", path, closeErr)
	}

	c.log.Info(ctx, "Branch archive downloaded", logging.Fields{"bytes": n, "path": path})
	return nil
}

func (c *cycle) unpack(ctx context.Context) error {
	path := c.layout.DownloadArchive()
	f, err := os.Open(path)
	if err != nil {
		return models.IOError("unpack", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return models.IOError("unpack", path, err)
	}

	stats, err := archive.Unpack(ctx, f, info.Size(), c.extracted, archive.Options{StripTopLevel: true})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return models.IOError("unpack", path, err)
	}

	c.log.Info(ctx, "Branch archive unpacked", logging.Fields{
		"files": stats.Files,
		"bytes": stats.Bytes,
		"root":  stats.Root,
	})
	return nil
}

func (c *cycle) buildRemoteManifest(ctx context.Context) error {
	m, stats, err := c.builder.Build(ctx, c.extracted, manifest.KindRemote, c.layout.ExtractedDir())
	if err != nil {
		return err
	}
	if err := manifest.Save(c.layout.RemoteManifest(), m); err != nil {
		return err
	}
	c.remote = m
	c.report.Stats.RemoteFiles = stats.Files
	return nil
}

func (c *cycle) ensureLocalManifest(ctx context.Context) error {
	path := c.layout.LocalManifest()
	if c.op.ReuseLocalManifest {
		m, err := manifest.Load(path)
		switch {
		case err == nil && m.Metadata.Root == c.op.ProjectPath:
			c.log.Info(ctx, "Reusing persisted local manifest", logging.Fields{"path": path, "files": m.Metadata.TotalFiles})
			c.local = m
			c.report.Stats.LocalFiles = m.Metadata.TotalFiles
			return nil
		case err == nil:
			c.log.Info(ctx, "Persisted local manifest belongs to another project, rebuilding", logging.Fields{"root": m.Metadata.Root})
		case !errors.Is(err, models.ErrNotFound):
			c.log.Warn(ctx, "Persisted local manifest is unusable, rebuilding", logging.Fields{"error": err.Error()})
		}
	}

	m, stats, err := c.builder.Build(ctx, c.project, manifest.KindLocal, c.op.ProjectPath)
	if err != nil {
		return err
	}
	if err := manifest.Save(path, m); err != nil {
		return err
	}
	c.local = m
	c.report.Stats.LocalFiles = stats.Files
	return nil
}

func (c *cycle) diff(ctx context.Context) error {
	priority := c.op.Direction.Priority()
	if c.op.Direction == models.DirectionPush {
		c.changes = diff.Diff(c.remote, c.local, priority)
	} else {
		c.changes = diff.Diff(c.local, c.remote, priority)
	}
	c.report.Changes = c.changes

	if err := diff.SaveChangeList(c.layout.ChangeList(), diff.NewChangeList(c.changes, c.engine.now())); err != nil {
		return err
	}

	s := diff.Summarize(c.changes)
	c.log.Info(ctx, "Differences computed", logging.Fields{
		"added":    s.Added,
		"updated":  s.Updated,
		"removed":  s.Removed,
		"priority": string(priority),
	})
	return nil
}

func (c *cycle) apply(ctx context.Context) error {
	source, dest := c.extracted, c.project
	if c.op.Direction == models.DirectionPush {
		if err := c.seedUpdated(ctx); err != nil {
			return err
		}
		source, dest = c.project, c.updated
	}

	applier := apply.New(
		apply.WithWorkers(c.op.MaxWorkers),
		apply.WithLimiter(c.limiter),
		apply.WithLogger(c.log),
		apply.WithFormatter(c.engine.formatter, string(PhaseApply)),
	)
	result, err := applier.Apply(ctx, c.changes, source, dest)
	c.report.Stats.ChangesApplied = result.Applied
	c.report.Stats.ChangesFailed = result.Failed
	if err != nil {
		return err
	}

	for _, fe := range result.Errors {
		c.report.Errors = append(c.report.Errors, models.CycleError{
			Phase:     string(PhaseApply),
			FilePath:  fe.Path,
			Kind:      models.KindOf(fe.Err),
			Error:     fe.Err.Error(),
			Timestamp: c.engine.now(),
		})
	}
	if result.Failed > 0 {
		return fmt.Errorf("%w: %d of %d failed", ErrChangesFailed, result.Failed, len(c.changes))
	}
	return nil
}

// seedUpdated copies the unpacked branch into updated/ so local changes can be applied on top
func (c *cycle) seedUpdated(ctx context.Context) error {
	paths := c.remote.Paths()
	seed := make([]models.ChangeRecord, 0, len(paths))
	for _, p := range paths {
		seed = append(seed, models.ChangeRecord{
			Action:   models.ActionAdd,
			Path:     p,
			Reason:   models.ReasonNewFile,
			Priority: models.PriorityRemote,
		})
	}

	result, err := apply.New(apply.WithWorkers(c.op.MaxWorkers), apply.WithLogger(c.log)).
		Apply(ctx, seed, c.extracted, c.updated)
	if err != nil {
		return err
	}
	if result.Failed > 0 {
		first := result.Errors[0]
		return models.IOError("seed updated tree", first.Path, first.Err)
	}
	return nil
}

func (c *cycle) rebuildManifests(ctx context.Context) error {
	if c.op.Direction == models.DirectionPush {
		rebuilt, _, err := c.builder.Build(ctx, c.updated, manifest.KindRemote, c.layout.UpdatedDir())
		if err != nil {
			return err
		}
		if !rebuilt.Equal(c.local) {
			return ErrManifestMismatch
		}
		if err := manifest.Save(c.layout.RemoteManifest(), rebuilt); err != nil {
			return err
		}
		c.remote = rebuilt
		return manifest.Save(c.layout.LocalManifest(), c.local)
	}

	rebuilt, stats, err := c.builder.Build(ctx, c.project, manifest.KindLocal, c.op.ProjectPath)
	if err != nil {
		return err
	}
	if !rebuilt.Equal(c.remote) {
		return ErrManifestMismatch
	}
	if err := manifest.Save(c.layout.LocalManifest(), rebuilt); err != nil {
		return err
	}
	c.local = rebuilt
	c.report.Stats.LocalFiles = stats.Files
	return manifest.Save(c.layout.RemoteManifest(), c.remote)
}

// repack archives the added and updated files of the target tree
func (c *cycle) repack(ctx context.Context) error {
	target := c.op.ProjectPath
	if c.op.Direction == models.DirectionPush {
		target = c.layout.UpdatedDir()
	}

	copies, _ := diff.Split(c.changes)
	paths := make([]string, 0, len(copies))
	for _, rec := range copies {
		paths = append(paths, rec.Path)
	}

	path := c.layout.UploadArchive()
	n, err := archive.PackFile(path, archive.FilesUnder(target, paths))
	if err != nil {
		return models.IOError("repack", path, err)
	}
	c.log.Info(ctx, "Changed files repacked", logging.Fields{"files": n, "path": path})
	return nil
}

func (c *cycle) upload(ctx context.Context) error {
	r, err := archive.Open(c.layout.UploadArchive())
	if err != nil {
		return models.IOError("upload", c.layout.UploadArchive(), err)
	}
	defer r.Close()

	copies, removals := diff.Split(c.changes)
	req := remote.Request{
		Owner:   c.op.Owner,
		Repo:    c.op.Repo,
		Branch:  c.op.Branch,
		Message: c.op.CommitMessage,
		Upload:  make([]string, 0, len(copies)),
		Remove:  make([]string, 0, len(removals)),
	}
	for _, rec := range copies {
		req.Upload = append(req.Upload, rec.Path)
	}
	for _, rec := range removals {
		req.Remove = append(req.Remove, rec.Path)
	}

	pipeline := remote.New(c.engine.client,
		remote.WithWorkers(c.op.MaxWorkers),
		remote.WithLimiter(c.limiter),
		remote.WithLogger(c.log),
		remote.WithObserver(func(ev remote.Event) {
			if ev.Path == "" {
				return
			}
			output.Notify(c.engine.formatter, output.ProgressUpdate{
				Type:        "blob_created",
				Phase:       string(PhaseUpload),
				FilePath:    ev.Path,
				CurrentFile: ev.Completed,
				TotalFiles:  ev.Total,
			})
		}),
	)

	result, err := pipeline.Run(ctx, req, r)
	if result != nil {
		c.report.Stats.BlobsCreated = len(result.Blobs)
		c.report.Stats.BytesUploaded = result.BytesUploaded
	}
	if err != nil {
		return err
	}
	c.report.CommitSHA = result.CommitSHA
	return nil
}

// openDir opens an existing directory as a storage backend
func openDir(path string) (storage.Backend, error) {
	b, err := storage.NewLocal(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, models.NotFoundError("open directory", path, err)
		}
		return nil, models.IOError("open directory", path, err)
	}
	return b, nil
}

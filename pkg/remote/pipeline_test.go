package remote

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdejongh/branchsync/pkg/github"
	"github.com/sdejongh/branchsync/pkg/github/githubtest"
	"github.com/sdejongh/branchsync/pkg/models"
	"github.com/sdejongh/branchsync/pkg/ratelimit"
)

type memSource map[string]string

func (m memSource) ReadEntry(name string) ([]byte, error) {
	content, ok := m[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return []byte(content), nil
}

func (m memSource) Mode(name string) (os.FileMode, error) {
	if _, ok := m[name]; !ok {
		return 0, os.ErrNotExist
	}
	if len(name) > 3 && name[len(name)-3:] == ".sh" {
		return 0755, nil
	}
	return 0644, nil
}

func (m memSource) paths() []string {
	var out []string
	for p := range m {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func setup(t *testing.T, files map[string]string) (*githubtest.Server, *github.Client) {
	t.Helper()
	srv := githubtest.New("octo", "site", "main", files)
	t.Cleanup(srv.Close)
	return srv, github.New(srv.URL(), srv.Token)
}

func request(upload []string, remove []string) Request {
	return Request{
		Owner:   "octo",
		Repo:    "site",
		Branch:  "main",
		Message: "Update from branchsync",
		Upload:  upload,
		Remove:  remove,
	}
}

func TestRunPublishesOneCommit(t *testing.T) {
	srv, client := setup(t, map[string]string{"keep.md": "k", "page.md": "v1", "old.md": "o"})
	oldHead := srv.Head()

	src := memSource{"page.md": "v2", "new/run.sh": "#!/bin/sh\n"}

	var mu sync.Mutex
	var phases []Phase
	blobEvents := 0
	p := New(client, WithWorkers(2), WithObserver(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if e.Path != "" {
			blobEvents++
			return
		}
		phases = append(phases, e.Phase)
	}))

	result, err := p.Run(context.Background(), request(src.paths(), []string{"old.md"}), src)
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, result.Phase)
	assert.Equal(t, PhaseDone, p.State())
	assert.Equal(t, oldHead.SHA, result.HeadSHA)
	assert.Equal(t, oldHead.Tree, result.BaseTree)
	assert.Len(t, result.Blobs, 2)
	assert.Equal(t, int64(len("v2")+len("#!/bin/sh\n")), result.BytesUploaded)

	head := srv.Head()
	assert.Equal(t, result.CommitSHA, head.SHA)
	assert.Equal(t, []string{oldHead.SHA}, head.Parents)
	assert.Equal(t, "Update from branchsync", head.Message)
	assert.Equal(t, map[string]string{"keep.md": "k", "page.md": "v2", "new/run.sh": "#!/bin/sh\n"}, srv.Files())
	assert.Equal(t, "100755", srv.Mode("new/run.sh"))
	assert.Equal(t, "100644", srv.Mode("page.md"))

	assert.Equal(t, append(append([]Phase{}, Phases...), PhaseDone), phases)
	assert.Equal(t, 2, blobEvents)
	assert.Equal(t, 1, srv.CallCount("POST /repos/octo/site/git/commits"))
}

func TestRunEmptyChangeSetIsNoop(t *testing.T) {
	srv, client := setup(t, map[string]string{"a.txt": "a"})
	before := srv.Head().SHA

	result, err := New(client).Run(context.Background(), request(nil, nil), memSource{})
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, result.Phase)
	assert.Empty(t, result.CommitSHA)
	assert.Equal(t, before, srv.Head().SHA)
	assert.Empty(t, srv.Calls())
}

func TestRunBlobFailureNeverBuildsTree(t *testing.T) {
	srv, client := setup(t, map[string]string{"a.txt": "a"})
	before := srv.Head().SHA
	srv.FailBlob(2, http.StatusInternalServerError)

	src := memSource{"one.txt": "1", "two.txt": "2", "three.txt": "3"}
	p := New(client, WithWorkers(1))
	result, err := p.Run(context.Background(), request(src.paths(), nil), src)

	require.Error(t, err)
	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, PhaseCreateBlobs, perr.Phase)
	assert.Equal(t, http.StatusInternalServerError, perr.StatusCode)
	assert.Equal(t, PhaseFailed, result.Phase)
	assert.Equal(t, PhaseFailed, p.State())
	assert.Empty(t, result.Blobs)

	assert.Zero(t, srv.CallCount("POST /repos/octo/site/git/trees"))
	assert.Zero(t, srv.CallCount("POST /repos/octo/site/git/commits"))
	assert.Equal(t, before, srv.Head().SHA)
}

func TestRunBlobUploadsShareBandwidthLimit(t *testing.T) {
	srv, client := setup(t, map[string]string{"a.txt": "a"})

	const rate = 64 * 1024
	src := memSource{
		"one.bin":   strings.Repeat("1", 48*1024),
		"two.bin":   strings.Repeat("2", 48*1024),
		"three.bin": strings.Repeat("3", 48*1024),
	}
	p := New(client, WithWorkers(1), WithLimiter(ratelimit.NewLimiter(rate)))

	// 144 KiB against a 64 KiB burst leaves 80 KiB to wait for at 64 KiB/s
	start := time.Now()
	result, err := p.Run(context.Background(), request(src.paths(), nil), src)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, int64(3*48*1024), result.BytesUploaded)
	assert.Equal(t, 3, srv.CallCount("POST /repos/octo/site/git/blobs"))
	assert.GreaterOrEqual(t, elapsed, time.Second, "blob uploads were not throttled")
}

func TestRunBlobSHAMismatch(t *testing.T) {
	srv, client := setup(t, map[string]string{"a.txt": "a"})
	srv.CorruptBlobSHAs(true)

	src := memSource{"b.txt": "b"}
	_, err := New(client).Run(context.Background(), request(src.paths(), nil), src)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlobMismatch)
	assert.ErrorIs(t, err, models.ErrAPI)
	assert.Zero(t, srv.CallCount("POST /repos/octo/site/git/trees"))
}

func TestRunMissingSourceFile(t *testing.T) {
	_, client := setup(t, map[string]string{"a.txt": "a"})

	_, err := New(client).Run(context.Background(), request([]string{"ghost.txt"}, nil), memSource{})
	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, PhaseCreateBlobs, perr.Phase)
	assert.ErrorIs(t, err, models.ErrIO)
}

func TestRunProbeGatesEverything(t *testing.T) {
	tests := []struct {
		name   string
		status int
		push   bool
		want   error
		code   int
	}{
		{name: "Unauthorized", status: http.StatusUnauthorized, push: true, want: models.ErrAuth, code: 401},
		{name: "Forbidden", status: http.StatusForbidden, push: true, want: models.ErrPermission, code: 403},
		{name: "NotFound", status: http.StatusNotFound, push: true, want: models.ErrNotFound, code: 404},
		{name: "ReadOnly", push: false, want: models.ErrPermission, code: 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, client := setup(t, map[string]string{"a.txt": "a"})
			srv.SetPush(tt.push)
			if tt.status != 0 {
				srv.FailNext("GET /repos/octo/site", tt.status)
			}

			src := memSource{"a.txt": "changed"}
			_, err := New(client).Run(context.Background(), request(src.paths(), nil), src)

			var perr *PipelineError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, PhaseProbe, perr.Phase)
			assert.Equal(t, tt.code, perr.StatusCode)
			assert.ErrorIs(t, err, tt.want)

			assert.Zero(t, srv.CallCount("GET /repos/octo/site/git/ref"))
			assert.Zero(t, srv.CallCount("POST /repos/octo/site/git/blobs"))
		})
	}
}

func TestRunUnknownBranchFailsAtGetHead(t *testing.T) {
	_, client := setup(t, map[string]string{"a.txt": "a"})
	req := request([]string{"a.txt"}, nil)
	req.Branch = "missing"

	_, err := New(client).Run(context.Background(), req, memSource{"a.txt": "x"})
	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, PhaseGetHead, perr.Phase)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRunRefMovedIsNotFastForward(t *testing.T) {
	srv, client := setup(t, map[string]string{"a.txt": "a"})
	srv.FailNext("PATCH /repos/octo/site/git/refs/heads/main", http.StatusUnprocessableEntity)
	before := srv.Head().SHA

	src := memSource{"a.txt": "mine"}
	result, err := New(client).Run(context.Background(), request(src.paths(), nil), src)

	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, PhaseUpdateRef, perr.Phase)
	assert.Equal(t, http.StatusUnprocessableEntity, perr.StatusCode)
	assert.ErrorIs(t, err, ErrNotFastForward)
	assert.NotEmpty(t, result.CommitSHA, "the commit exists but the branch was not moved")
	assert.Equal(t, before, srv.Head().SHA)
}

func TestRunRejectsUnsafePaths(t *testing.T) {
	srv, client := setup(t, map[string]string{"a.txt": "a"})

	_, err := New(client).Run(context.Background(), request(nil, []string{"../outside"}), memSource{})
	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, PhaseProbe, perr.Phase)
	assert.Empty(t, srv.Calls())
}

func TestRunCancelled(t *testing.T) {
	srv, client := setup(t, map[string]string{"a.txt": "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(client).Run(ctx, request([]string{"a.txt"}, nil), memSource{"a.txt": "b"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, srv.Calls())
}

func TestTreeEntries(t *testing.T) {
	entries := treeEntries(
		[]BlobInfo{
			{Path: "z.sh", SHA: "1111111111111111111111111111111111111111", Mode: filemode.Executable},
			{Path: "a.md", SHA: "2222222222222222222222222222222222222222", Mode: filemode.Regular},
		},
		[]string{"m/gone.txt"},
	)

	require.Len(t, entries, 3)
	assert.Equal(t, "a.md", entries[0].Path)
	assert.Equal(t, "100644", entries[0].Mode)
	assert.Equal(t, "m/gone.txt", entries[1].Path)
	assert.Nil(t, entries[1].SHA)
	assert.Equal(t, "z.sh", entries[2].Path)
	assert.Equal(t, "100755", entries[2].Mode)
	require.NotNil(t, entries[2].SHA)
	assert.Equal(t, "1111111111111111111111111111111111111111", *entries[2].SHA)
}

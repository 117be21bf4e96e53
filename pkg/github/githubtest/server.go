// Package githubtest runs an in-process fake of the GitHub endpoints used by branchsync.
package githubtest

import (
	"archive/zip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
)

// Commit is a commit stored by the fake host
type Commit struct {
	SHA     string
	Tree    string
	Parents []string
	Message string
}

type treeEntry struct {
	Mode string
	SHA  string
}

// Server is a fake GitHub host serving a single repository
type Server struct {
	HS     *httptest.Server
	Owner  string
	Repo   string
	Branch string
	Token  string

	mu        sync.Mutex
	push      bool
	blobs     map[string][]byte
	trees     map[string]map[string]treeEntry
	commits   map[string]Commit
	refs      map[string]string
	calls     []string
	failures  map[string][]int
	blobFail  map[int]int
	blobCount int
	rateLeft  int
	badBlobs  bool
}

// New starts a fake host whose branch holds files (path -> content) in one commit
func New(owner, repo, branch string, files map[string]string) *Server {
	s := &Server{
		Owner:    owner,
		Repo:     repo,
		Branch:   branch,
		Token:    "test-token",
		push:     true,
		blobs:    make(map[string][]byte),
		trees:    make(map[string]map[string]treeEntry),
		commits:  make(map[string]Commit),
		refs:     make(map[string]string),
		failures: make(map[string][]int),
		blobFail: make(map[int]int),
		rateLeft: 4999,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}", s.wrap(s.handleRepo))
	mux.HandleFunc("GET /repos/{owner}/{repo}/zipball/{ref...}", s.wrap(s.handleZipball))
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/ref/{ref...}", s.wrap(s.handleGetRef))
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/commits/{sha}", s.wrap(s.handleGetCommit))
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/blobs", s.wrap(s.handleCreateBlob))
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/trees", s.wrap(s.handleCreateTree))
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/commits", s.wrap(s.handleCreateCommit))
	mux.HandleFunc("PATCH /repos/{owner}/{repo}/git/refs/{ref...}", s.wrap(s.handleUpdateRef))
	s.HS = httptest.NewServer(mux)

	s.Commit("Initial commit", files)
	return s
}

// Close shuts the server down
func (s *Server) Close() {
	s.HS.Close()
}

// URL returns the API base URL
func (s *Server) URL() string {
	return s.HS.URL
}

// SetPush controls the push permission reported by the repository probe
func (s *Server) SetPush(push bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.push = push
}

// SetRateLimitRemaining sets the X-RateLimit-Remaining value sent on every response
func (s *Server) SetRateLimitRemaining(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLeft = n
}

// FailNext makes the next calls to route answer with the given statuses, in order.
// route is "METHOD /path", for example "GET /repos/octo/site".
func (s *Server) FailNext(route string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = append(s.failures[route], statuses...)
}

// FailBlob makes the n-th blob upload (1-based) answer with status
func (s *Server) FailBlob(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobFail[n] = status
}

// CorruptBlobSHAs makes blob uploads answer with a SHA that does not match the content
func (s *Server) CorruptBlobSHAs(corrupt bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.badBlobs = corrupt
}

// Calls returns every request received, as "METHOD /path"
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CallCount returns how many requests matched the prefix "METHOD /path"
func (s *Server) CallCount(prefix string) int {
	n := 0
	for _, c := range s.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Head returns the commit the branch points to
func (s *Server) Head() Commit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits[s.refs[s.Branch]]
}

// CommitByID returns a stored commit
func (s *Server) CommitByID(sha string) (Commit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commits[sha]
	return c, ok
}

// Files returns path -> content of the branch head
func (s *Server) Files() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree := s.trees[s.commits[s.refs[s.Branch]].Tree]
	out := make(map[string]string, len(tree))
	for p, e := range tree {
		out[p] = string(s.blobs[e.SHA])
	}
	return out
}

// Mode returns the tree mode of a path at the branch head
func (s *Server) Mode(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trees[s.commits[s.refs[s.Branch]].Tree][path].Mode
}

// Commit replaces the branch content with files in a new commit, as if someone pushed it.
// Paths ending in .sh are stored as executables.
func (s *Server) Commit(message string, files map[string]string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree := make(map[string]treeEntry, len(files))
	for p, content := range files {
		sha := s.storeBlob([]byte(content))
		mode := filemode.Regular
		if strings.HasSuffix(p, ".sh") {
			mode = filemode.Executable
		}
		tree[p] = treeEntry{Mode: modeString(mode), SHA: sha}
	}
	treeSHA := s.storeTree(tree)

	var parents []string
	if head, ok := s.refs[s.Branch]; ok {
		parents = []string{head}
	}
	sha := s.storeCommit(treeSHA, parents, message)
	s.refs[s.Branch] = sha
	return sha
}

func (s *Server) storeBlob(content []byte) string {
	sha := plumbing.ComputeHash(plumbing.BlobObject, content).String()
	s.blobs[sha] = append([]byte(nil), content...)
	return sha
}

func (s *Server) storeTree(tree map[string]treeEntry) string {
	paths := make([]string, 0, len(tree))
	for p := range tree {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "%s %s\x00%s\n", tree[p].Mode, p, tree[p].SHA)
	}
	sha := plumbing.ComputeHash(plumbing.TreeObject, []byte(b.String())).String()
	s.trees[sha] = tree
	return sha
}

func (s *Server) storeCommit(tree string, parents []string, message string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "tree %s\n", tree)
	for _, p := range parents {
		fmt.Fprintf(&b, "parent %s\n", p)
	}
	fmt.Fprintf(&b, "serial %d\n\n%s", len(s.commits), message)
	sha := plumbing.ComputeHash(plumbing.CommitObject, []byte(b.String())).String()
	s.commits[sha] = Commit{SHA: sha, Tree: tree, Parents: parents, Message: message}
	return sha
}

// modeString renders a filemode the way the API does, e.g. "100644"
func modeString(m filemode.FileMode) string {
	return strconv.FormatUint(uint64(m), 8)
}

// wrap checks the repository, the token and injected failures before calling h
func (s *Server) wrap(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + r.URL.Path

		s.mu.Lock()
		s.calls = append(s.calls, route)
		rateLeft := s.rateLeft
		var injected int
		if queue := s.failures[route]; len(queue) > 0 {
			injected = queue[0]
			s.failures[route] = queue[1:]
		}
		s.mu.Unlock()

		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rateLeft))
		w.Header().Set("X-RateLimit-Reset", "1893456000")

		if injected != 0 {
			writeError(w, injected, http.StatusText(injected))
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.Token {
			writeError(w, http.StatusUnauthorized, "Bad credentials")
			return
		}
		if r.PathValue("owner") != s.Owner || r.PathValue("repo") != s.Repo {
			writeError(w, http.StatusNotFound, "Not Found")
			return
		}
		h(w, r)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleRepo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	push := s.push
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"full_name":      s.Owner + "/" + s.Repo,
		"default_branch": s.Branch,
		"private":        true,
		"permissions":    map[string]bool{"admin": false, "push": push, "pull": true},
	})
}

func (s *Server) handleZipball(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	head, ok := s.refs[r.PathValue("ref")]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	tree := s.trees[s.commits[head].Tree]
	contents := make(map[string][]byte, len(tree))
	for p, e := range tree {
		contents[p] = s.blobs[e.SHA]
	}
	s.mu.Unlock()

	paths := make([]string, 0, len(tree))
	for p := range tree {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	root := fmt.Sprintf("%s-%s-%s/", s.Owner, s.Repo, head[:7])
	w.Header().Set("Content-Type", "application/zip")
	w.WriteHeader(http.StatusOK)

	zw := zip.NewWriter(w)
	zw.Create(root)
	for _, p := range paths {
		hdr := &zip.FileHeader{Name: root + p, Method: zip.Deflate}
		hdr.SetMode(0644)
		if tree[p].Mode == modeString(filemode.Executable) {
			hdr.SetMode(0755)
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return
		}
		fw.Write(contents[p])
	}
	zw.Close()
}

func (s *Server) handleGetRef(w http.ResponseWriter, r *http.Request) {
	branch, ok := strings.CutPrefix(r.PathValue("ref"), "heads/")
	s.mu.Lock()
	sha, found := s.refs[branch]
	s.mu.Unlock()
	if !ok || !found {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ref":    "refs/heads/" + branch,
		"object": map[string]string{"sha": sha, "type": "commit"},
	})
}

func (s *Server) handleGetCommit(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	c, ok := s.commits[r.PathValue("sha")]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	parents := make([]map[string]string, 0, len(c.Parents))
	for _, p := range c.Parents {
		parents = append(parents, map[string]string{"sha": p})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sha":     c.SHA,
		"message": c.Message,
		"tree":    map[string]string{"sha": c.Tree},
		"parents": parents,
	})
}

func (s *Server) handleCreateBlob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Encoding != "base64" {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request")
		return
	}
	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid base64")
		return
	}

	s.mu.Lock()
	s.blobCount++
	status := s.blobFail[s.blobCount]
	corrupt := s.badBlobs
	var sha string
	if status == 0 {
		sha = s.storeBlob(content)
	}
	s.mu.Unlock()

	if status != 0 {
		writeError(w, status, http.StatusText(status))
		return
	}
	if corrupt {
		sha = plumbing.ComputeHash(plumbing.BlobObject, append(content, '!')).String()
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sha": sha})
}

func (s *Server) handleCreateTree(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BaseTree string `json:"base_tree"`
		Tree     []struct {
			Path string  `json:"path"`
			Mode string  `json:"mode"`
			Type string  `json:"type"`
			SHA  *string `json:"sha"`
		} `json:"tree"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tree := make(map[string]treeEntry)
	if req.BaseTree != "" {
		base, ok := s.trees[req.BaseTree]
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "base_tree is not a valid tree")
			return
		}
		for p, e := range base {
			tree[p] = e
		}
	}
	for _, e := range req.Tree {
		if e.SHA == nil {
			delete(tree, e.Path)
			continue
		}
		if _, ok := s.blobs[*e.SHA]; !ok {
			writeError(w, http.StatusUnprocessableEntity, "tree.sha "+*e.SHA+" is not a valid blob")
			return
		}
		tree[e.Path] = treeEntry{Mode: e.Mode, SHA: *e.SHA}
	}

	writeJSON(w, http.StatusCreated, map[string]string{"sha": s.storeTree(tree)})
}

func (s *Server) handleCreateCommit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string   `json:"message"`
		Tree    string   `json:"tree"`
		Parents []string `json:"parents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trees[req.Tree]; !ok {
		writeError(w, http.StatusUnprocessableEntity, "Tree SHA does not exist")
		return
	}
	for _, p := range req.Parents {
		if _, ok := s.commits[p]; !ok {
			writeError(w, http.StatusUnprocessableEntity, "Parent SHA does not exist")
			return
		}
	}

	writeJSON(w, http.StatusCreated, map[string]string{"sha": s.storeCommit(req.Tree, req.Parents, req.Message)})
}

func (s *Server) handleUpdateRef(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SHA   string `json:"sha"`
		Force bool   `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request")
		return
	}
	branch, ok := strings.CutPrefix(r.PathValue("ref"), "heads/")

	s.mu.Lock()
	defer s.mu.Unlock()

	head, found := s.refs[branch]
	if !ok || !found {
		writeError(w, http.StatusUnprocessableEntity, "Reference does not exist")
		return
	}
	c, exists := s.commits[req.SHA]
	if !exists {
		writeError(w, http.StatusUnprocessableEntity, "Object does not exist")
		return
	}
	if !req.Force && !s.descendsFrom(c, head) {
		writeError(w, http.StatusUnprocessableEntity, "Update is not a fast forward")
		return
	}

	s.refs[branch] = req.SHA
	writeJSON(w, http.StatusOK, map[string]any{
		"ref":    "refs/heads/" + branch,
		"object": map[string]string{"sha": req.SHA, "type": "commit"},
	})
}

// descendsFrom reports whether ancestor is reachable from c
func (s *Server) descendsFrom(c Commit, ancestor string) bool {
	queue := []Commit{c}
	seen := map[string]bool{}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.SHA == ancestor {
			return true
		}
		if seen[cur.SHA] {
			continue
		}
		seen[cur.SHA] = true
		for _, p := range cur.Parents {
			if pc, ok := s.commits[p]; ok {
				queue = append(queue, pc)
			}
		}
	}
	return false
}

package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGitHub emulates the slice of the contents API the store uses: GET for
// reads and listings, PUT for creates and sha-guarded updates.
type fakeGitHub struct {
	mu    sync.Mutex
	files map[string]fakeBlob // path -> blob
}

type fakeBlob struct {
	content string
	sha     string
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{files: map[string]fakeBlob{}}
}

func (f *fakeGitHub) server(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "/repos/demo/shop/contents"
		if !strings.HasPrefix(r.URL.Path, prefix) {
			http.NotFound(w, r)
			return
		}
		path := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, prefix), "/")

		switch r.Method {
		case http.MethodGet:
			f.handleGet(w, path)
		case http.MethodPut:
			f.handlePut(w, r, path)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
}

func (f *fakeGitHub) handleGet(w http.ResponseWriter, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if blob, ok := f.files[path]; ok {
		json.NewEncoder(w).Encode(map[string]string{
			"path":     path,
			"type":     "file",
			"content":  base64.StdEncoding.EncodeToString([]byte(blob.content)),
			"encoding": "base64",
			"sha":      blob.sha,
		})
		return
	}

	// Directory listing: everything one level below path.
	var items []map[string]string
	seen := map[string]bool{}
	dirPrefix := ""
	if path != "" {
		dirPrefix = path + "/"
	}
	for p := range f.files {
		if !strings.HasPrefix(p, dirPrefix) {
			continue
		}
		rest := strings.TrimPrefix(p, dirPrefix)
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			dir := dirPrefix + rest[:idx]
			if !seen[dir] {
				seen[dir] = true
				items = append(items, map[string]string{"path": dir, "type": "dir"})
			}
		} else {
			items = append(items, map[string]string{"path": p, "type": "file"})
		}
	}
	if len(items) == 0 && path != "" {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Not Found"}`))
		return
	}
	json.NewEncoder(w).Encode(items)
}

func (f *fakeGitHub) handlePut(w http.ResponseWriter, r *http.Request, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var req struct {
		Message string `json:"message"`
		Content string `json:"content"`
		SHA     string `json:"sha"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	existing, exists := f.files[path]
	switch {
	case exists && req.SHA == "":
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"Invalid request. \"sha\" wasn't supplied."}`))
		return
	case exists && req.SHA != existing.sha:
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"message":"is at a different sha"}`))
		return
	case !exists && req.SHA != "":
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Not Found"}`))
		return
	}

	decoded, _ := base64.StdEncoding.DecodeString(req.Content)
	newSHA := "sha-" + path + "-" + req.Message
	f.files[path] = fakeBlob{content: string(decoded), sha: newSHA}

	json.NewEncoder(w).Encode(map[string]any{
		"content": map[string]string{"sha": newSHA},
	})
}

func newTestStore(t *testing.T) (*GitHubStore, *fakeGitHub) {
	t.Helper()
	gh := newFakeGitHub()
	srv := gh.server(t)
	t.Cleanup(srv.Close)

	s := NewGitHub("token", "demo", "shop")
	s.baseURL = srv.URL
	return s, gh
}

func TestGitHubReadDecodesBase64(t *testing.T) {
	s, gh := newTestStore(t)
	gh.files["index.html"] = fakeBlob{content: "<html></html>", sha: "abc123"}

	content, version, err := s.Read(context.Background(), "index.html")
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", content)
	assert.Equal(t, "abc123", version)
}

func TestGitHubReadNotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, _, err := s.Read(context.Background(), "missing.txt")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGitHubWriteCreate(t *testing.T) {
	s, gh := newTestStore(t)

	version, err := s.Write(context.Background(), "new.txt", "hello", "add new.txt", "")
	require.NoError(t, err)
	assert.NotEmpty(t, version)
	assert.Equal(t, "hello", gh.files["new.txt"].content)
}

func TestGitHubWriteUpdateWithFreshToken(t *testing.T) {
	s, gh := newTestStore(t)
	gh.files["app.js"] = fakeBlob{content: "old", sha: "sha-old"}

	version, err := s.Write(context.Background(), "app.js", "new", "update app.js", "sha-old")
	require.NoError(t, err)
	assert.NotEqual(t, "sha-old", version)
	assert.Equal(t, "new", gh.files["app.js"].content)
}

func TestGitHubWriteStaleTokenConflicts(t *testing.T) {
	s, gh := newTestStore(t)
	gh.files["app.js"] = fakeBlob{content: "current", sha: "sha-current"}

	_, err := s.Write(context.Background(), "app.js", "clobber", "update", "sha-stale")
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, "current", gh.files["app.js"].content)
}

func TestGitHubWriteMissingShaOnExistingFileConflicts(t *testing.T) {
	s, gh := newTestStore(t)
	gh.files["app.js"] = fakeBlob{content: "current", sha: "sha-current"}

	_, err := s.Write(context.Background(), "app.js", "clobber", "update", "")
	require.ErrorIs(t, err, ErrConflict)
}

func TestGitHubWriteUpdateOfVanishedFileCreates(t *testing.T) {
	s, gh := newTestStore(t)

	// Update with a token for a path that no longer exists falls back to
	// a create instead of failing.
	version, err := s.Write(context.Background(), "gone.txt", "revived", "restore", "sha-gone")
	require.NoError(t, err)
	assert.NotEmpty(t, version)
	assert.Equal(t, "revived", gh.files["gone.txt"].content)
}

func TestGitHubList(t *testing.T) {
	s, gh := newTestStore(t)
	gh.files["index.html"] = fakeBlob{content: "a", sha: "1"}
	gh.files["src/app.js"] = fakeBlob{content: "b", sha: "2"}
	gh.files["src/util.js"] = fakeBlob{content: "c", sha: "3"}

	root, err := s.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, root, 2)

	src, err := s.List(context.Background(), "src")
	require.NoError(t, err)
	assert.Len(t, src, 2)
}

func TestGitHubListSingleFile(t *testing.T) {
	s, gh := newTestStore(t)
	gh.files["index.html"] = fakeBlob{content: "a", sha: "1"}

	entries, err := s.List(context.Background(), "index.html")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "file", entries[0].Type)
}

func TestSnapshotExcludesNamespace(t *testing.T) {
	s, gh := newTestStore(t)
	gh.files["index.html"] = fakeBlob{content: "<html></html>", sha: "1"}
	gh.files["src/app.js"] = fakeBlob{content: "app", sha: "2"}
	gh.files[Namespace+"/deployment-logs.json"] = fakeBlob{content: "[]", sha: "3"}

	files, err := Snapshot(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, f := range files {
		assert.False(t, strings.HasPrefix(f.Path, Namespace))
	}
}

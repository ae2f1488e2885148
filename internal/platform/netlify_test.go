package platform

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNetlify struct {
	mu           sync.Mutex
	existingSite bool
	sitesCreated int
	uploaded     map[string]string
	states       []string
	requireAll   bool
}

func (f *fakeNetlify) server(t *testing.T) *httptest.Server {
	t.Helper()
	f.uploaded = map[string]string{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/sites":
			var sites []map[string]string
			if f.existingSite {
				sites = append(sites, map[string]string{
					"id": "site_1", "name": "demo-shop-1", "ssl_url": "https://demo-shop-1.netlify.app",
				})
			}
			json.NewEncoder(w).Encode(sites)

		case r.Method == http.MethodPost && r.URL.Path == "/sites":
			f.sitesCreated++
			json.NewEncoder(w).Encode(map[string]string{
				"id": "site_1", "name": "demo-shop-1", "ssl_url": "https://demo-shop-1.netlify.app",
			})

		case r.Method == http.MethodPost && r.URL.Path == "/sites/site_1/deploys":
			var req struct {
				Files map[string]string `json:"files"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			resp := map[string]any{"id": "deploy_1", "state": "uploading"}
			if f.requireAll {
				var required []string
				for _, sha := range req.Files {
					required = append(required, sha)
				}
				resp["required"] = required
			}
			json.NewEncoder(w).Encode(resp)

		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/deploys/deploy_1/files/"):
			body, _ := io.ReadAll(r.Body)
			path := strings.TrimPrefix(r.URL.Path, "/deploys/deploy_1/files")
			f.uploaded[path] = string(body)
			w.WriteHeader(http.StatusOK)

		case r.Method == http.MethodGet && r.URL.Path == "/deploys/deploy_1":
			state := f.states[0]
			if len(f.states) > 1 {
				f.states = f.states[1:]
			}
			resp := map[string]string{
				"id": "deploy_1", "state": state, "ssl_url": "https://demo-shop-1.netlify.app",
			}
			if state == "error" {
				resp["error_message"] = "Build script returned non-zero exit code: 2"
			}
			json.NewEncoder(w).Encode(resp)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestNetlify(t *testing.T, f *fakeNetlify) *NetlifyDeployer {
	t.Helper()
	srv := f.server(t)
	t.Cleanup(srv.Close)

	d := NewNetlify("token")
	d.baseURL = srv.URL
	d.pollInterval = time.Millisecond
	d.pollTimeout = 2 * time.Second
	return d
}

func TestNetlifyDeployCreatesSiteAndUploads(t *testing.T) {
	fake := &fakeNetlify{requireAll: true, states: []string{"building", "ready"}}
	d := newTestNetlify(t, fake)

	site, err := d.Deploy(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "https://demo-shop-1.netlify.app", site.URL)
	assert.Equal(t, "deploy_1", site.ID)
	assert.Equal(t, 1, fake.sitesCreated)

	// Every required digest was uploaded under its path.
	assert.Equal(t, "<html></html>", fake.uploaded["/index.html"])
	assert.Equal(t, "console.log('hi')", fake.uploaded["/src/app.js"])
}

func TestNetlifyDeployReusesExistingSite(t *testing.T) {
	fake := &fakeNetlify{existingSite: true, states: []string{"ready"}}
	d := newTestNetlify(t, fake)

	_, err := d.Deploy(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 0, fake.sitesCreated)
}

func TestNetlifyDeploySkipsUnrequiredUploads(t *testing.T) {
	fake := &fakeNetlify{states: []string{"ready"}}
	d := newTestNetlify(t, fake)

	_, err := d.Deploy(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Empty(t, fake.uploaded)
}

func TestNetlifyDeployBuildFailure(t *testing.T) {
	fake := &fakeNetlify{states: []string{"building", "error"}}
	d := newTestNetlify(t, fake)

	_, err := d.Deploy(context.Background(), testRequest())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, Netlify, apiErr.Platform)
	assert.Contains(t, apiErr.Body, "non-zero exit code")
}

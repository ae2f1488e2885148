package platform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, name := range []string{"vercel", "netlify", "render"} {
		p, err := Parse(name)
		require.NoError(t, err)
		assert.Equal(t, name, string(p))
	}

	// Unknown platforms are rejected, never silently defaulted.
	_, err := Parse("heroku")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heroku")

	_, err = Parse("")
	require.Error(t, err)
}

func TestNewReturnsMatchingAdapter(t *testing.T) {
	for _, p := range []Platform{Vercel, Netlify, Render} {
		d, err := New(p, "token")
		require.NoError(t, err)
		assert.Equal(t, p, d.Platform())
	}

	_, err := New(Platform("fly"), "token")
	require.Error(t, err)
}

func TestSettingsForFrameworkDefaults(t *testing.T) {
	s := settingsFor(&DeployRequest{Framework: "react"})
	assert.Equal(t, "npm run build", s.BuildCommand)
	assert.Equal(t, "build", s.OutputDir)

	s = settingsFor(&DeployRequest{Framework: "nextjs"})
	assert.Equal(t, ".next", s.OutputDir)

	// Unknown frameworks are served as plain static sites.
	s = settingsFor(&DeployRequest{Framework: "cobol-on-rails"})
	assert.Equal(t, "", s.BuildCommand)
	assert.Equal(t, ".", s.OutputDir)
}

func TestSettingsForRequestOverrides(t *testing.T) {
	s := settingsFor(&DeployRequest{
		Framework:    "react",
		BuildCommand: "make site",
		OutputDir:    "public",
	})
	assert.Equal(t, "make site", s.BuildCommand)
	assert.Equal(t, "public", s.OutputDir)
}

func TestAPIErrorPreservesRawBody(t *testing.T) {
	err := &APIError{Platform: Vercel, StatusCode: 400, Body: `{"error":"Module not found: ./App"}`}
	assert.Contains(t, err.Error(), "Module not found: ./App")
	assert.Contains(t, err.Error(), "400")

	var apiErr *APIError
	require.ErrorAs(t, error(err), &apiErr)
}

func testRequest() *DeployRequest {
	return &DeployRequest{
		Name:      "demo-shop-1",
		Framework: "react",
		Env:       map[string]string{"API_URL": "https://api.example.com"},
		Files: []File{
			{Path: "index.html", Content: "<html></html>"},
			{Path: "src/app.js", Content: "console.log('hi')"},
		},
		RepoURL: "https://github.com/demo/shop",
	}
}

func cancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func TestDeployRespectsContextCancellation(t *testing.T) {
	d := NewVercel("token")
	d.baseURL = "http://127.0.0.1:0" // never reached

	_, err := d.Deploy(cancelledContext(), testRequest())
	require.Error(t, err)
}

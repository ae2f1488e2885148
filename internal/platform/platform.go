// Package platform contains the hosting-platform adapters. Each adapter
// takes a normalized deploy request and returns a deployed-site descriptor,
// or fails with the platform's raw error preserved for remediation.
package platform

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Platform identifies a supported hosting target.
type Platform string

const (
	Vercel  Platform = "vercel"
	Netlify Platform = "netlify"
	Render  Platform = "render"
)

// Parse validates a platform name. Unsupported platforms are an error, not
// a fallback.
func Parse(s string) (Platform, error) {
	switch Platform(s) {
	case Vercel, Netlify, Render:
		return Platform(s), nil
	default:
		return "", fmt.Errorf("unsupported platform: %q", s)
	}
}

// File is one file of the flattened project tree.
type File struct {
	Path    string
	Content string
}

// DeployRequest is the normalized input every adapter accepts.
type DeployRequest struct {
	Name         string // project-name slug
	Framework    string
	BuildCommand string
	OutputDir    string
	Env          map[string]string
	Files        []File

	// RepoURL names the versioned-store repository; used by adapters that
	// build from git rather than from an uploaded file set.
	RepoURL string
}

// Site describes a completed deployment.
type Site struct {
	URL string
	ID  string
}

// Deployer is implemented once per hosting target.
type Deployer interface {
	Platform() Platform
	Deploy(ctx context.Context, req *DeployRequest) (*Site, error)
}

// APIError carries the platform's raw response. The message is required
// input to the remediation engine and must never be swallowed.
type APIError struct {
	Platform   Platform
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Platform, e.StatusCode, e.Body)
}

// New returns the adapter for p authenticated with the given bearer token.
func New(p Platform, token string) (Deployer, error) {
	switch p {
	case Vercel:
		return NewVercel(token), nil
	case Netlify:
		return NewNetlify(token), nil
	case Render:
		return NewRender(token), nil
	default:
		return nil, fmt.Errorf("unsupported platform: %q", p)
	}
}

// buildSettings maps a framework hint to platform-neutral build defaults.
type buildSettings struct {
	BuildCommand string
	OutputDir    string
}

// frameworkDefaults is consulted when the request leaves build hints empty.
// Unknown frameworks fall back to a plain static site.
var frameworkDefaults = map[string]buildSettings{
	"react":   {BuildCommand: "npm run build", OutputDir: "build"},
	"nextjs":  {BuildCommand: "next build", OutputDir: ".next"},
	"vue":     {BuildCommand: "npm run build", OutputDir: "dist"},
	"nuxt":    {BuildCommand: "npm run build", OutputDir: ".output"},
	"svelte":  {BuildCommand: "npm run build", OutputDir: "dist"},
	"angular": {BuildCommand: "ng build", OutputDir: "dist"},
	"gatsby":  {BuildCommand: "gatsby build", OutputDir: "public"},
	"astro":   {BuildCommand: "npm run build", OutputDir: "dist"},
}

var staticDefaults = buildSettings{BuildCommand: "", OutputDir: "."}

func settingsFor(req *DeployRequest) buildSettings {
	s, ok := frameworkDefaults[req.Framework]
	if !ok {
		s = staticDefaults
	}
	if req.BuildCommand != "" {
		s.BuildCommand = req.BuildCommand
	}
	if req.OutputDir != "" {
		s.OutputDir = req.OutputDir
	}
	return s
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Minute}
}

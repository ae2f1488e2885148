package platform

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const vercelAPIBase = "https://api.vercel.com"

// VercelDeployer deploys an uploaded file set through the Vercel API.
type VercelDeployer struct {
	token        string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewVercel creates a Vercel adapter for the given bearer token.
func NewVercel(token string) *VercelDeployer {
	return &VercelDeployer{
		token:        token,
		baseURL:      vercelAPIBase,
		httpClient:   newHTTPClient(),
		pollInterval: 2 * time.Second,
		pollTimeout:  10 * time.Minute,
	}
}

// Platform returns the adapter's target.
func (d *VercelDeployer) Platform() Platform { return Vercel }

type vercelFile struct {
	File string `json:"file"`
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
}

type vercelEnvVar struct {
	Key    string   `json:"key"`
	Value  string   `json:"value"`
	Target []string `json:"target,omitempty"`
}

type vercelProjectSettings struct {
	Framework       string         `json:"framework,omitempty"`
	BuildCommand    string         `json:"buildCommand,omitempty"`
	OutputDirectory string         `json:"outputDirectory,omitempty"`
	EnvironmentVars []vercelEnvVar `json:"environmentVariables,omitempty"`
}

type vercelDeployment struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	State        string `json:"state"` // QUEUED, BUILDING, READY, ERROR, CANCELED
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// vercelFrameworks maps our framework tags to Vercel's preset names.
var vercelFrameworks = map[string]string{
	"react":   "create-react-app",
	"nextjs":  "nextjs",
	"vue":     "vue",
	"nuxt":    "nuxtjs",
	"svelte":  "svelte",
	"angular": "angular",
	"gatsby":  "gatsby",
	"astro":   "astro",
}

// Deploy uploads every file, creates a deployment referencing them by
// digest, and waits for a terminal state.
func (d *VercelDeployer) Deploy(ctx context.Context, req *DeployRequest) (*Site, error) {
	files := make([]vercelFile, 0, len(req.Files))
	for _, f := range req.Files {
		hash := sha1.Sum([]byte(f.Content))
		sha := hex.EncodeToString(hash[:])
		if err := d.uploadFile(ctx, sha, []byte(f.Content)); err != nil {
			return nil, fmt.Errorf("upload %s: %w", f.Path, err)
		}
		files = append(files, vercelFile{
			File: strings.TrimPrefix(f.Path, "/"),
			SHA:  sha,
			Size: int64(len(f.Content)),
		})
	}

	settings := settingsFor(req)
	projectSettings := &vercelProjectSettings{
		BuildCommand:    settings.BuildCommand,
		OutputDirectory: settings.OutputDir,
	}
	if preset, ok := vercelFrameworks[req.Framework]; ok {
		projectSettings.Framework = preset
	}
	for key, value := range req.Env {
		projectSettings.EnvironmentVars = append(projectSettings.EnvironmentVars, vercelEnvVar{
			Key:    key,
			Value:  value,
			Target: []string{"production"},
		})
	}

	payload := map[string]any{
		"name":            req.Name,
		"files":           files,
		"projectSettings": projectSettings,
		"target":          "production",
	}

	created, err := d.createDeployment(ctx, payload)
	if err != nil {
		return nil, err
	}

	final, err := d.waitForDeployment(ctx, created.ID)
	if err != nil {
		return nil, err
	}

	return &Site{
		URL: "https://" + final.URL,
		ID:  final.ID,
	}, nil
}

func (d *VercelDeployer) uploadFile(ctx context.Context, sha string, content []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v2/files", bytes.NewReader(content))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+d.token)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("x-vercel-digest", sha)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 409 means the blob already exists, which is fine.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{Platform: Vercel, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

func (d *VercelDeployer) createDeployment(ctx context.Context, payload map[string]any) (*vercelDeployment, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v13/deployments", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+d.token)
	httpReq.Header.Set("Content-Type", "application/json")

	return d.decodeDeployment(d.httpClient.Do(httpReq))
}

func (d *VercelDeployer) getDeployment(ctx context.Context, id string) (*vercelDeployment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/v13/deployments/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+d.token)
	return d.decodeDeployment(d.httpClient.Do(req))
}

func (d *VercelDeployer) decodeDeployment(resp *http.Response, err error) (*vercelDeployment, error) {
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{Platform: Vercel, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var dep vercelDeployment
	if err := json.Unmarshal(body, &dep); err != nil {
		return nil, fmt.Errorf("decode vercel response: %w", err)
	}
	return &dep, nil
}

func (d *VercelDeployer) waitForDeployment(ctx context.Context, id string) (*vercelDeployment, error) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	timeout := time.After(d.pollTimeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, &APIError{Platform: Vercel, StatusCode: http.StatusGatewayTimeout, Body: "deployment timed out"}
		case <-ticker.C:
			dep, err := d.getDeployment(ctx, id)
			if err != nil {
				return nil, err
			}
			switch dep.State {
			case "READY":
				return dep, nil
			case "ERROR":
				return nil, &APIError{
					Platform:   Vercel,
					StatusCode: http.StatusBadGateway,
					Body:       fmt.Sprintf("%s: %s", dep.ErrorCode, dep.ErrorMessage),
				}
			case "CANCELED":
				return nil, &APIError{Platform: Vercel, StatusCode: http.StatusConflict, Body: "deployment was cancelled"}
			}
			// QUEUED and BUILDING keep polling.
		}
	}
}

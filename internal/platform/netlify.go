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

const netlifyAPIBase = "https://api.netlify.com/api/v1"

// NetlifyDeployer deploys a digest-addressed file set through the Netlify
// API.
type NetlifyDeployer struct {
	token        string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewNetlify creates a Netlify adapter for the given bearer token.
func NewNetlify(token string) *NetlifyDeployer {
	return &NetlifyDeployer{
		token:        token,
		baseURL:      netlifyAPIBase,
		httpClient:   newHTTPClient(),
		pollInterval: 2 * time.Second,
		pollTimeout:  10 * time.Minute,
	}
}

// Platform returns the adapter's target.
func (d *NetlifyDeployer) Platform() Platform { return Netlify }

type netlifySite struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	SslURL string `json:"ssl_url"`
}

type netlifyDeploy struct {
	ID           string   `json:"id"`
	State        string   `json:"state"` // new, uploading, building, ready, error
	SslURL       string   `json:"ssl_url"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Required     []string `json:"required,omitempty"`
}

// Deploy creates (or reuses) the site, announces the file digests, uploads
// whatever the API asks for, and waits for a terminal state.
func (d *NetlifyDeployer) Deploy(ctx context.Context, req *DeployRequest) (*Site, error) {
	site, err := d.getOrCreateSite(ctx, req)
	if err != nil {
		return nil, err
	}

	digests := make(map[string]string, len(req.Files))
	contents := make(map[string][]byte, len(req.Files))
	for _, f := range req.Files {
		path := "/" + strings.TrimPrefix(f.Path, "/")
		hash := sha1.Sum([]byte(f.Content))
		digests[path] = hex.EncodeToString(hash[:])
		contents[path] = []byte(f.Content)
	}

	deploy, err := d.createDeploy(ctx, site.ID, digests)
	if err != nil {
		return nil, err
	}

	for _, required := range deploy.Required {
		// Required entries are digests; upload every file whose digest matches.
		for path, sha := range digests {
			if sha != required {
				continue
			}
			if err := d.uploadFile(ctx, deploy.ID, path, contents[path]); err != nil {
				return nil, fmt.Errorf("upload %s: %w", path, err)
			}
		}
	}

	final, err := d.waitForDeploy(ctx, deploy.ID)
	if err != nil {
		return nil, err
	}

	url := final.SslURL
	if url == "" {
		url = site.SslURL
	}
	return &Site{URL: url, ID: final.ID}, nil
}

func (d *NetlifyDeployer) getOrCreateSite(ctx context.Context, req *DeployRequest) (*netlifySite, error) {
	sites, err := d.listSites(ctx)
	if err == nil {
		for i := range sites {
			if sites[i].Name == req.Name {
				return &sites[i], nil
			}
		}
	}

	settings := settingsFor(req)
	payload := map[string]any{
		"name": req.Name,
		"build_settings": map[string]any{
			"cmd": settings.BuildCommand,
			"dir": settings.OutputDir,
			"env": req.Env,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	respBody, status, err := d.do(ctx, http.MethodPost, d.baseURL+"/sites", body)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, &APIError{Platform: Netlify, StatusCode: status, Body: string(respBody)}
	}

	var site netlifySite
	if err := json.Unmarshal(respBody, &site); err != nil {
		return nil, fmt.Errorf("decode netlify site: %w", err)
	}
	return &site, nil
}

func (d *NetlifyDeployer) listSites(ctx context.Context) ([]netlifySite, error) {
	body, status, err := d.do(ctx, http.MethodGet, d.baseURL+"/sites", nil)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, &APIError{Platform: Netlify, StatusCode: status, Body: string(body)}
	}
	var sites []netlifySite
	if err := json.Unmarshal(body, &sites); err != nil {
		return nil, err
	}
	return sites, nil
}

func (d *NetlifyDeployer) createDeploy(ctx context.Context, siteID string, digests map[string]string) (*netlifyDeploy, error) {
	payload := map[string]any{
		"files": digests,
		"async": false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	respBody, status, err := d.do(ctx, http.MethodPost, fmt.Sprintf("%s/sites/%s/deploys", d.baseURL, siteID), body)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, &APIError{Platform: Netlify, StatusCode: status, Body: string(respBody)}
	}

	var deploy netlifyDeploy
	if err := json.Unmarshal(respBody, &deploy); err != nil {
		return nil, fmt.Errorf("decode netlify deploy: %w", err)
	}
	return &deploy, nil
}

func (d *NetlifyDeployer) uploadFile(ctx context.Context, deployID, path string, content []byte) error {
	url := fmt.Sprintf("%s/deploys/%s/files%s", d.baseURL, deployID, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(content))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+d.token)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{Platform: Netlify, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

func (d *NetlifyDeployer) waitForDeploy(ctx context.Context, deployID string) (*netlifyDeploy, error) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	timeout := time.After(d.pollTimeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, &APIError{Platform: Netlify, StatusCode: http.StatusGatewayTimeout, Body: "deployment timed out"}
		case <-ticker.C:
			body, status, err := d.do(ctx, http.MethodGet, d.baseURL+"/deploys/"+deployID, nil)
			if err != nil {
				return nil, err
			}
			if status >= 400 {
				return nil, &APIError{Platform: Netlify, StatusCode: status, Body: string(body)}
			}
			var deploy netlifyDeploy
			if err := json.Unmarshal(body, &deploy); err != nil {
				return nil, err
			}
			switch deploy.State {
			case "ready":
				return &deploy, nil
			case "error":
				return nil, &APIError{Platform: Netlify, StatusCode: http.StatusBadGateway, Body: deploy.ErrorMessage}
			}
		}
	}
}

func (d *NetlifyDeployer) do(ctx context.Context, method, url string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+d.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return respBody, resp.StatusCode, nil
}

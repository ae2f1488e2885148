package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const renderAPIBase = "https://api.render.com/v1"

// RenderDeployer deploys through the Render API. Render builds from the
// project's repository in the versioned store rather than from an uploaded
// file set.
type RenderDeployer struct {
	token        string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	pollTimeout  time.Duration
	ownerID      string
}

// NewRender creates a Render adapter for the given bearer token.
func NewRender(token string) *RenderDeployer {
	return &RenderDeployer{
		token:        token,
		baseURL:      renderAPIBase,
		httpClient:   newHTTPClient(),
		pollInterval: 3 * time.Second,
		pollTimeout:  15 * time.Minute,
	}
}

// Platform returns the adapter's target.
func (d *RenderDeployer) Platform() Platform { return Render }

type renderService struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Slug           string `json:"slug"`
	ServiceDetails struct {
		URL string `json:"url"`
	} `json:"serviceDetails"`
}

type renderDeploy struct {
	ID     string `json:"id"`
	Status string `json:"status"` // created, build_in_progress, live, build_failed, update_failed, canceled
}

// renderEnvs maps framework tags to Render runtime environments. Anything
// not listed deploys as a static site.
var renderEnvs = map[string]string{
	"nextjs": "node",
	"nuxt":   "node",
}

// Deploy finds or creates the service for the project and triggers a build
// from its repository.
func (d *RenderDeployer) Deploy(ctx context.Context, req *DeployRequest) (*Site, error) {
	if d.ownerID == "" {
		ownerID, err := d.fetchOwnerID(ctx)
		if err != nil {
			return nil, err
		}
		d.ownerID = ownerID
	}

	service, err := d.findService(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	if service == nil {
		service, err = d.createService(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	deploy, err := d.triggerDeploy(ctx, service.ID)
	if err != nil {
		return nil, err
	}

	final, err := d.waitForDeploy(ctx, service.ID, deploy.ID)
	if err != nil {
		return nil, err
	}

	url := service.ServiceDetails.URL
	if url == "" {
		url = fmt.Sprintf("https://%s.onrender.com", service.Slug)
	}
	return &Site{URL: url, ID: service.ID + "/" + final.ID}, nil
}

func (d *RenderDeployer) fetchOwnerID(ctx context.Context) (string, error) {
	body, status, err := d.do(ctx, http.MethodGet, d.baseURL+"/owners", nil)
	if err != nil {
		return "", err
	}
	if status >= 400 {
		return "", &APIError{Platform: Render, StatusCode: status, Body: string(body)}
	}

	var owners []struct {
		Owner struct {
			ID string `json:"id"`
		} `json:"owner"`
	}
	if err := json.Unmarshal(body, &owners); err != nil {
		return "", fmt.Errorf("decode render owners: %w", err)
	}
	if len(owners) == 0 {
		return "", &APIError{Platform: Render, StatusCode: status, Body: "no owners visible to token"}
	}
	return owners[0].Owner.ID, nil
}

func (d *RenderDeployer) findService(ctx context.Context, name string) (*renderService, error) {
	body, status, err := d.do(ctx, http.MethodGet, d.baseURL+"/services?name="+name, nil)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, &APIError{Platform: Render, StatusCode: status, Body: string(body)}
	}

	var services []struct {
		Service renderService `json:"service"`
	}
	if err := json.Unmarshal(body, &services); err != nil {
		return nil, fmt.Errorf("decode render services: %w", err)
	}
	for i := range services {
		if services[i].Service.Name == name {
			return &services[i].Service, nil
		}
	}
	return nil, nil
}

func (d *RenderDeployer) createService(ctx context.Context, req *DeployRequest) (*renderService, error) {
	settings := settingsFor(req)

	serviceType := "static_site"
	details := map[string]any{
		"publishPath": settings.OutputDir,
	}
	if env, ok := renderEnvs[req.Framework]; ok {
		serviceType = "web_service"
		details = map[string]any{
			"env":          env,
			"plan":         "free",
			"region":       "oregon",
			"buildCommand": settings.BuildCommand,
		}
	} else if settings.BuildCommand != "" {
		details["buildCommand"] = settings.BuildCommand
	}

	envVars := make([]map[string]string, 0, len(req.Env))
	for key, value := range req.Env {
		envVars = append(envVars, map[string]string{"key": key, "value": value})
	}

	payload := map[string]any{
		"type":           serviceType,
		"name":           req.Name,
		"ownerId":        d.ownerID,
		"repo":           req.RepoURL,
		"branch":         "main",
		"autoDeploy":     "no",
		"envVars":        envVars,
		"serviceDetails": details,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	respBody, status, err := d.do(ctx, http.MethodPost, d.baseURL+"/services", body)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, &APIError{Platform: Render, StatusCode: status, Body: string(respBody)}
	}

	var result struct {
		Service renderService `json:"service"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode render service: %w", err)
	}
	return &result.Service, nil
}

func (d *RenderDeployer) triggerDeploy(ctx context.Context, serviceID string) (*renderDeploy, error) {
	url := fmt.Sprintf("%s/services/%s/deploys", d.baseURL, serviceID)
	body, status, err := d.do(ctx, http.MethodPost, url, []byte("{}"))
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, &APIError{Platform: Render, StatusCode: status, Body: string(body)}
	}

	var result struct {
		Deploy *renderDeploy `json:"deploy"`
	}
	if err := json.Unmarshal(body, &result); err != nil || result.Deploy == nil {
		// Some API versions return the deploy object unwrapped.
		var deploy renderDeploy
		if err2 := json.Unmarshal(body, &deploy); err2 == nil && deploy.ID != "" {
			return &deploy, nil
		}
		return nil, fmt.Errorf("decode render deploy: %w", err)
	}
	return result.Deploy, nil
}

func (d *RenderDeployer) waitForDeploy(ctx context.Context, serviceID, deployID string) (*renderDeploy, error) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	timeout := time.After(d.pollTimeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, &APIError{Platform: Render, StatusCode: http.StatusGatewayTimeout, Body: "deployment timed out"}
		case <-ticker.C:
			url := fmt.Sprintf("%s/services/%s/deploys/%s", d.baseURL, serviceID, deployID)
			body, status, err := d.do(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, err
			}
			if status >= 400 {
				return nil, &APIError{Platform: Render, StatusCode: status, Body: string(body)}
			}
			var deploy renderDeploy
			if err := json.Unmarshal(body, &deploy); err != nil {
				return nil, err
			}
			switch deploy.Status {
			case "live":
				return &deploy, nil
			case "build_failed", "update_failed", "canceled", "deactivated":
				return nil, &APIError{
					Platform:   Render,
					StatusCode: http.StatusBadGateway,
					Body:       fmt.Sprintf("deploy %s: %s", deployID, deploy.Status),
				}
			}
		}
	}
}

func (d *RenderDeployer) do(ctx context.Context, method, url string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+d.token)
	req.Header.Set("Accept", "application/json")
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

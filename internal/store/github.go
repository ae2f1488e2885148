package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const githubAPIBase = "https://api.github.com"

// GitHubStore implements FileStore against the GitHub contents API. The
// blob SHA returned by the API is the version token.
type GitHubStore struct {
	token      string
	owner      string
	repo       string
	branch     string
	baseURL    string
	httpClient *http.Client
}

// NewGitHub creates a store bound to one repository. The token is the
// calling user's credential, threaded in per invocation.
func NewGitHub(token, owner, repo string) *GitHubStore {
	return &GitHubStore{
		token:   token,
		owner:   owner,
		repo:    repo,
		branch:  "main",
		baseURL: githubAPIBase,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type contentsResponse struct {
	Path     string `json:"path"`
	Type     string `json:"type"` // file, dir
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	SHA      string `json:"sha"`
}

// Read fetches a file's content and its version token.
func (s *GitHubStore) Read(ctx context.Context, path string) (string, string, error) {
	body, status, err := s.do(ctx, http.MethodGet, s.contentsURL(path), nil)
	if err != nil {
		return "", "", err
	}
	if status == http.StatusNotFound {
		return "", "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if status != http.StatusOK {
		return "", "", apiError("read", path, status, body)
	}

	var file contentsResponse
	if err := json.Unmarshal(body, &file); err != nil {
		return "", "", fmt.Errorf("decode contents response: %w", err)
	}

	content := file.Content
	if file.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content, "\n", ""))
		if err != nil {
			return "", "", fmt.Errorf("decode file content: %w", err)
		}
		content = string(decoded)
	}
	return content, file.SHA, nil
}

// Write creates or replaces a file. An empty expectedVersion is a create;
// otherwise the write only succeeds if the token still matches the stored
// revision. An update against a vanished path falls back to a create.
func (s *GitHubStore) Write(ctx context.Context, path, content, message, expectedVersion string) (string, error) {
	version, err := s.put(ctx, path, content, message, expectedVersion)
	if err == nil || expectedVersion == "" {
		return version, err
	}
	// The common "file didn't exist yet" case: retry as a create. True
	// stale-token conflicts are surfaced unchanged.
	if errors.Is(err, ErrNotFound) {
		return s.put(ctx, path, content, message, "")
	}
	return version, err
}

func (s *GitHubStore) put(ctx context.Context, path, content, message, sha string) (string, error) {
	payload := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"branch":  s.branch,
	}
	if sha != "" {
		payload["sha"] = sha
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	body, status, err := s.do(ctx, http.MethodPut, s.contentsURL(path), reqBody)
	if err != nil {
		return "", err
	}
	switch {
	case status == http.StatusOK || status == http.StatusCreated:
	case status == http.StatusConflict:
		return "", fmt.Errorf("%w: %s", ErrConflict, path)
	case status == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	case status == http.StatusUnprocessableEntity:
		// GitHub reports a missing/mismatched sha on an existing file as 422.
		if strings.Contains(strings.ToLower(string(body)), "sha") {
			return "", fmt.Errorf("%w: %s", ErrConflict, path)
		}
		return "", apiError("write", path, status, body)
	default:
		return "", apiError("write", path, status, body)
	}

	var result struct {
		Content struct {
			SHA string `json:"sha"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode write response: %w", err)
	}
	return result.Content.SHA, nil
}

// List returns the entries of one directory. An empty path lists the root.
func (s *GitHubStore) List(ctx context.Context, path string) ([]Entry, error) {
	body, status, err := s.do(ctx, http.MethodGet, s.contentsURL(path), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if status != http.StatusOK {
		return nil, apiError("list", path, status, body)
	}

	var items []contentsResponse
	if err := json.Unmarshal(body, &items); err != nil {
		// A file path returns a single object rather than an array.
		var single contentsResponse
		if err2 := json.Unmarshal(body, &single); err2 == nil {
			return []Entry{{Path: single.Path, Type: single.Type}}, nil
		}
		return nil, fmt.Errorf("decode list response: %w", err)
	}

	entries := make([]Entry, 0, len(items))
	for _, it := range items {
		entries = append(entries, Entry{Path: it.Path, Type: it.Type})
	}
	return entries, nil
}

func (s *GitHubStore) contentsURL(path string) string {
	u := fmt.Sprintf("%s/repos/%s/%s/contents", s.baseURL, s.owner, s.repo)
	if path != "" {
		u += "/" + url.PathEscape(path)
		// Keep directory separators readable in the request path.
		u = strings.ReplaceAll(u, "%2F", "/")
	}
	return u
}

func (s *GitHubStore) do(ctx context.Context, method, rawURL string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
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

func apiError(op, path string, status int, body []byte) error {
	return fmt.Errorf("store: %s %s: status %d: %s", op, path, status, strings.TrimSpace(string(body)))
}

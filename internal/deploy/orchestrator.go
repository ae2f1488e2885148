// Package deploy drives the autonomous deployment-and-remediation pipeline:
// push the project's files to a hosting platform, verify reachability, and
// on failure apply a generated fix and retry exactly once. Every transition
// is mirrored to the durable audit log.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"launchforge/internal/ai"
	"launchforge/internal/logging"
	"launchforge/internal/metrics"
	"launchforge/internal/platform"
	"launchforge/internal/remediation"
	"launchforge/internal/store"
	"launchforge/pkg/models"
)

// Audit-log entry statuses, appended strictly in pipeline order.
const (
	StatusStarting    = "starting"
	StatusSuccess     = "success"
	StatusFailed      = "failed"
	StatusFixing      = "fixing"
	StatusRetryFailed = "retry_failed"
)

// Precondition errors. These short-circuit before any state-machine
// transition and never produce a log entry.
var (
	ErrProjectNotFound = errors.New("deploy: project not found")
)

// CredentialsMissingError names the service whose token is absent.
type CredentialsMissingError struct {
	Service string
}

func (e *CredentialsMissingError) Error() string {
	return fmt.Sprintf("deploy: missing %s credentials", e.Service)
}

// Credentials are threaded into the orchestrator per invocation, never read
// from ambient state.
type Credentials struct {
	StoreToken    string
	PlatformToken string
	GeneratorKey  string
}

// Request is one top-level deployment invocation.
type Request struct {
	UserID    uint
	ProjectID uint
	Platform  platform.Platform
}

// FixRequest applies remediation for an externally observed failure.
type FixRequest struct {
	UserID    uint
	ProjectID uint
	Platform  platform.Platform
	Failure   string
}

// Result is the caller-visible outcome. Error always carries enough raw
// platform text for manual debugging.
type Result struct {
	Success      bool     `json:"success"`
	Status       string   `json:"status"`
	URL          string   `json:"deployment_url,omitempty"`
	DeploymentID string   `json:"deployment_id,omitempty"`
	Error        string   `json:"error,omitempty"`
	RetryError   string   `json:"retry_error,omitempty"`
	Solution     string   `json:"solution,omitempty"`
	FilesFixed   []string `json:"files_fixed,omitempty"`
}

// FixProposer is the remediation capability the orchestrator consumes.
type FixProposer interface {
	ProposeFix(ctx context.Context, failure string, project *models.Project, snapshot []store.File) *remediation.Proposal
}

// Orchestrator coordinates the file store, the platform adapters, the
// remediation engine, and the audit log. One invocation runs the state
// machine to completion; there is no background work.
type Orchestrator struct {
	db          *gorm.DB
	newStore    func(token, owner, repo string) store.FileStore
	newDeployer func(p platform.Platform, token string) (platform.Deployer, error)
	newProposer func(generatorKey string) FixProposer

	// fallbackGenKey is the server-level generation key used when the user
	// has no stored anthropic credential.
	fallbackGenKey string

	verifier *http.Client
	settle   time.Duration
	log      *zap.Logger
}

// NewOrchestrator wires the production collaborators. A nil redis client
// disables the read-through file cache; generatorKey is the server-level
// fallback for users without their own anthropic credential.
func NewOrchestrator(db *gorm.DB, rdb *redis.Client, generatorKey string) *Orchestrator {
	return &Orchestrator{
		db:             db,
		fallbackGenKey: generatorKey,
		newStore: func(token, owner, repo string) store.FileStore {
			return store.NewCached(store.NewGitHub(token, owner, repo), rdb, owner+"/"+repo)
		},
		newDeployer: platform.New,
		newProposer: func(key string) FixProposer {
			return remediation.NewEngine(ai.NewAnthropicClient(key))
		},
		verifier: &http.Client{Timeout: 15 * time.Second},
		settle:   2 * time.Second,
		log:      logging.L(),
	}
}

// Deploy runs the full pipeline for one project. Precondition failures are
// returned as errors before the pipeline is entered; once entered, the
// outcome is always expressed in the Result.
func (o *Orchestrator) Deploy(ctx context.Context, req Request) (*Result, error) {
	project, creds, err := o.prepare(ctx, req.UserID, req.ProjectID, req.Platform)
	if err != nil {
		return nil, err
	}

	fs := o.newStore(creds.StoreToken, project.RepoOwner, project.RepoName)
	audit := store.NewAuditLog(fs)

	snapshot, err := store.Snapshot(ctx, fs)
	if err != nil {
		return nil, fmt.Errorf("load file snapshot: %w", err)
	}

	deployer, err := o.newDeployer(req.Platform, creds.PlatformToken)
	if err != nil {
		return nil, err
	}

	o.append(ctx, audit, store.DeploymentLogEntry{
		ProjectID: project.ID,
		Platform:  string(req.Platform),
		Status:    StatusStarting,
		Message:   fmt.Sprintf("deploying %s to %s", project.Name, req.Platform),
		Timestamp: time.Now().UTC(),
	})

	// First attempt: deploy, then verify reachability.
	site, deployErr := deployer.Deploy(ctx, o.deployRequest(project, snapshot))
	if deployErr == nil {
		if verr := o.verify(ctx, site.URL); verr != nil {
			// Soft failure: the platform accepted the deploy but the site
			// is not reachable. Treated like a hard error for retry.
			deployErr = verr
		} else {
			return o.succeed(ctx, fs, audit, project, req.Platform, site, nil)
		}
	}

	failure := deployErr.Error()
	o.append(ctx, audit, store.DeploymentLogEntry{
		ProjectID: project.ID,
		Platform:  string(req.Platform),
		Status:    StatusFailed,
		Message:   "deployment failed",
		Error:     failure,
		Timestamp: time.Now().UTC(),
	})
	metrics.DeploymentsTotal.WithLabelValues(string(req.Platform), StatusFailed).Inc()

	// Remediating: re-read the snapshot, files may have changed since the
	// attempt started.
	snapshot, err = store.Snapshot(ctx, fs)
	if err != nil {
		o.log.Warn("snapshot re-read failed, remediation skipped", zap.Error(err))
		return &Result{Success: false, Status: StatusFailed, Error: failure}, nil
	}

	proposal := o.newProposer(creds.GeneratorKey).ProposeFix(ctx, failure, project, snapshot)
	if !proposal.CanFix {
		metrics.RemediationsTotal.WithLabelValues("cannot_fix").Inc()
		return &Result{
			Success:  false,
			Status:   StatusFailed,
			Error:    failure,
			Solution: proposal.Description,
		}, nil
	}
	metrics.RemediationsTotal.WithLabelValues("fix_proposed").Inc()

	// Retrying: apply the fix, let the store settle, redeploy exactly once.
	fixed, err := o.applyProposal(ctx, fs, proposal)
	if err != nil {
		o.log.Warn("fix application failed", zap.Error(err))
		return &Result{
			Success:  false,
			Status:   StatusFailed,
			Error:    failure,
			Solution: proposal.Description,
		}, nil
	}

	o.append(ctx, audit, store.DeploymentLogEntry{
		ProjectID:  project.ID,
		Platform:   string(req.Platform),
		Status:     StatusFixing,
		Message:    proposal.Description,
		FilesFixed: fixed,
		Timestamp:  time.Now().UTC(),
	})
	o.rememberFix(ctx, fs, project, failure, proposal)

	if o.settle > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.settle):
		}
	}

	snapshot, err = store.Snapshot(ctx, fs)
	if err != nil {
		return nil, fmt.Errorf("re-read file snapshot: %w", err)
	}

	site, retryErr := deployer.Deploy(ctx, o.deployRequest(project, snapshot))
	if retryErr == nil {
		return o.succeed(ctx, fs, audit, project, req.Platform, site, fixed)
	}

	// Exhausted: never more than one retry per top-level request.
	o.append(ctx, audit, store.DeploymentLogEntry{
		ProjectID: project.ID,
		Platform:  string(req.Platform),
		Status:    StatusRetryFailed,
		Message:   "deployment failed again after applying fix",
		Error:     retryErr.Error(),
		Timestamp: time.Now().UTC(),
	})
	metrics.DeploymentsTotal.WithLabelValues(string(req.Platform), StatusRetryFailed).Inc()

	return &Result{
		Success:    false,
		Status:     StatusRetryFailed,
		Error:      failure,
		RetryError: retryErr.Error(),
		Solution:   proposal.Description,
		FilesFixed: fixed,
	}, nil
}

// Fix applies remediation for a failure reported by the caller, without
// redeploying. The deploy endpoint remains the only place that retries.
func (o *Orchestrator) Fix(ctx context.Context, req FixRequest) (*Result, error) {
	project, creds, err := o.prepare(ctx, req.UserID, req.ProjectID, req.Platform)
	if err != nil {
		return nil, err
	}

	fs := o.newStore(creds.StoreToken, project.RepoOwner, project.RepoName)
	audit := store.NewAuditLog(fs)

	snapshot, err := store.Snapshot(ctx, fs)
	if err != nil {
		return nil, fmt.Errorf("load file snapshot: %w", err)
	}

	proposal := o.newProposer(creds.GeneratorKey).ProposeFix(ctx, req.Failure, project, snapshot)
	if !proposal.CanFix {
		metrics.RemediationsTotal.WithLabelValues("cannot_fix").Inc()
		return &Result{Success: false, Status: StatusFailed, Solution: proposal.Description}, nil
	}
	metrics.RemediationsTotal.WithLabelValues("fix_proposed").Inc()

	fixed, err := o.applyProposal(ctx, fs, proposal)
	if err != nil {
		return nil, fmt.Errorf("apply fix: %w", err)
	}

	o.append(ctx, audit, store.DeploymentLogEntry{
		ProjectID:  project.ID,
		Platform:   string(req.Platform),
		Status:     StatusFixing,
		Message:    proposal.Description,
		FilesFixed: fixed,
		Timestamp:  time.Now().UTC(),
	})
	o.rememberFix(ctx, fs, project, req.Failure, proposal)

	return &Result{
		Success:    true,
		Status:     StatusFixing,
		Solution:   proposal.Description,
		FilesFixed: fixed,
	}, nil
}

// Log returns the ordered audit trail for a project.
func (o *Orchestrator) Log(ctx context.Context, userID, projectID uint) ([]store.DeploymentLogEntry, error) {
	project, err := o.loadProject(userID, projectID)
	if err != nil {
		return nil, err
	}
	token, err := o.token(userID, models.ServiceGitHub)
	if err != nil {
		return nil, err
	}

	fs := o.newStore(token, project.RepoOwner, project.RepoName)
	entries, _, err := store.NewAuditLog(fs).Entries(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return []store.DeploymentLogEntry{}, nil
	}
	return entries, err
}

// prepare loads the project and all required credentials. Any failure here
// is a precondition failure: the pipeline is not entered and nothing is
// logged to the audit trail.
func (o *Orchestrator) prepare(ctx context.Context, userID, projectID uint, p platform.Platform) (*models.Project, *Credentials, error) {
	project, err := o.loadProject(userID, projectID)
	if err != nil {
		return nil, nil, err
	}

	storeToken, err := o.token(userID, models.ServiceGitHub)
	if err != nil {
		return nil, nil, err
	}
	platformToken, err := o.token(userID, string(p))
	if err != nil {
		return nil, nil, err
	}
	// The generator key is optional at this point; remediation degrades to
	// canFix=false if generation is unavailable. A user's own anthropic
	// credential takes precedence over the server-level key.
	generatorKey, err := o.token(userID, models.ServiceAnthropic)
	if err != nil {
		generatorKey = o.fallbackGenKey
	}

	return project, &Credentials{
		StoreToken:    storeToken,
		PlatformToken: platformToken,
		GeneratorKey:  generatorKey,
	}, nil
}

func (o *Orchestrator) loadProject(userID, projectID uint) (*models.Project, error) {
	var project models.Project
	err := o.db.Where("id = ? AND owner_id = ?", projectID, userID).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (o *Orchestrator) token(userID uint, service string) (string, error) {
	var cred models.Credential
	err := o.db.Where("user_id = ? AND service = ?", userID, service).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && cred.Token == "") {
		return "", &CredentialsMissingError{Service: service}
	}
	if err != nil {
		return "", err
	}
	return cred.Token, nil
}

func (o *Orchestrator) deployRequest(project *models.Project, snapshot []store.File) *platform.DeployRequest {
	files := make([]platform.File, 0, len(snapshot))
	for _, f := range snapshot {
		files = append(files, platform.File{Path: f.Path, Content: f.Content})
	}
	return &platform.DeployRequest{
		Name:      slugify(project.Name, project.ID),
		Framework: project.Framework,
		Files:     files,
		RepoURL:   fmt.Sprintf("https://github.com/%s/%s", project.RepoOwner, project.RepoName),
	}
}

// verify issues a reachability check against the deployed URL. A non-success
// response is a soft failure distinct from a hard platform error.
func (o *Orchestrator) verify(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return fmt.Errorf("verification request: %w", err)
	}
	resp, err := o.verifier.Do(req)
	if err != nil {
		return fmt.Errorf("deployment unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("deployment unreachable: HEAD %s returned %d", url, resp.StatusCode)
	}
	return nil
}

func (o *Orchestrator) succeed(ctx context.Context, fs store.FileStore, audit *store.AuditLog, project *models.Project, p platform.Platform, site *platform.Site, fixed []string) (*Result, error) {
	now := time.Now().UTC()
	project.DeploymentURL = site.URL
	project.DeploymentPlatform = string(p)
	project.LastDeployedAt = &now
	if err := o.db.Save(project).Error; err != nil {
		o.log.Error("persisting deployment result failed", zap.Uint("project_id", project.ID), zap.Error(err))
	}

	o.append(ctx, audit, store.DeploymentLogEntry{
		ProjectID:    project.ID,
		Platform:     string(p),
		Status:       StatusSuccess,
		Message:      "deployment live at " + site.URL,
		URL:          site.URL,
		DeploymentID: site.ID,
		Timestamp:    now,
	})
	metrics.DeploymentsTotal.WithLabelValues(string(p), StatusSuccess).Inc()

	o.mirrorProject(ctx, fs, project)

	return &Result{
		Success:      true,
		Status:       StatusSuccess,
		URL:          site.URL,
		DeploymentID: site.ID,
		FilesFixed:   fixed,
	}, nil
}

// applyProposal writes each proposed file operation through the store. An
// update of a path whose token went stale is retried once from a fresh
// read; the store handles the create-after-missing fallback itself.
func (o *Orchestrator) applyProposal(ctx context.Context, fs store.FileStore, proposal *remediation.Proposal) ([]string, error) {
	fixed := make([]string, 0, len(proposal.Files))
	for _, op := range proposal.Files {
		if err := o.applyFileOp(ctx, fs, op, proposal.CommitMessage); err != nil {
			return fixed, fmt.Errorf("apply %s %s: %w", op.Operation, op.Path, err)
		}
		fixed = append(fixed, op.Path)
	}
	return fixed, nil
}

// The operation label is untrusted generation output, so it is treated as a
// hint: a create against a path that turns out to exist is retried as an
// update from a fresh read, mirroring the store's own create-after-failed-
// update fallback.
func (o *Orchestrator) applyFileOp(ctx context.Context, fs store.FileStore, op remediation.FileOp, message string) error {
	readVersion := op.Operation == remediation.OpUpdate
	for attempt := 0; attempt < 3; attempt++ {
		version := ""
		if readVersion {
			_, v, err := fs.Read(ctx, op.Path)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			version = v
		}
		_, err := fs.Write(ctx, op.Path, op.Content, message, version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		readVersion = true
	}
	return store.ErrConflict
}

// append writes an audit entry. Logging failures must never mask or
// override the deployment outcome, so errors are only logged.
func (o *Orchestrator) append(ctx context.Context, audit *store.AuditLog, entry store.DeploymentLogEntry) {
	if err := audit.Append(ctx, entry); err != nil {
		o.log.Warn("audit log append failed",
			zap.Uint("project_id", entry.ProjectID),
			zap.String("status", entry.Status),
			zap.Error(err))
	}
}

// mirrorProject refreshes the project.json mirror in the reserved
// namespace, best-effort.
func (o *Orchestrator) mirrorProject(ctx context.Context, fs store.FileStore, project *models.Project) {
	if err := store.WriteMirror(ctx, fs, store.ProjectMetaPath, project); err != nil {
		o.log.Debug("project mirror write failed", zap.Error(err))
	}
}

// rememberFix appends the applied fix to agent-memory.json so later
// remediation runs have local context, best-effort.
func (o *Orchestrator) rememberFix(ctx context.Context, fs store.FileStore, project *models.Project, failure string, proposal *remediation.Proposal) {
	memo := map[string]any{
		"project_id":  project.ID,
		"failure":     failure,
		"description": proposal.Description,
		"files":       len(proposal.Files),
		"applied_at":  time.Now().UTC(),
	}
	if err := store.WriteMirror(ctx, fs, store.AgentMemoryPath, memo); err != nil {
		o.log.Debug("agent memory write failed", zap.Error(err))
	}
}

func slugify(name string, id uint) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	lastDash := true
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		out = "project"
	}
	return fmt.Sprintf("%s-%d", out, id)
}

// Package tasks executes development tasks against a project's file tree.
// It is a smaller sibling of the deployment pipeline: the same external
// collaborators (generation service, versioned file store), a simpler state
// machine per task (pending, in-progress, completed or failed).
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"launchforge/internal/ai"
	"launchforge/internal/logging"
	"launchforge/internal/metrics"
	"launchforge/internal/remediation"
	"launchforge/internal/store"
	"launchforge/pkg/models"
)

// Precondition errors, returned before any task transitions.
var (
	ErrProjectNotFound = errors.New("tasks: project not found")
	ErrTaskNotFound    = errors.New("tasks: task not found")
	ErrTaskNotRunnable = errors.New("tasks: task is not pending or failed")
)

// CredentialsMissingError names the service whose token is absent.
type CredentialsMissingError struct {
	Service string
}

func (e *CredentialsMissingError) Error() string {
	return fmt.Sprintf("tasks: missing %s credentials", e.Service)
}

// Outcome is the per-task result of one execution.
type Outcome struct {
	TaskID uint     `json:"task_id"`
	Title  string   `json:"title"`
	Status string   `json:"status"` // completed, failed
	Error  string   `json:"error,omitempty"`
	Files  []string `json:"files,omitempty"`
}

// implementation is the generation response for one task: a summary plus
// the file operations that realize it.
type implementation struct {
	Summary       string               `json:"summary"`
	Files         []remediation.FileOp `json:"files"`
	CommitMessage string               `json:"commitMessage"`
}

const (
	maxPromptFiles     = 10
	maxPromptFileChars = 4000
)

// Engine runs tasks to completion. Collaborators are constructed per
// request from the calling user's credentials.
type Engine struct {
	db       *gorm.DB
	newStore func(token, owner, repo string) store.FileStore
	newGen   func(apiKey string) ai.Generator

	// fallbackGenKey is the server-level generation key used when the user
	// has no stored anthropic credential.
	fallbackGenKey string

	log *zap.Logger
}

// NewEngine wires the production collaborators. A nil redis client disables
// the read-through file cache; generatorKey is the server-level fallback for
// users without their own anthropic credential.
func NewEngine(db *gorm.DB, rdb *redis.Client, generatorKey string) *Engine {
	return &Engine{
		db:             db,
		fallbackGenKey: generatorKey,
		newStore: func(token, owner, repo string) store.FileStore {
			return store.NewCached(store.NewGitHub(token, owner, repo), rdb, owner+"/"+repo)
		},
		newGen: func(apiKey string) ai.Generator {
			return ai.NewAnthropicClient(apiKey)
		},
		log: logging.L(),
	}
}

// Implement executes one task. The task must be pending or failed; its
// final state is persisted whatever the outcome.
func (e *Engine) Implement(ctx context.Context, userID, projectID, taskID uint) (*Outcome, error) {
	env, err := e.prepare(userID, projectID)
	if err != nil {
		return nil, err
	}

	var task models.Task
	err = e.db.Where("id = ? AND project_id = ?", taskID, projectID).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskPending && task.Status != models.TaskFailed {
		return nil, ErrTaskNotRunnable
	}

	outcome := e.run(ctx, env, &task)
	e.mirrorTasks(ctx, env)
	return &outcome, nil
}

// ImplementAll executes every currently pending task of the project,
// sequentially and with isolated failures: each task gets exactly one
// outcome and a failing task never aborts the rest.
func (e *Engine) ImplementAll(ctx context.Context, userID, projectID uint) ([]Outcome, error) {
	env, err := e.prepare(userID, projectID)
	if err != nil {
		return nil, err
	}

	var pending []models.Task
	if err := e.db.Where("project_id = ? AND status = ?", projectID, models.TaskPending).
		Order("id").Find(&pending).Error; err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(pending))
	for i := range pending {
		outcomes = append(outcomes, e.run(ctx, env, &pending[i]))
	}
	e.mirrorTasks(ctx, env)
	return outcomes, nil
}

// taskEnv is the per-request execution context.
type taskEnv struct {
	project *models.Project
	fs      store.FileStore
	gen     ai.Generator
}

func (e *Engine) prepare(userID, projectID uint) (*taskEnv, error) {
	var project models.Project
	err := e.db.Where("id = ? AND owner_id = ?", projectID, userID).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}

	storeToken, err := e.token(userID, models.ServiceGitHub)
	if err != nil {
		return nil, err
	}
	// A user's own anthropic credential takes precedence over the
	// server-level key; with neither, generation cannot run at all.
	genKey, err := e.token(userID, models.ServiceAnthropic)
	if err != nil {
		if e.fallbackGenKey == "" {
			return nil, err
		}
		genKey = e.fallbackGenKey
	}

	return &taskEnv{
		project: &project,
		fs:      e.newStore(storeToken, project.RepoOwner, project.RepoName),
		gen:     e.newGen(genKey),
	}, nil
}

func (e *Engine) token(userID uint, service string) (string, error) {
	var cred models.Credential
	err := e.db.Where("user_id = ? AND service = ?", userID, service).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && cred.Token == "") {
		return "", &CredentialsMissingError{Service: service}
	}
	if err != nil {
		return "", err
	}
	return cred.Token, nil
}

// run drives one task through in-progress to a terminal state. It never
// returns an error and never panics outward; anything thrown by the
// implementation step becomes a failed outcome.
func (e *Engine) run(ctx context.Context, env *taskEnv, task *models.Task) (outcome Outcome) {
	outcome = Outcome{TaskID: task.ID, Title: task.Title}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("task implementation panicked",
				zap.Uint("task_id", task.ID), zap.Any("panic", r))
			outcome.Status = models.TaskFailed
			outcome.Error = fmt.Sprintf("task implementation panicked: %v", r)
			e.finish(task, &outcome)
		}
	}()

	task.Status = models.TaskInProgress
	if err := e.db.Model(task).Update("status", models.TaskInProgress).Error; err != nil {
		e.log.Warn("marking task in-progress failed", zap.Uint("task_id", task.ID), zap.Error(err))
	}

	files, err := e.implement(ctx, env, task)
	if err != nil {
		outcome.Status = models.TaskFailed
		outcome.Error = err.Error()
	} else {
		outcome.Status = models.TaskCompleted
		outcome.Files = files
	}
	e.finish(task, &outcome)
	return outcome
}

// finish persists the terminal state and records the metric.
func (e *Engine) finish(task *models.Task, outcome *Outcome) {
	task.Status = outcome.Status
	if len(outcome.Files) > 0 {
		task.FilePaths = outcome.Files
	}
	if err := e.db.Save(task).Error; err != nil {
		e.log.Error("persisting task state failed", zap.Uint("task_id", task.ID), zap.Error(err))
	}
	metrics.TaskRunsTotal.WithLabelValues(outcome.Status).Inc()
}

// implement asks the generation service for the file changes realizing the
// task and applies them through the store.
func (e *Engine) implement(ctx context.Context, env *taskEnv, task *models.Task) ([]string, error) {
	snapshot, err := store.Snapshot(ctx, env.fs)
	if err != nil {
		return nil, fmt.Errorf("load file snapshot: %w", err)
	}

	raw, err := env.gen.Generate(ctx, buildPrompt(env.project, task, snapshot))
	if err != nil {
		return nil, fmt.Errorf("generate implementation: %w", err)
	}

	impl, err := parseImplementation(raw)
	if err != nil {
		return nil, err
	}
	if len(impl.Files) == 0 {
		return nil, errors.New("implementation contained no file changes")
	}

	message := impl.CommitMessage
	if message == "" {
		message = "implement task: " + task.Title
	}

	written := make([]string, 0, len(impl.Files))
	for _, op := range impl.Files {
		if err := applyFileOp(ctx, env.fs, op, message); err != nil {
			return written, fmt.Errorf("apply %s: %w", op.Path, err)
		}
		written = append(written, op.Path)
	}
	return written, nil
}

// applyFileOp writes one change under optimistic concurrency, restarting
// from a fresh read when the version token goes stale. The operation label
// is untrusted generation output: a create against an existing path is
// retried as an update rather than surfaced as a conflict.
func applyFileOp(ctx context.Context, fs store.FileStore, op remediation.FileOp, message string) error {
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

// mirrorTasks refreshes the tasks.json mirror in the reserved namespace,
// best-effort.
func (e *Engine) mirrorTasks(ctx context.Context, env *taskEnv) {
	var all []models.Task
	if err := e.db.Where("project_id = ?", env.project.ID).Order("id").Find(&all).Error; err != nil {
		e.log.Debug("task mirror query failed", zap.Error(err))
		return
	}
	if err := store.WriteMirror(ctx, env.fs, store.TasksPath, all); err != nil {
		e.log.Debug("task mirror write failed", zap.Error(err))
	}
}

func buildPrompt(project *models.Project, task *models.Task, snapshot []store.File) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are implementing a development task for a %s project named %q.\n\n",
		project.Framework, project.Name)
	fmt.Fprintf(&b, "Task: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "Details: %s\n", task.Description)
	}
	if len(task.FilePaths) > 0 {
		fmt.Fprintf(&b, "Files associated with this task: %s\n", strings.Join(task.FilePaths, ", "))
	}

	b.WriteString("\nCurrent project files:\n\n")
	for i, f := range snapshot {
		if i >= maxPromptFiles {
			fmt.Fprintf(&b, "(%d more files omitted)\n", len(snapshot)-maxPromptFiles)
			break
		}
		content := f.Content
		if len(content) > maxPromptFileChars {
			content = content[:maxPromptFileChars] + "\n... (truncated)"
		}
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", f.Path, content)
	}

	b.WriteString(`Implement the task and respond with a single JSON object and nothing else.
No prose, no markdown fences. The object must have exactly this shape:

{
  "summary": "one-paragraph description of what was implemented",
  "files": [{"path": "relative/path", "content": "full new file content", "operation": "create" or "update"}],
  "commitMessage": "short commit message"
}`)

	return b.String()
}

func parseImplementation(raw string) (*implementation, error) {
	span, ok := remediation.ExtractObject(raw)
	if !ok {
		return nil, errors.New("no valid implementation structure in response")
	}
	var impl implementation
	if err := json.Unmarshal([]byte(span), &impl); err != nil {
		return nil, fmt.Errorf("malformed implementation response: %w", err)
	}
	for i := range impl.Files {
		if impl.Files[i].Operation != remediation.OpCreate {
			impl.Files[i].Operation = remediation.OpUpdate
		}
	}
	return &impl, nil
}

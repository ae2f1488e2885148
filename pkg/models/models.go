package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a user of the LaunchForge platform
type User struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Username     string `json:"username" gorm:"uniqueIndex;not null"`
	Email        string `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string `json:"-" gorm:"not null"`
	FullName     string `json:"full_name"`

	IsActive bool `json:"is_active" gorm:"default:true"`

	// Relationships
	Projects    []Project    `json:"projects,omitempty" gorm:"foreignKey:OwnerID"`
	Credentials []Credential `json:"-" gorm:"foreignKey:UserID"`
}

// Project statuses
const (
	ProjectActive    = "active"
	ProjectPaused    = "paused"
	ProjectCompleted = "completed"
)

// Project represents a generated application and its deployment state
type Project struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Name        string `json:"name" gorm:"not null"`
	Description string `json:"description"`
	Framework   string `json:"framework"` // react, nextjs, vue, svelte, static, ...

	OwnerID uint `json:"owner_id" gorm:"not null;index"`
	Owner   User `json:"-" gorm:"foreignKey:OwnerID"`

	// Location of the project's file tree in the versioned store
	RepoOwner string `json:"repo_owner"`
	RepoName  string `json:"repo_name"`

	Status string `json:"status" gorm:"default:'active'"` // active, paused, completed

	// Deployment state, mutated only by the deployment pipeline
	DeploymentURL      string     `json:"deployment_url,omitempty"`
	DeploymentPlatform string     `json:"deployment_platform,omitempty"`
	LastDeployedAt     *time.Time `json:"last_deployed_at,omitempty"`

	// Autonomy flags
	AutonomousMode bool   `json:"autonomous_mode" gorm:"default:false"`
	AutoApprove    bool   `json:"auto_approve" gorm:"default:false"`
	QualityTier    string `json:"quality_tier" gorm:"default:'standard'"` // standard, premium

	Tasks []Task `json:"tasks,omitempty" gorm:"foreignKey:ProjectID"`
}

// Credential services
const (
	ServiceGitHub    = "github"
	ServiceVercel    = "vercel"
	ServiceNetlify   = "netlify"
	ServiceRender    = "render"
	ServiceAnthropic = "anthropic"
)

// Credential holds one opaque bearer token per integrated service.
// Tokens are read-only from the pipeline's perspective.
type Credential struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	UserID  uint   `json:"user_id" gorm:"not null;uniqueIndex:idx_user_service"`
	User    User   `json:"-" gorm:"foreignKey:UserID"`
	Service string `json:"service" gorm:"not null;uniqueIndex:idx_user_service;type:varchar(50)"`
	Token   string `json:"-" gorm:"not null"` // never expose in JSON
}

// Task statuses
const (
	TaskPending    = "pending"
	TaskInProgress = "in-progress"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

// Task types
const (
	TaskTypeAIGenerated = "ai-generated"
	TaskTypeManual      = "manual"
)

// Task represents a single development task for a project
type Task struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	ProjectID uint    `json:"project_id" gorm:"not null;index"`
	Project   Project `json:"-" gorm:"foreignKey:ProjectID"`

	Title       string `json:"title" gorm:"not null"`
	Description string `json:"description"`
	Status      string `json:"status" gorm:"default:'pending';type:varchar(20)"`
	Priority    string `json:"priority" gorm:"default:'medium';type:varchar(20)"` // low, medium, high
	Type        string `json:"type" gorm:"default:'manual';type:varchar(20)"`

	// Optional file associations and subtask linkage
	FilePaths []string `json:"file_paths,omitempty" gorm:"serializer:json"`
	ParentID  *uint    `json:"parent_id,omitempty"`
}

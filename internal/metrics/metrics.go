// Package metrics exposes Prometheus counters for the deployment pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeploymentsTotal counts pipeline outcomes by platform and terminal
	// status (success, failed, retry_failed).
	DeploymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "launchforge_deployments_total",
		Help: "Deployment pipeline outcomes by platform and terminal status.",
	}, []string{"platform", "status"})

	// RemediationsTotal counts remediation attempts by outcome
	// (fix_proposed, cannot_fix).
	RemediationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "launchforge_remediations_total",
		Help: "Remediation attempts by outcome.",
	}, []string{"outcome"})

	// TaskRunsTotal counts task executions by final status.
	TaskRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "launchforge_task_runs_total",
		Help: "Task engine executions by final status.",
	}, []string{"status"})
)

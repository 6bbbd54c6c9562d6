// Package temporal wires the durable engine: client dialing, worker
// registration, and the logging bridge.
package temporal

import (
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/renderfleet/orchestrator/internal/config"
	"github.com/renderfleet/orchestrator/internal/infrastructure/logger"
	"github.com/renderfleet/orchestrator/internal/temporal/activities"
	"github.com/renderfleet/orchestrator/internal/temporal/workflows"
)

// Dial connects to the Temporal frontend.
func Dial(cfg config.TemporalConfig, log *logger.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    NewEngineLogger(log),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal at %s: %w", cfg.HostPort, err)
	}
	return c, nil
}

// NewWorker builds the worker for the orchestrator task queue with both
// workflows and the activity bundle registered.
func NewWorker(c client.Client, taskQueue string, acts *activities.Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})

	w.RegisterWorkflowWithOptions(workflows.RenderJobWorkflow, workflow.RegisterOptions{
		Name: workflows.JobWorkflowName,
	})
	w.RegisterWorkflowWithOptions(workflows.ChainExecutorWorkflow, workflow.RegisterOptions{
		Name: workflows.ChainWorkflowName,
	})
	w.RegisterActivity(acts)

	return w
}

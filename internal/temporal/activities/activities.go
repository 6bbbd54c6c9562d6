// Package activities implements the side-effectful units of work the
// durable workflows execute: backend selection, submit-and-track, output
// extraction, artifact download and transfer, metadata writes, approval
// request creation, and template plumbing. Workflow code never touches
// I/O directly; everything here runs on the worker under a retry policy.
package activities

import (
	"time"

	"github.com/renderfleet/orchestrator/internal/application/artifactstore"
	"github.com/renderfleet/orchestrator/internal/application/chain"
	"github.com/renderfleet/orchestrator/internal/application/registry"
	"github.com/renderfleet/orchestrator/internal/infrastructure/logger"
	"github.com/renderfleet/orchestrator/internal/infrastructure/storage"
	"github.com/renderfleet/orchestrator/pkg/balancer"
)

// Activities bundles every dependency the activity implementations need.
// One instance is registered on the worker at startup.
type Activities struct {
	Balancer  *balancer.LoadBalancer
	Registry  *registry.Registry
	Store     *artifactstore.Store
	Chains    *storage.ChainRepository
	Jobs      *storage.JobRepository
	Artifacts *storage.ArtifactRepository
	Transfers *storage.TransferRepository
	Approvals *storage.ApprovalRepository
	Evaluator *chain.Evaluator
	Log       *logger.Logger

	// ApprovalViewBaseURL prefixes artifact view links in approval
	// requests.
	ApprovalViewBaseURL string
	// TrackPollInterval and TrackTimeout tune the execution tracker.
	TrackPollInterval time.Duration
	TrackTimeout      time.Duration
}

// New creates the activity bundle with defaults filled in.
func New(
	lb *balancer.LoadBalancer,
	reg *registry.Registry,
	store *artifactstore.Store,
	chains *storage.ChainRepository,
	jobs *storage.JobRepository,
	artifacts *storage.ArtifactRepository,
	transfers *storage.TransferRepository,
	approvals *storage.ApprovalRepository,
	log *logger.Logger,
) *Activities {
	if log == nil {
		log = logger.Nop()
	}
	return &Activities{
		Balancer:          lb,
		Registry:          reg,
		Store:             store,
		Chains:            chains,
		Jobs:              jobs,
		Artifacts:         artifacts,
		Transfers:         transfers,
		Approvals:         approvals,
		Evaluator:         chain.NewEvaluator(100),
		Log:               log,
		TrackPollInterval: time.Second,
		TrackTimeout:      10 * time.Minute,
	}
}

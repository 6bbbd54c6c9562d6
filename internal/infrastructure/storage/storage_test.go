package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	pkgmodels "github.com/renderfleet/orchestrator/pkg/models"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	db, err := NewDB(&Config{DSN: "file::memory:?cache=shared"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	require.NoError(t, InitSchema(context.Background(), db))
	return db
}

func createChain(t *testing.T, repo *ChainRepository) *pkgmodels.Chain {
	t.Helper()
	row, err := repo.Create(context.Background(), CreateChainParams{
		Name:             "pipeline",
		EngineWorkflowID: fmt.Sprintf("wf-%d", time.Now().UnixNano()),
		EngineRunID:      "run-1",
		Definition:       map[string]any{"steps": []any{}},
	})
	require.NoError(t, err)
	return row
}

func createJob(t *testing.T, repo *JobRepository, chainID, stepID string) *pkgmodels.Job {
	t.Helper()
	row, err := repo.Create(context.Background(), CreateJobParams{
		ChainID:        chainID,
		StepID:         stepID,
		WorkflowName:   "tiny",
		BackendAddress: "http://backend-1:8188",
	})
	require.NoError(t, err)
	return row
}

func TestChainRepository_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewChainRepository(db)
	ctx := context.Background()

	row := createChain(t, repo)
	assert.Equal(t, pkgmodels.ChainStatusInitializing, row.Status)
	assert.NotEmpty(t, row.ID)

	level := 1
	require.NoError(t, repo.UpdateStatus(ctx, row.ID, pkgmodels.ChainStatusExecutingLevel(1), &level, ""))

	got, err := repo.FindByID(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, "executing_level_1", got.Status)
	assert.Equal(t, 1, got.CurrentLevel)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, repo.UpdateStatus(ctx, row.ID, pkgmodels.ChainStatusCompleted, nil, ""))
	got, err = repo.FindByID(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, pkgmodels.ChainStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	// Terminal status is monotone: later writes are ignored.
	require.NoError(t, repo.UpdateStatus(ctx, row.ID, pkgmodels.ChainStatusFailed, nil, "late failure"))
	got, err = repo.FindByID(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, pkgmodels.ChainStatusCompleted, got.Status)
}

func TestChainRepository_FindByEngineWorkflowID(t *testing.T) {
	db := newTestDB(t)
	repo := NewChainRepository(db)
	ctx := context.Background()

	row := createChain(t, repo)
	got, err := repo.FindByEngineWorkflowID(ctx, row.EngineWorkflowID)
	require.NoError(t, err)
	assert.Equal(t, row.ID, got.ID)

	_, err = repo.FindByEngineWorkflowID(ctx, "missing")
	assert.ErrorIs(t, err, pkgmodels.ErrNotFound)
}

func TestJobRepository_PromptAndStatus(t *testing.T) {
	db := newTestDB(t)
	chains := NewChainRepository(db)
	jobs := NewJobRepository(db)
	ctx := context.Background()

	chainRow := createChain(t, chains)
	job := createJob(t, jobs, chainRow.ID, "a")
	assert.Equal(t, pkgmodels.JobStatusQueued, job.Status)

	require.NoError(t, jobs.SetPromptID(ctx, job.ID, "prompt-77"))
	got, err := jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "prompt-77", got.BackendPromptID)
	assert.Equal(t, pkgmodels.JobStatusExecuting, got.Status)
	assert.NotNil(t, got.StartedAt)

	found, err := jobs.FindByBackendPrompt(ctx, "http://backend-1:8188", "prompt-77")
	require.NoError(t, err)
	assert.Equal(t, job.ID, found.ID)

	require.NoError(t, jobs.UpdateStatus(ctx, job.ID, pkgmodels.JobStatusFailed, "boom"))
	got, err = jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, pkgmodels.JobStatusFailed, got.Status)
	assert.Equal(t, "boom", got.ErrorMessage)

	// failed is terminal.
	require.NoError(t, jobs.UpdateStatus(ctx, job.ID, pkgmodels.JobStatusCompleted, ""))
	got, err = jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, pkgmodels.JobStatusFailed, got.Status)
}

func TestJobRepository_ResetForRegeneration(t *testing.T) {
	db := newTestDB(t)
	chains := NewChainRepository(db)
	jobs := NewJobRepository(db)
	ctx := context.Background()

	chainRow := createChain(t, chains)
	job := createJob(t, jobs, chainRow.ID, "a")
	require.NoError(t, jobs.SetPromptID(ctx, job.ID, "prompt-1"))
	require.NoError(t, jobs.UpdateStatus(ctx, job.ID, pkgmodels.JobStatusCompleted, ""))

	require.NoError(t, jobs.ResetForRegeneration(ctx, job.ID, map[string]any{"3.seed": 42}))

	got, err := jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, pkgmodels.JobStatusQueued, got.Status)
	assert.Empty(t, got.BackendPromptID)
	assert.Nil(t, got.CompletedAt)
	assert.EqualValues(t, 42, got.Parameters["3.seed"])
}

func TestArtifactRepository_LatestInvariant(t *testing.T) {
	db := newTestDB(t)
	chains := NewChainRepository(db)
	jobs := NewJobRepository(db)
	artifacts := NewArtifactRepository(db)
	ctx := context.Background()

	chainRow := createChain(t, chains)
	job := createJob(t, jobs, chainRow.ID, "a")

	first, err := artifacts.Create(ctx, CreateArtifactParams{
		JobID:            job.ID,
		OriginalFilename: "out_00001.png",
		LocalFilename:    "aaaa0001.png",
		LocalPath:        "/artifacts/aaaa0001.png",
		FileType:         pkgmodels.FileTypeImage,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)
	assert.True(t, first.IsLatest)

	second, err := artifacts.Create(ctx, CreateArtifactParams{
		JobID:            job.ID,
		OriginalFilename: "out_00002.png",
		LocalFilename:    "aaaa0002.png",
		LocalPath:        "/artifacts/aaaa0002.png",
		FileType:         pkgmodels.FileTypeImage,
		ParentArtifactID: first.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version, "version = parent.version + 1")
	assert.True(t, second.IsLatest)

	// Exactly one is_latest per job, and the job row points at it.
	all, err := artifacts.ListByJob(ctx, job.ID, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	latestCount := 0
	for _, artifact := range all {
		if artifact.IsLatest {
			latestCount++
			assert.Equal(t, second.ID, artifact.ID)
		}
	}
	assert.Equal(t, 1, latestCount)

	jobRow, err := jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, jobRow.LatestArtifactID)

	latest, err := artifacts.Latest(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	versions, err := artifacts.Versions(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, second.ID, versions[0].ID)
	assert.Equal(t, first.ID, versions[1].ID)
}

func TestArtifactRepository_ParentMustShareJob(t *testing.T) {
	db := newTestDB(t)
	chains := NewChainRepository(db)
	jobs := NewJobRepository(db)
	artifacts := NewArtifactRepository(db)
	ctx := context.Background()

	chainRow := createChain(t, chains)
	jobA := createJob(t, jobs, chainRow.ID, "a")
	jobB := createJob(t, jobs, chainRow.ID, "b")

	fromA, err := artifacts.Create(ctx, CreateArtifactParams{
		JobID:            jobA.ID,
		OriginalFilename: "a.png",
		LocalFilename:    "la.png",
		LocalPath:        "/x/la.png",
		FileType:         pkgmodels.FileTypeImage,
	})
	require.NoError(t, err)

	_, err = artifacts.Create(ctx, CreateArtifactParams{
		JobID:            jobB.ID,
		OriginalFilename: "b.png",
		LocalFilename:    "lb.png",
		LocalPath:        "/x/lb.png",
		FileType:         pkgmodels.FileTypeImage,
		ParentArtifactID: fromA.ID,
	})
	require.Error(t, err)
	assert.True(t, pkgmodels.IsValidation(err))
}

func TestArtifactRepository_ReferenceLookup(t *testing.T) {
	db := newTestDB(t)
	chains := NewChainRepository(db)
	jobs := NewJobRepository(db)
	artifacts := NewArtifactRepository(db)
	ctx := context.Background()

	chainRow := createChain(t, chains)
	job := createJob(t, jobs, chainRow.ID, "a")
	_, err := artifacts.Create(ctx, CreateArtifactParams{
		JobID:            job.ID,
		OriginalFilename: "a.png",
		LocalFilename:    "ref0001.png",
		LocalPath:        "/x/ref0001.png",
		FileType:         pkgmodels.FileTypeImage,
	})
	require.NoError(t, err)

	referenced, err := artifacts.IsLocalFilenameReferenced(ctx, "ref0001.png")
	require.NoError(t, err)
	assert.True(t, referenced)

	referenced, err = artifacts.IsLocalFilenameReferenced(ctx, "orphan.png")
	require.NoError(t, err)
	assert.False(t, referenced)
}

func TestTransferRepository_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	chains := NewChainRepository(db)
	jobs := NewJobRepository(db)
	artifacts := NewArtifactRepository(db)
	transfers := NewTransferRepository(db)
	ctx := context.Background()

	chainRow := createChain(t, chains)
	job := createJob(t, jobs, chainRow.ID, "a")
	artifact, err := artifacts.Create(ctx, CreateArtifactParams{
		JobID:            job.ID,
		OriginalFilename: "a.mp4",
		LocalFilename:    "t0001.mp4",
		LocalPath:        "/x/t0001.mp4",
		FileType:         pkgmodels.FileTypeVideo,
	})
	require.NoError(t, err)

	transfer, err := transfers.Create(ctx, CreateTransferParams{
		ArtifactID:    artifact.ID,
		SourceJobID:   job.ID,
		TargetBackend: "http://backend-2:8188",
	})
	require.NoError(t, err)
	assert.Equal(t, pkgmodels.TransferStatusPending, transfer.Status)

	require.NoError(t, transfers.MarkUploading(ctx, transfer.ID))
	require.NoError(t, transfers.MarkCompleted(ctx, transfer.ID))

	got, err := transfers.FindByID(ctx, transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, pkgmodels.TransferStatusCompleted, got.Status)
	assert.NotNil(t, got.UploadedAt)

	list, err := transfers.ListByArtifact(ctx, artifact.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestApprovalRepository_SingleUseToken(t *testing.T) {
	db := newTestDB(t)
	chains := NewChainRepository(db)
	jobs := NewJobRepository(db)
	artifacts := NewArtifactRepository(db)
	approvals := NewApprovalRepository(db)
	ctx := context.Background()

	chainRow := createChain(t, chains)
	job := createJob(t, jobs, chainRow.ID, "a")
	artifact, err := artifacts.Create(ctx, CreateArtifactParams{
		JobID:            job.ID,
		OriginalFilename: "a.png",
		LocalFilename:    "ap0001.png",
		LocalPath:        "/x/ap0001.png",
		FileType:         pkgmodels.FileTypeImage,
	})
	require.NoError(t, err)

	created, err := approvals.Create(ctx, CreateApprovalParams{
		ArtifactID:       artifact.ID,
		ChainID:          chainRow.ID,
		StepID:           "a",
		EngineWorkflowID: "wf-1",
		Token:            "tok-123",
	})
	require.NoError(t, err)
	assert.Equal(t, pkgmodels.ApprovalStatusPending, created.Status)

	decided, err := approvals.Decide(ctx, "tok-123", pkgmodels.ApprovalStatusApproved, "alex")
	require.NoError(t, err)
	assert.Equal(t, pkgmodels.ApprovalStatusApproved, decided.Status)
	assert.Equal(t, "alex", decided.DecidedBy)
	assert.NotNil(t, decided.DecidedAt)

	// The token is revoked by the first decision.
	_, err = approvals.Decide(ctx, "tok-123", pkgmodels.ApprovalStatusRejected, "sam")
	assert.ErrorIs(t, err, pkgmodels.ErrTokenUsed)

	_, err = approvals.Decide(ctx, "missing", pkgmodels.ApprovalStatusApproved, "alex")
	assert.ErrorIs(t, err, pkgmodels.ErrNotFound)
}

func TestApprovalRepository_ExpiredToken(t *testing.T) {
	db := newTestDB(t)
	chains := NewChainRepository(db)
	jobs := NewJobRepository(db)
	artifacts := NewArtifactRepository(db)
	approvals := NewApprovalRepository(db)
	ctx := context.Background()

	chainRow := createChain(t, chains)
	job := createJob(t, jobs, chainRow.ID, "a")
	artifact, err := artifacts.Create(ctx, CreateArtifactParams{
		JobID:            job.ID,
		OriginalFilename: "a.png",
		LocalFilename:    "ex0001.png",
		LocalPath:        "/x/ex0001.png",
		FileType:         pkgmodels.FileTypeImage,
	})
	require.NoError(t, err)

	expired := time.Now().UTC().Add(-time.Hour)
	_, err = approvals.Create(ctx, CreateApprovalParams{
		ArtifactID:       artifact.ID,
		EngineWorkflowID: "wf-1",
		Token:            "tok-old",
		LinkExpiresAt:    &expired,
	})
	require.NoError(t, err)

	_, err = approvals.Decide(ctx, "tok-old", pkgmodels.ApprovalStatusApproved, "alex")
	assert.ErrorIs(t, err, pkgmodels.ErrTokenExpired)
}

func TestApprovalRepository_Cancel(t *testing.T) {
	db := newTestDB(t)
	chains := NewChainRepository(db)
	jobs := NewJobRepository(db)
	artifacts := NewArtifactRepository(db)
	approvals := NewApprovalRepository(db)
	ctx := context.Background()

	chainRow := createChain(t, chains)
	job := createJob(t, jobs, chainRow.ID, "a")
	artifact, err := artifacts.Create(ctx, CreateArtifactParams{
		JobID:            job.ID,
		OriginalFilename: "a.png",
		LocalFilename:    "cn0001.png",
		LocalPath:        "/x/cn0001.png",
		FileType:         pkgmodels.FileTypeImage,
	})
	require.NoError(t, err)

	created, err := approvals.Create(ctx, CreateApprovalParams{
		ArtifactID:       artifact.ID,
		EngineWorkflowID: "wf-1",
		Token:            "tok-cancel",
	})
	require.NoError(t, err)

	require.NoError(t, approvals.Cancel(ctx, created.ID))

	got, err := approvals.FindByToken(ctx, "tok-cancel")
	require.NoError(t, err)
	assert.Equal(t, pkgmodels.ApprovalStatusCancelled, got.Status)

	_, err = approvals.Decide(ctx, "tok-cancel", pkgmodels.ApprovalStatusApproved, "alex")
	assert.ErrorIs(t, err, pkgmodels.ErrTokenUsed)
}

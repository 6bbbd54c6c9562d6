package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderfleet/orchestrator/internal/application/approval"
	"github.com/renderfleet/orchestrator/internal/application/registry"
	"github.com/renderfleet/orchestrator/internal/infrastructure/logger"
	"github.com/renderfleet/orchestrator/internal/infrastructure/storage"
	"github.com/renderfleet/orchestrator/pkg/models"
)

type nopSignaler struct{ calls int }

func (n *nopSignaler) SignalWorkflow(context.Context, string, string, string, any) error {
	n.calls++
	return nil
}

type approvalFixture struct {
	router   *gin.Engine
	token    string
	signaler *nopSignaler
}

func newApprovalFixture(t *testing.T) *approvalFixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.NewDB(&storage.Config{DSN: "file::memory:?cache=shared"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })
	require.NoError(t, storage.InitSchema(ctx, db))

	chains := storage.NewChainRepository(db)
	jobs := storage.NewJobRepository(db)
	artifacts := storage.NewArtifactRepository(db)
	approvals := storage.NewApprovalRepository(db)

	dir := t.TempDir()
	template := map[string]any{
		"3": map[string]any{
			"class_type": "KSampler",
			"inputs":     map[string]any{"text": "a cat", "seed": float64(1)},
		},
		"4": map[string]any{
			"class_type": "SaveImage",
			"inputs":     map[string]any{"images": []any{"3", float64(0)}},
		},
	}
	data, err := json.Marshal(template)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tiny.json"), data, 0o644))
	reg := registry.New(dir, logger.Nop())
	_, err = reg.Discover()
	require.NoError(t, err)

	chainRow, err := chains.Create(ctx, storage.CreateChainParams{
		Name: "c", EngineWorkflowID: "wf-rest",
	})
	require.NoError(t, err)
	jobRow, err := jobs.Create(ctx, storage.CreateJobParams{
		ChainID: chainRow.ID, StepID: "a", WorkflowName: "tiny", BackendAddress: "http://b1",
	})
	require.NoError(t, err)
	artifact, err := artifacts.Create(ctx, storage.CreateArtifactParams{
		JobID: jobRow.ID, OriginalFilename: "out.png",
		LocalFilename: "rest0001.png", LocalPath: "/x/rest0001.png",
		FileType: models.FileTypeImage,
	})
	require.NoError(t, err)

	token, err := approval.NewToken()
	require.NoError(t, err)
	_, err = approvals.Create(ctx, storage.CreateApprovalParams{
		ArtifactID:       artifact.ID,
		ChainID:          chainRow.ID,
		StepID:           "a",
		EngineWorkflowID: "wf-rest",
		Token:            token,
		ConfigMetadata: map[string]any{
			"workflow_name": "tiny",
			"parameters":    map[string]any{"3.text": "a cat"},
		},
	})
	require.NoError(t, err)

	signaler := &nopSignaler{}
	service := approval.NewService(approvals, artifacts,
		approval.NewParameterValidator(reg), signaler, logger.Nop())

	router := NewRouter(Handlers{
		Approval:  NewApprovalHandlers(service, logger.Nop()),
		Chains:    &ChainHandlers{},
		Jobs:      &JobHandlers{},
		Servers:   &ServerHandlers{},
		Templates: &TemplateHandlers{},
	}, logger.Nop())

	return &approvalFixture{router: router, token: token, signaler: signaler}
}

func (fx *approvalFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	return rec
}

func TestApprovalEndpoints_ViewAndParameters(t *testing.T) {
	fx := newApprovalFixture(t)

	rec := fx.do(t, http.MethodGet, "/approval/"+fx.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var details map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &details))
	assert.Equal(t, "pending", details["status"])

	rec = fx.do(t, http.MethodGet, "/approval/"+fx.token+"/parameters", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var schema map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &schema))
	assert.Equal(t, "tiny", schema["workflow_name"])
}

func TestApprovalEndpoints_ApproveFlow(t *testing.T) {
	fx := newApprovalFixture(t)

	rec := fx.do(t, http.MethodPost, "/approval/"+fx.token+"/approve",
		map[string]any{"decided_by": "alex"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fx.signaler.calls)

	// The token is spent: the view now rejects it.
	rec = fx.do(t, http.MethodGet, "/approval/"+fx.token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// And so does a second decision.
	rec = fx.do(t, http.MethodPost, "/approval/"+fx.token+"/approve",
		map[string]any{"decided_by": "sam"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestApprovalEndpoints_RejectValidation(t *testing.T) {
	fx := newApprovalFixture(t)

	rec := fx.do(t, http.MethodPost, "/approval/"+fx.token+"/reject", map[string]any{
		"decided_by": "alex",
		"parameters": map[string]any{"bogus.key": 1, "3.seed": "not-a-number"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, "INVALID_PARAMETERS", apiErr.Code)
	assert.Len(t, apiErr.Details, 2)
	assert.Zero(t, fx.signaler.calls)
}

func TestApprovalEndpoints_RejectWithRegeneration(t *testing.T) {
	fx := newApprovalFixture(t)

	rec := fx.do(t, http.MethodPost, "/approval/"+fx.token+"/reject", map[string]any{
		"decided_by":        "alex",
		"parameters":        map[string]any{"3.seed": 42},
		"rejection_comment": "wrong colors",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fx.signaler.calls)
}

func TestApprovalEndpoints_UnknownToken(t *testing.T) {
	fx := newApprovalFixture(t)

	rec := fx.do(t, http.MethodGet, "/approval/not-a-token", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = fx.do(t, http.MethodPost, "/approval/not-a-token/approve",
		map[string]any{"decided_by": "alex"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApprovalEndpoints_MissingDecidedBy(t *testing.T) {
	fx := newApprovalFixture(t)

	rec := fx.do(t, http.MethodPost, "/approval/"+fx.token+"/approve", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readiness-quiz-service/internal/domain"
)

func do(t *testing.T, env testEnv, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := do(t, env, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAttemptLifecycleOverREST(t *testing.T) {
	env := newTestEnv(t)

	rec := do(t, env, http.MethodPost, "/api/v1/attempts", "u1", StartRequest{Specialisation: "backend", Level: 1})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	snap := decode[domain.AttemptSnapshot](t, rec)
	assert.Equal(t, domain.StateInProgress, snap.State)
	assert.Equal(t, "quiz-1", snap.QuizID)

	base := "/api/v1/attempts/" + snap.AttemptID

	rec = do(t, env, http.MethodPut, base+"/answers", "u1", AnswerRequest{QuestionID: "q1", SelectedKey: "B"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "B", decode[domain.AttemptSnapshot](t, rec).Answers["q1"])

	rec = do(t, env, http.MethodPut, base+"/answers", "u1", AnswerRequest{QuestionID: "q1", SelectedKey: "Z"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "option_not_found", decode[ErrorResponse](t, rec).Code)

	rec = do(t, env, http.MethodGet, base, "u2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, env, http.MethodPost, base+"/submit", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	outcome := decode[domain.SubmitOutcome](t, rec)
	// q2 unanswered defaults to its first option, which is wrong
	assert.Equal(t, 1, outcome.Result.CorrectCount)
	assert.Equal(t, 50, outcome.Result.Percentage)
	assert.False(t, outcome.Result.Passed)
	require.NotNil(t, outcome.Metrics)
	assert.Empty(t, outcome.AggregationError)

	// submitting again returns the same outcome
	rec = do(t, env, http.MethodPost, base+"/submit", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, outcome.Result.SubmittedAt.Unix(), decode[domain.SubmitOutcome](t, rec).Result.SubmittedAt.Unix())

	rec = do(t, env, http.MethodPut, base+"/answers", "u1", AnswerRequest{QuestionID: "q2", SelectedKey: "B"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartErrors(t *testing.T) {
	env := newTestEnv(t)

	rec := do(t, env, http.MethodPost, "/api/v1/attempts", "", StartRequest{QuizID: "quiz-1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, env, http.MethodPost, "/api/v1/attempts", "u1", StartRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, env, http.MethodPost, "/api/v1/attempts", "u1", StartRequest{Specialisation: "backend"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, env, http.MethodPost, "/api/v1/attempts", "u1", StartRequest{Specialisation: "astronomy", Level: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "quiz_unavailable", decode[ErrorResponse](t, rec).Code)

	rec = do(t, env, http.MethodPost, "/api/v1/attempts", "u1", StartRequest{QuizID: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "quiz_unavailable", body.Code)
	assert.False(t, body.Retryable)

	rec = do(t, env, http.MethodGet, "/api/v1/attempts/missing", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAbandonAndProfiles(t *testing.T) {
	env := newTestEnv(t)

	rec := do(t, env, http.MethodPost, "/api/v1/attempts", "u1", StartRequest{QuizID: "quiz-1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decode[domain.AttemptSnapshot](t, rec)

	rec = do(t, env, http.MethodDelete, "/api/v1/attempts/"+first.AttemptID, "u1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, env, http.MethodGet, "/api/v1/attempts/"+first.AttemptID, "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, env, http.MethodGet, "/api/v1/profiles", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[map[string][]domain.ReadinessMetrics](t, rec)["profiles"])

	rec = do(t, env, http.MethodPost, "/api/v1/attempts", "u1", StartRequest{QuizID: "quiz-1"})
	second := decode[domain.AttemptSnapshot](t, rec)
	do(t, env, http.MethodPut, "/api/v1/attempts/"+second.AttemptID+"/answers", "u1", AnswerRequest{QuestionID: "q1", SelectedKey: "B"})
	do(t, env, http.MethodPut, "/api/v1/attempts/"+second.AttemptID+"/answers", "u1", AnswerRequest{QuestionID: "q2", SelectedKey: "B"})
	rec = do(t, env, http.MethodPost, "/api/v1/attempts/"+second.AttemptID+"/submit", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, env, http.MethodGet, "/api/v1/profiles/backend", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decode[domain.ReadinessMetrics](t, rec)
	assert.Equal(t, 100, profile.TechnicalScore)
	assert.Equal(t, 50, profile.ReadinessScore)
	assert.True(t, profile.IsPrimary)
	require.Len(t, profile.Levels, 1)
	assert.True(t, profile.Levels[0].Passed)

	rec = do(t, env, http.MethodPut, "/api/v1/profiles/backend/primary", "u1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, env, http.MethodPut, "/api/v1/profiles/frontend/primary", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/songquiz/internal/domain"
	"github.com/conorfennell/songquiz/internal/fsrs"
	"github.com/conorfennell/songquiz/internal/metrics"
	"github.com/conorfennell/songquiz/internal/quiz"
	"github.com/conorfennell/songquiz/internal/selector"
	"github.com/conorfennell/songquiz/internal/storage"
	"github.com/conorfennell/songquiz/internal/sync"
)

func writeBank(t *testing.T, dir string, n int) {
	t.Helper()
	var b strings.Builder
	b.WriteString("Song: anthem\nLocale: en\n\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "Q: Question %d?\nA) right\nB) wrong\nC) wrong\nD) wrong\nAnswer: A\n---\n", i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "anthem.md"), []byte(b.String()), 0o644))
}

type testEnv struct {
	srv   *Server
	db    *storage.DB
	banks string
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "web.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	p := fsrs.DefaultParams()
	p.EnableFuzz = false
	sched, err := fsrs.NewScheduler(p, nil)
	require.NoError(t, err)

	m := metrics.NewCollector()
	svc, err := quiz.NewService(db, db, selector.New(selector.WithSize(3)), sched, quiz.WithObserver(m))
	require.NoError(t, err)

	if opts.ReposDir == "" {
		opts.ReposDir = filepath.Join(t.TempDir(), "repos")
	}
	banks := t.TempDir()
	writeBank(t, banks, 5)
	return &testEnv{srv: NewServer(db, svc, m, opts), db: db, banks: banks}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[errorResponse](t, rec).Error
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, Options{})
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, rec)["status"])
}

func TestSessionRoundTrip(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodPost, "/sources", addSourceRequest{Path: env.banks})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	source := decodeBody[storage.Source](t, rec)
	assert.Equal(t, sync.TypeLocal, source.Type)

	rec = env.do(t, http.MethodPost, "/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[sync.Report](t, rec)
	assert.Equal(t, 5, report.Parsed)

	rec = env.do(t, http.MethodGet, "/songs/anthem/questions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "correct", "the answer key is never sent")
	assert.Len(t, decodeBody[[]domain.Question](t, rec), 5)

	rec = env.do(t, http.MethodPost, "/sessions", startSessionRequest{UserID: "user-1", SongID: "anthem"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sess := decodeBody[quiz.Session](t, rec)
	require.Len(t, sess.Questions, 3)

	first := sess.Questions[0].UUID
	rec = env.do(t, http.MethodPost, "/sessions/"+sess.ID+"/answers", answerRequest{UUID: first, Choice: "a"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[quiz.AnswerResult](t, rec)
	assert.True(t, res.Correct)
	assert.Equal(t, fsrs.Learning, res.Card.State)

	rec = env.do(t, http.MethodPost, "/sessions/"+sess.ID+"/answers", answerRequest{UUID: sess.Questions[1].UUID, Choice: "b"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[quiz.AnswerResult](t, rec).Correct)

	rec = env.do(t, http.MethodPost, "/sessions/"+sess.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	record := decodeBody[domain.ProgressRecord](t, rec)
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, 1, record.TotalCorrect)
	assert.Equal(t, 2, record.TotalQuestions)

	rec = env.do(t, http.MethodGet, "/users/user-1/songs/anthem/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	progress := decodeBody[quiz.Progress](t, rec)
	require.NotNil(t, progress.Record)
	assert.Equal(t, record.ID, progress.Record.ID)
	assert.Equal(t, 2, progress.Summary.Tracked)

	rec = env.do(t, http.MethodGet, "/users/user-1/songs/anthem/history?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.ProgressRecord](t, rec), 1)

	t.Run("next session starts with new questions", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/sessions", startSessionRequest{UserID: "user-1", SongID: "anthem"})
		require.Equal(t, http.StatusCreated, rec.Code)
		next := decodeBody[quiz.Session](t, rec)
		require.Len(t, next.Questions, 3)
		for _, q := range next.Questions[:2] {
			assert.NotEqual(t, first, q.UUID)
		}
	})

	rec = env.do(t, http.MethodPost, "/sessions/"+sess.ID+"/complete", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionErrors(t *testing.T) {
	env := newTestEnv(t, Options{})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"malformed body", http.MethodPost, "/sessions", "{", http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/sessions", `{"userId":"u","songId":"s","extra":1}`, http.StatusBadRequest},
		{"missing user", http.MethodPost, "/sessions", startSessionRequest{SongID: "anthem"}, http.StatusBadRequest},
		{"empty song", http.MethodPost, "/sessions", startSessionRequest{UserID: "u", SongID: "nothing"}, http.StatusNotFound},
		{"unknown session", http.MethodPost, "/sessions/nope/answers", answerRequest{UUID: "x", Choice: "a"}, http.StatusNotFound},
		{"missing choice", http.MethodPost, "/sessions/nope/answers", answerRequest{UUID: "x"}, http.StatusBadRequest},
		{"get unknown session", http.MethodGet, "/sessions/nope", nil, http.StatusNotFound},
		{"bad history limit", http.MethodGet, "/users/u/songs/s/history?limit=zero", nil, http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/nowhere", nil, http.StatusNotFound},
		{"wrong method", http.MethodPut, "/sync", nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, errorOf(t, rec))
		})
	}
}

func TestAnswerValidation(t *testing.T) {
	env := newTestEnv(t, Options{})
	_, err := env.db.InsertSource(t.Context(), env.banks, sync.TypeLocal)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/sync", nil).Code)

	rec := env.do(t, http.MethodPost, "/sessions", startSessionRequest{UserID: "u", SongID: "anthem", Locale: "en"})
	require.Equal(t, http.StatusCreated, rec.Code)
	sess := decodeBody[quiz.Session](t, rec)

	rec = env.do(t, http.MethodPost, "/sessions/"+sess.ID+"/answers", answerRequest{UUID: sess.Questions[0].UUID, Choice: "z"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, quiz.ErrInvalidChoice.Error(), errorOf(t, rec))

	rec = env.do(t, http.MethodPost, "/sessions/"+sess.ID+"/answers", answerRequest{UUID: "not-in-session", Choice: "a"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, quiz.ErrQuestionNotInSession.Error(), errorOf(t, rec))
}

func TestSources(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodGet, "/sources", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]storage.Source](t, rec))

	rec = env.do(t, http.MethodPost, "/sources", addSourceRequest{Path: "https://github.com/me/banks.git"})
	require.Equal(t, http.StatusCreated, rec.Code)
	src := decodeBody[storage.Source](t, rec)
	assert.Equal(t, sync.TypeGit, src.Type)

	rec = env.do(t, http.MethodPost, "/sources", addSourceRequest{Path: "https://github.com/me/banks.git"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/sources", addSourceRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/sources", nil)
	assert.Len(t, decodeBody[[]storage.Source](t, rec), 1)

	rec = env.do(t, http.MethodDelete, "/sources/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/sources/%d", src.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/sources/%d", src.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.do(t, http.MethodGet, "/healthz", nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/healthz"`)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, Options{RateLimit: 0.001, RateBurst: 2})

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/sessions", startSessionRequest{UserID: "u", SongID: "nothing"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/sessions", startSessionRequest{UserID: "u", SongID: "nothing"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = env.do(t, http.MethodGet, "/sources", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "reads are not limited")

	rec = env.do(t, http.MethodGet, "/sessions/no-such-session", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "session reads are not limited")

	rec = env.do(t, http.MethodPost, "/sessions/no-such-session/answers", answerRequest{UUID: "q", Choice: "a"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, Options{CORSOrigins: []string{"https://quiz.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/sessions", nil)
	req.Header.Set("Origin", "https://quiz.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)

	assert.Equal(t, "https://quiz.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

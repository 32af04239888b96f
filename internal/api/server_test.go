package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shufengdong/sparrowzz-sub000/internal/aoe"
	"github.com/shufengdong/sparrowzz-sub000/internal/dispatcher"
	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
)

const testSecret = "test-secret"

func testDispatcher(t *testing.T) *dispatcher.Dispatcher {
	t.Helper()
	gin.SetMode(gin.TestMode)
	model := &domain.AoeModel{
		ID:      1,
		Name:    "probe",
		Events:  []domain.EventNode{{ID: 1, NodeType: domain.ConditionNode, Expr: "1", TimeoutMS: 10}},
		Trigger: domain.Trigger{Kind: domain.TriggerEventDrive},
	}
	inst := aoe.New(model, domain.NewBuffer(), 4, 4)
	require.NoError(t, inst.FinishAndCheck(nil))
	d := dispatcher.New(4)
	require.NoError(t, d.Schedule([]*aoe.Instance{inst}))
	t.Cleanup(func() { d.Shutdown(time.Second) })
	return d
}

func signToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "monitor",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func doRequest(srv *Server, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestListAoes_RequiresAuth(t *testing.T) {
	srv := NewServer(testDispatcher(t), NewHub(slog.Default()), testSecret)

	w := doRequest(srv, http.MethodGet, "/api/v1/aoes", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(srv, http.MethodGet, "/api/v1/aoes", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListAoes(t *testing.T) {
	srv := NewServer(testDispatcher(t), NewHub(slog.Default()), testSecret)

	w := doRequest(srv, http.MethodGet, "/api/v1/aoes", signToken(t, testSecret))
	require.Equal(t, http.StatusOK, w.Code)

	var got []aoeSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].ID)
	assert.Equal(t, "probe", got[0].Name)
	assert.Equal(t, "EventDrive", got[0].Trigger)
}

func TestGetAoe_NotFound(t *testing.T) {
	srv := NewServer(testDispatcher(t), NewHub(slog.Default()), testSecret)

	w := doRequest(srv, http.MethodGet, "/api/v1/aoes/99", signToken(t, testSecret))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(srv, http.MethodGet, "/api/v1/aoes/notanumber", signToken(t, testSecret))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestActivate(t *testing.T) {
	srv := NewServer(testDispatcher(t), NewHub(slog.Default()), testSecret)
	token := signToken(t, testSecret)

	w := doRequest(srv, http.MethodPost, "/api/v1/aoes/1/activate", token)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = doRequest(srv, http.MethodPost, "/api/v1/aoes/99/activate", token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthDisabledWithEmptySecret(t *testing.T) {
	srv := NewServer(testDispatcher(t), NewHub(slog.Default()), "")

	w := doRequest(srv, http.MethodGet, "/api/v1/aoes", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRejectsWrongSecret(t *testing.T) {
	srv := NewServer(testDispatcher(t), NewHub(slog.Default()), testSecret)

	w := doRequest(srv, http.MethodGet, "/api/v1/aoes", signToken(t, "other-secret"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/aristath/vaultkeeper/internal/modules/risk"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAssessor struct {
	users []domain.UserID
	err   error
}

func (s *stubAssessor) AssessRisk(ctx context.Context, user domain.UserID) (*risk.Report, error) {
	s.users = append(s.users, user)
	if s.err != nil {
		return nil, s.err
	}
	return &risk.Report{UserID: user, Compliant: true, Metrics: risk.Metrics{Overall: 42, Level: risk.LevelMedium}}, nil
}

func newTestRouter(t *testing.T, assessor RiskAssessor) (*chi.Mux, *risk.AlertManager) {
	t.Helper()
	log := zerolog.Nop()
	alerts := risk.NewAlertManager(risk.NewInMemoryAlertStore(log), nil, nil, nil, time.Hour, log)
	h := NewHandler(assessor, alerts, log)

	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		h.RegisterRoutes(r)
	})
	return router, alerts
}

func TestHandleGetAssessment(t *testing.T) {
	assessor := &stubAssessor{}
	router, _ := newTestRouter(t, assessor)

	req := httptest.NewRequest(http.MethodGet, "/api/risk/0xABC/assessment", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []domain.UserID{"0xabc"}, assessor.users)

	var resp struct {
		Data     risk.Report            `json:"data"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 42, resp.Data.Metrics.Overall)
	assert.Contains(t, resp.Metadata, "timestamp")
}

func TestHandleGetAssessment_Error(t *testing.T) {
	router, _ := newTestRouter(t, &stubAssessor{err: errors.New("rpc down")})

	req := httptest.NewRequest(http.MethodGet, "/api/risk/0xabc/assessment", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleAlerts_ListAndAcknowledge(t *testing.T) {
	router, alerts := newTestRouter(t, &stubAssessor{})

	alert, err := alerts.Raise(context.Background(), risk.AlertRequest{
		UserID:   "0xabc",
		Category: risk.CategoryStopLoss,
		Severity: risk.SeverityCritical,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/risk/0xabc/alerts", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Data struct {
			Alerts []risk.Alert `json:"alerts"`
			Count  int          `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Data.Count)

	req = httptest.NewRequest(http.MethodPost, "/api/risk/alerts/"+alert.ID+"/acknowledge", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/risk/0xabc/alerts", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 0, list.Data.Count)

	req = httptest.NewRequest(http.MethodGet, "/api/risk/0xabc/alerts?all=true", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Data.Count)
}

func TestHandleAcknowledgeAlert_NotFound(t *testing.T) {
	router, _ := newTestRouter(t, &stubAssessor{})

	req := httptest.NewRequest(http.MethodPost, "/api/risk/alerts/nope/acknowledge", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

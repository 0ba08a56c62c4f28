package simsapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/SimKeeper/internal/models"
	"github.com/BearBump/SimKeeper/internal/services/sims"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type repo struct {
	mu      sync.Mutex
	sims    map[string]*models.SimCard
	loadErr error
}

func (r *repo) LoadAll(ctx context.Context) ([]*models.SimCard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	out := make([]*models.SimCard, 0, len(r.sims))
	for _, sc := range r.sims {
		cp := *sc
		out = append(out, &cp)
	}
	return out, nil
}

func (r *repo) Get(ctx context.Context, id string) (*models.SimCard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.sims[id]
	if !ok {
		return nil, models.ErrSimNotFound
	}
	cp := *sc
	return &cp, nil
}

func (r *repo) Create(ctx context.Context, sc *models.SimCard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sc
	r.sims[sc.ID] = &cp
	return nil
}

func (r *repo) Update(ctx context.Context, sc *models.SimCard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sims[sc.ID]; !ok {
		return models.ErrSimNotFound
	}
	cp := *sc
	r.sims[sc.ID] = &cp
	return nil
}

func (r *repo) UpdateLastUsage(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.sims[id]
	if !ok {
		return models.ErrSimNotFound
	}
	sc.LastUsageDate = at
	return nil
}

func (r *repo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sims[id]; !ok {
		return models.ErrSimNotFound
	}
	delete(r.sims, id)
	return nil
}

type simBody struct {
	Sim struct {
		ID             string              `json:"id"`
		Label          string              `json:"label"`
		PhoneNumber    string              `json:"phoneNumber"`
		LastUsageDate  time.Time           `json:"lastUsageDate"`
		DaysRemaining  int                 `json:"daysRemaining"`
		Status         models.ExpiryStatus `json:"status"`
		DueForAutoSend bool                `json:"dueForAutoSend"`
	} `json:"sim"`
}

func newServer(t *testing.T, r *repo, now time.Time) *httptest.Server {
	t.Helper()
	svc := sims.New(r, nil, 0).WithClock(func() time.Time { return now })
	router := chi.NewRouter()
	New(svc).Register(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestSimsAPI_Flow(t *testing.T) {
	now := time.Date(2025, 6, 27, 12, 0, 0, 0, time.UTC)
	r := &repo{sims: map[string]*models.SimCard{}}
	srv := newServer(t, r, now)

	resp := do(t, http.MethodPost, srv.URL+"/sims", `{"label":"giffgaff","phoneNumber":"07700 900123","lastUsageDate":"2025-01-01"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created simBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.Sim.ID)
	require.Equal(t, "giffgaff", created.Sim.Label)
	require.True(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Equal(created.Sim.LastUsageDate))
	// 2025-01-01 + 180d = 2025-06-30, на 27.06 12:00 остаётся 2.5 дня -> 3
	require.Equal(t, 3, created.Sim.DaysRemaining)
	require.True(t, created.Sim.DueForAutoSend)
	require.Equal(t, models.ExpiryStatusCritical, created.Sim.Status)

	id := created.Sim.ID

	resp = do(t, http.MethodGet, srv.URL+"/sims", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Sims []json.RawMessage `json:"sims"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list.Sims, 1)

	resp = do(t, http.MethodPut, srv.URL+"/sims/"+id, `{"label":"EE"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated simBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	require.Equal(t, "EE", updated.Sim.Label)
	require.Equal(t, "07700 900123", updated.Sim.PhoneNumber)

	resp = do(t, http.MethodPost, srv.URL+"/sims/"+id+"/confirm-usage", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var confirmed simBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&confirmed))
	require.Equal(t, 180, confirmed.Sim.DaysRemaining)
	require.Equal(t, models.ExpiryStatusSafe, confirmed.Sim.Status)

	resp = do(t, http.MethodGet, srv.URL+"/sims/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodDelete, srv.URL+"/sims/"+id, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/sims/"+id, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSimsAPI_Errors(t *testing.T) {
	now := time.Date(2025, 6, 27, 12, 0, 0, 0, time.UTC)
	r := &repo{sims: map[string]*models.SimCard{}}
	srv := newServer(t, r, now)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
	}{
		{"missing label", http.MethodPost, "/sims", `{"phoneNumber":"07700900123"}`, http.StatusBadRequest},
		{"degenerate phone", http.MethodPost, "/sims", `{"label":"x","phoneNumber":"+44"}`, http.StatusBadRequest},
		{"bad date", http.MethodPost, "/sims", `{"label":"x","phoneNumber":"07700900123","lastUsageDate":"31/01/2025"}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/sims", `{"label":"x","phoneNumber":"07700900123","foo":1}`, http.StatusBadRequest},
		{"not json", http.MethodPut, "/sims/a", `nope`, http.StatusBadRequest},
		{"update missing", http.MethodPut, "/sims/a", `{"label":"x"}`, http.StatusNotFound},
		{"delete missing", http.MethodDelete, "/sims/a", "", http.StatusNotFound},
		{"confirm missing", http.MethodPost, "/sims/a/confirm-usage", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(t, tc.method, srv.URL+tc.path, tc.body)
			require.Equal(t, tc.code, resp.StatusCode)
			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			require.NotEmpty(t, body["error"])
		})
	}

	r.loadErr = errors.New("db down")
	resp := do(t, http.MethodGet, srv.URL+"/sims", "")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "Internal Server Error", body["error"])
}

func TestDate_UnmarshalJSON(t *testing.T) {
	var d Date
	require.NoError(t, json.Unmarshal([]byte(`"2025-03-04"`), &d))
	require.Equal(t, time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC), d.Time)

	require.NoError(t, json.Unmarshal([]byte(`"2025-03-04T10:00:00+02:00"`), &d))
	require.True(t, time.Date(2025, 3, 4, 8, 0, 0, 0, time.UTC).Equal(d.Time))

	require.Error(t, json.Unmarshal([]byte(`"yesterday"`), &d))
	require.Error(t, json.Unmarshal([]byte(`42`), &d))
}

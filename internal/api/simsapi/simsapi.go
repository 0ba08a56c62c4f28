package simsapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BearBump/SimKeeper/internal/models"
	"github.com/BearBump/SimKeeper/internal/services/sims"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type SimsAPI struct {
	svc *sims.Service
}

func New(svc *sims.Service) *SimsAPI {
	return &SimsAPI{svc: svc}
}

// Register mounts the record endpoints on r.
func (a *SimsAPI) Register(r chi.Router) {
	r.Route("/sims", func(r chi.Router) {
		r.Get("/", a.ListSims)
		r.Post("/", a.CreateSim)
		r.Get("/{id}", a.GetSim)
		r.Put("/{id}", a.UpdateSim)
		r.Delete("/{id}", a.DeleteSim)
		r.Post("/{id}/confirm-usage", a.ConfirmUsage)
	})
}

// Date accepts either a calendar date ("2025-01-31", taken as UTC midnight) or RFC 3339.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return errors.Errorf("lastUsageDate: expected YYYY-MM-DD or RFC 3339, got %q", s)
	}
	d.Time = t.UTC()
	return nil
}

type CreateSimRequest struct {
	Label         string `json:"label"`
	PhoneNumber   string `json:"phoneNumber"`
	LastUsageDate *Date  `json:"lastUsageDate,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

type UpdateSimRequest struct {
	Label         *string `json:"label,omitempty"`
	PhoneNumber   *string `json:"phoneNumber,omitempty"`
	LastUsageDate *Date   `json:"lastUsageDate,omitempty"`
	Notes         *string `json:"notes,omitempty"`
}

type SimResponse struct {
	Sim *sims.SimView `json:"sim"`
}

type ListSimsResponse struct {
	Sims []*sims.SimView `json:"sims"`
}

func (a *SimsAPI) ListSims(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListSimsResponse{Sims: out})
}

func (a *SimsAPI) CreateSim(w http.ResponseWriter, r *http.Request) {
	var req CreateSimRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	in := models.SimCardCreateInput{
		Label:       req.Label,
		PhoneNumber: req.PhoneNumber,
		Notes:       req.Notes,
	}
	if req.LastUsageDate != nil {
		in.LastUsageDate = req.LastUsageDate.Time
	}
	out, err := a.svc.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SimResponse{Sim: out})
}

func (a *SimsAPI) GetSim(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SimResponse{Sim: out})
}

func (a *SimsAPI) UpdateSim(w http.ResponseWriter, r *http.Request) {
	var req UpdateSimRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p := models.SimCardPatch{
		Label:       req.Label,
		PhoneNumber: req.PhoneNumber,
		Notes:       req.Notes,
	}
	if req.LastUsageDate != nil {
		p.LastUsageDate = &req.LastUsageDate.Time
	}
	out, err := a.svc.Update(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SimResponse{Sim: out})
}

func (a *SimsAPI) DeleteSim(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *SimsAPI) ConfirmUsage(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.ConfirmUsage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SimResponse{Sim: out})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(sims.ErrInvalidInput, err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps service errors onto HTTP codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, sims.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrSimNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := StatusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		slog.Error("sims api", "error", msg)
		msg = http.StatusText(code)
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

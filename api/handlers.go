package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"lot_harvester/models"
	"lot_harvester/services"
)

// Catalog is the part of the catalog service the HTTP layer needs
type Catalog interface {
	RunParsing(ctx context.Context) (*models.ReconcileResult, error)
	GetPage(ctx context.Context, q models.PageQuery) (*models.Page, error)
	GetByID(ctx context.Context, id int64) (*models.CatalogEntry, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.CatalogEntry, error)
	GetRun(ctx context.Context, id int64) (*models.RunReport, error)
	GetStats(ctx context.Context) (*models.Stats, error)
	IsRunning() bool
}

type Handler struct {
	catalog Catalog
}

func NewHandler(catalog Catalog) *Handler {
	return &Handler{catalog: catalog}
}

// NewRouter mounts the catalog routes under /api/funpay. Routes sit on the root
// router so a wrong method answers 405 rather than 404.
func NewRouter(catalog Catalog) *mux.Router {
	h := NewHandler(catalog)
	r := mux.NewRouter()
	r.HandleFunc("/api/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/api/funpay/lots", h.ListLots).Methods(http.MethodGet)
	r.HandleFunc("/api/funpay/lots/external/{externalId}", h.GetLotByExternalID).Methods(http.MethodGet)
	r.HandleFunc("/api/funpay/lots/{id}", h.GetLot).Methods(http.MethodGet)
	r.HandleFunc("/api/funpay/parse", h.Parse).Methods(http.MethodPost)
	r.HandleFunc("/api/funpay/runs/{id}", h.GetRun).Methods(http.MethodGet)
	r.HandleFunc("/api/funpay/stats", h.Stats).Methods(http.MethodGet)
	return r
}

type pageMeta struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

type pageResponse struct {
	Data []models.CatalogEntry `json:"data"`
	Meta pageMeta              `json:"meta"`
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Error marshalling JSON response: %v", err)
		http.Error(w, `{"error":"Failed to marshal JSON response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	log.Printf("API Error %d: %s", code, message)
	respondWithJSON(w, code, map[string]string{"error": message})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"parsing": h.catalog.IsRunning(),
	})
}

// ListLots serves GET /api/funpay/lots?page=&limit=&isActive=
func (h *Handler) ListLots(w http.ResponseWriter, r *http.Request) {
	q, err := parsePageQuery(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.catalog.GetPage(r.Context(), q)
	if errors.Is(err, services.ErrInvalidQuery) {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list lots: %v", err))
		return
	}

	respondWithJSON(w, http.StatusOK, pageResponse{
		Data: page.Items,
		Meta: pageMeta{
			Total:      page.Total,
			Page:       page.Page,
			Limit:      page.Limit,
			TotalPages: page.TotalPages,
		},
	})
}

func (h *Handler) GetLot(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid lot id '%s'", raw))
		return
	}

	lot, err := h.catalog.GetByID(r.Context(), id)
	if errors.Is(err, services.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("Lot with ID %d not found", id))
		return
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get lot: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, lot)
}

func (h *Handler) GetLotByExternalID(w http.ResponseWriter, r *http.Request) {
	externalID := mux.Vars(r)["externalId"]
	lot, err := h.catalog.GetByExternalID(r.Context(), externalID)
	if errors.Is(err, services.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("Lot with external ID %s not found", externalID))
		return
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get lot: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, lot)
}

// GetRun serves a past run with its log lines
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid run id '%s'", raw))
		return
	}

	report, err := h.catalog.GetRun(r.Context(), id)
	if errors.Is(err, services.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("Run with ID %d not found", id))
		return
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get run: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

// Parse runs a parsing pass synchronously and returns its result. The run is
// detached from the request so a dropped client does not abort it halfway.
func (h *Handler) Parse(w http.ResponseWriter, r *http.Request) {
	res, err := h.catalog.RunParsing(context.WithoutCancel(r.Context()))
	if errors.Is(err, services.ErrRunInProgress) {
		respondWithError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to run parsing: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.catalog.GetStats(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get stats: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, st)
}

// parsePageQuery validates query parameters. Absent page/limit stay zero and
// pick up the service defaults.
func parsePageQuery(r *http.Request) (models.PageQuery, error) {
	var q models.PageQuery
	values := r.URL.Query()

	var err error
	if q.Page, err = positiveParam(values.Get("page"), "page"); err != nil {
		return q, err
	}
	if q.Limit, err = positiveParam(values.Get("limit"), "limit"); err != nil {
		return q, err
	}

	switch v := values.Get("isActive"); v {
	case "":
	case "true", "false":
		active := v == "true"
		q.Active = &active
	default:
		return q, fmt.Errorf("isActive must be 'true' or 'false', got '%s'", v)
	}
	return q, nil
}

func positiveParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be an integer >= 1, got '%s'", name, raw)
	}
	return n, nil
}

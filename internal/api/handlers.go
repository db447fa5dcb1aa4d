package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/kenaz-import/internal/apperr"
	"github.com/starford/kenaz-import/internal/importservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *importservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *importservice.Service) *Handler {
	return &Handler{svc: svc}
}

// StartImport handles POST /api/imports.
//
//	@Summary		Run an import for one content kind
//	@Tags			imports
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ImportRequest	true	"Kind to import"
//	@Success		200		{object}	ImportReport
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		500		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/imports [post]
func (h *Handler) StartImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	report, err := h.svc.Import(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrRecordValidation):
			writeJSON(w, http.StatusBadRequest, errorBody("kind is required"))
		case errors.Is(err, apperr.ErrConflict):
			writeJSON(w, http.StatusConflict, errorBody("import already running"))
		case errors.Is(err, apperr.ErrSetup):
			slog.Error("import setup failed", slog.String("kind", req.Kind), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		default:
			slog.Error("import failed", slog.String("kind", req.Kind), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ImportStatus handles GET /api/imports/current.
//
//	@Summary		Current import state and last report
//	@Tags			imports
//	@Produce		json
//	@Success		200	{object}	ImportStatusResponse
//	@Security		BearerAuth
//	@Router			/imports/current [get]
func (h *Handler) ImportStatus(w http.ResponseWriter, _ *http.Request) {
	running, last := h.svc.Status()
	writeJSON(w, http.StatusOK, ImportStatusResponse{Running: running, Last: last})
}

// LookupIdentity handles GET /api/identity/{externalID}.
//
//	@Summary		Map an external id to its local id
//	@Tags			identity
//	@Produce		json
//	@Param			externalID	path		string	true	"External id"
//	@Success		200			{object}	IdentityResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/identity/{externalID} [get]
func (h *Handler) LookupIdentity(w http.ResponseWriter, r *http.Request) {
	ext := chi.URLParam(r, "externalID")
	id, err := h.svc.LookupLocalID(r.Context(), ext)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("lookup identity failed", slog.String("external_id", ext), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, IdentityResponse{ExternalID: ext, LocalID: id})
}

// GetItem handles GET /api/items/{id}.
//
//	@Summary		Get an imported item
//	@Tags			items
//	@Produce		json
//	@Param			id	path		int	true	"Local id"
//	@Success		200	{object}	ItemDetail
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/items/{id} [get]
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid id"))
		return
	}
	item, err := h.svc.GetItem(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get item failed", slog.Int64("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Search handles GET /api/search?q=.
//
//	@Summary		Full-text search over imported items
//	@Tags			items
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// ListRuns handles GET /api/runs.
//
//	@Summary		List recent import runs
//	@Tags			runs
//	@Produce		json
//	@Param			limit	query		int	false	"Page size"
//	@Success		200		{object}	RunListResponse
//	@Security		BearerAuth
//	@Router			/runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.svc.ListRuns(r.Context(), limit)
	if err != nil {
		slog.Error("list runs failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs})
}

// RunEntries handles GET /api/runs/{runID}/entries.
//
//	@Summary		Identity map of one run
//	@Tags			runs
//	@Produce		json
//	@Param			runID	path		string	true	"Run id"
//	@Success		200		{object}	RunEntriesResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{runID}/entries [get]
func (h *Handler) RunEntries(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	entries, err := h.svc.RunEntries(r.Context(), runID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("run entries failed", slog.String("run_id", runID), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, RunEntriesResponse{RunID: runID, Entries: entries})
}

// ListRedirects handles GET /api/redirects.
//
//	@Summary		List redirect rules
//	@Tags			redirects
//	@Produce		json
//	@Param			limit	query		int	false	"Page size"
//	@Success		200		{object}	RedirectListResponse
//	@Security		BearerAuth
//	@Router			/redirects [get]
func (h *Handler) ListRedirects(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rules, err := h.svc.ListRedirects(r.Context(), limit)
	if err != nil {
		slog.Error("list redirects failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, RedirectListResponse{Rules: rules})
}

// RedirectFallback serves legacy URLs that have a redirect rule and
// answers 404 otherwise. Mount it as the root router's NotFound handler.
func RedirectFallback(svc *importservice.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rule, err := svc.ResolveRedirect(r.Context(), r.URL.RequestURI())
		if err != nil {
			if !errors.Is(err, apperr.ErrNotFound) {
				slog.Error("resolve redirect failed", slog.String("uri", r.URL.RequestURI()), slog.String("error", err.Error()))
			}
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
			return
		}
		http.Redirect(w, r, rule.Target, rule.Code)
	}
}

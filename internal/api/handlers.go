package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/star/polargo/internal/httputil"
	"github.com/star/polargo/internal/polaralign"
	"github.com/star/polargo/internal/store"
	"github.com/star/polargo/internal/wcs"
)

// maxBodyBytes bounds request bodies; a solve result is a few hundred bytes.
const maxBodyBytes = 1 << 16

type handlers struct {
	ctrl   *Controller
	logger *slog.Logger
}

// GET /api/v1/session
func (h *handlers) session(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, h.ctrl.State())
}

// POST /api/v1/session/reset
func (h *handlers) reset(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Reset(r.Context())
	httputil.JSON(w, http.StatusOK, h.ctrl.State())
}

// POST /api/v1/session/samples
// Body: a plate-solve result document.
func (h *handlers) addSample(w http.ResponseWriter, r *http.Request) {
	sol, err := decodeSolution(w, r)
	if err != nil {
		return
	}
	res, err := h.ctrl.Ingest(r.Context(), sol)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, res)
}

// POST /api/v1/session/solve
func (h *handlers) solve(w http.ResponseWriter, r *http.Request) {
	res, err := h.ctrl.Solve(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, res)
}

// POST /api/v1/session/refresh
// Body: a plate-solve result document for the follow-up image.
func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	sol, err := decodeSolution(w, r)
	if err != nil {
		return
	}
	res, err := h.ctrl.Refresh(r.Context(), sol)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, res)
}

type correctedPixelRequest struct {
	Solution wcs.Solution     `json:"solution"`
	Pixel    polaralign.Pixel `json:"pixel"`
	AltOnly  bool             `json:"alt_only"`
}

// POST /api/v1/session/corrected-pixel
func (h *handlers) correctedPixel(w http.ResponseWriter, r *http.Request) {
	var req correctedPixelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	corrected, err := h.ctrl.CorrectedPixel(&req.Solution, req.Pixel, req.AltOnly)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"pixel": corrected})
}

type pixelErrorRequest struct {
	Solution wcs.Solution     `json:"solution"`
	Pixel    polaralign.Pixel `json:"pixel"`
	Target   polaralign.Pixel `json:"target"`
}

// POST /api/v1/session/pixel-error
func (h *handlers) pixelError(w http.ResponseWriter, r *http.Request) {
	var req pixelErrorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	perr, err := h.ctrl.PixelError(&req.Solution, req.Pixel, req.Target)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"error": perr})
}

// GET /api/v1/runs?limit=N
func (h *handlers) recentRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			httputil.Error(w, http.StatusBadRequest, "invalid limit parameter, must be 1-200")
			return
		}
		limit = n
	}
	runs, err := h.ctrl.RecentRuns(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GET /api/v1/runs/{id}
func (h *handlers) runDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid run id")
		return
	}
	run, refreshes, err := h.ctrl.RunDetail(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if refreshes == nil {
		refreshes = []store.Refresh{}
	}
	httputil.JSON(w, http.StatusOK, map[string]any{
		"run":       run,
		"refreshes": refreshes,
	})
}

// writeError maps workflow failures onto HTTP status codes: sequencing
// problems are conflicts, geometry and mapping problems are unprocessable
// input, anything else is a server error.
func (h *handlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, polaralign.ErrInsufficientSamples),
		errors.Is(err, polaralign.ErrSessionFull):
		httputil.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, polaralign.ErrDegenerateGeometry),
		errors.Is(err, polaralign.ErrRotationSearch),
		errors.Is(err, polaralign.ErrMappingUnavailable):
		httputil.Error(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, store.ErrNotFound):
		httputil.Error(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeSolution(w http.ResponseWriter, r *http.Request) (*wcs.Solution, error) {
	sol, err := wcs.Parse(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return nil, err
	}
	return sol, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

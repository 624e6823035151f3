package handler

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/templui/kickstart/internal/metrics"
	"github.com/templui/kickstart/internal/middleware"
	"github.com/templui/kickstart/internal/service"
	"github.com/templui/kickstart/internal/validation"
)

const maxKickstartBody = 64 << 10

type KickstartHandler struct {
	artifactService *service.ArtifactService
	observer        metrics.Observer
	appURL          string
}

func NewKickstartHandler(artifactService *service.ArtifactService, observer metrics.Observer, appURL string) *KickstartHandler {
	return &KickstartHandler{
		artifactService: artifactService,
		observer:        observer,
		appURL:          strings.TrimSuffix(appURL, "/"),
	}
}

type createKickstartResponse struct {
	ImageFile string    `json:"image_file"`
	URL       string    `json:"url"`
	AllowedIP string    `json:"allowed_ip"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Create handles POST /ks.
func (h *KickstartHandler) Create(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		h.observer.ArtifactCreated(metrics.ResultInvalid)
		writeError(w, http.StatusBadRequest, "request must be JSON")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxKickstartBody))
	if err != nil {
		h.observer.ArtifactCreated(metrics.ResultInvalid)
		if isTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	req, err := validation.DecodeKickstartRequest(body)
	if err != nil {
		h.observer.ArtifactCreated(metrics.ResultInvalid)
		var fields validation.FieldErrors
		if errors.As(err, &fields) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: fields})
			return
		}
		slog.Error("failed to validate request", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	artifact, err := h.artifactService.Create(req.Params(), req.AllowedIP)
	if err != nil {
		slog.Error("failed to create artifact", "error", err, "hostname", req.Hostname)
		writeError(w, http.StatusInternalServerError, "failed to create image")
		return
	}

	writeJSON(w, http.StatusCreated, createKickstartResponse{
		ImageFile: artifact.ID,
		URL:       h.appURL + "/ks/" + artifact.ID,
		AllowedIP: artifact.AllowedIP,
		ExpiresAt: artifact.ExpiresAt,
	})
}

// Get handles GET /ks/{id}.
func (h *KickstartHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	artifact, rc, err := h.artifactService.Open(id, middleware.PeerIP(r))
	switch {
	case errors.Is(err, service.ErrArtifactNotFound):
		writeError(w, http.StatusNotFound, "file not found")
		return
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusUnauthorized, "your IP is not permitted to access this resource")
		return
	case err != nil:
		slog.Error("failed to open artifact", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.ID}))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("artifact download interrupted", "error", err, "id", id)
	}
}

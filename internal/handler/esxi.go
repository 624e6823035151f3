package handler

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/templui/kickstart/internal/ctxkeys"
	"github.com/templui/kickstart/internal/isoeditor"
	"github.com/templui/kickstart/internal/metrics"
	"github.com/templui/kickstart/internal/service"
	"github.com/templui/kickstart/internal/validation"
)

// isoHeaderLen covers the first volume descriptor identifier.
const isoHeaderLen = 32774

type ESXiHandler struct {
	imageService *service.ImageService
	observer     metrics.Observer
	appURL       string
	maxUpload    int64
}

func NewESXiHandler(imageService *service.ImageService, observer metrics.Observer, appURL string, maxUpload int64) *ESXiHandler {
	return &ESXiHandler{
		imageService: imageService,
		observer:     observer,
		appURL:       strings.TrimSuffix(appURL, "/"),
		maxUpload:    maxUpload,
	}
}

// Upload handles POST /esxi: a multipart form with the ISO in the "file"
// field. The body is streamed to disk and patched before responding.
func (h *ESXiHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	mr, err := r.MultipartReader()
	if err != nil {
		h.reject(w, http.StatusBadRequest, "expected a multipart upload")
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			h.reject(w, http.StatusBadRequest, `missing "file" field`)
			return
		}
		if err != nil {
			h.rejectRead(w, err)
			return
		}
		if part.FormName() != "file" {
			_, _ = io.Copy(io.Discard, part)
			continue
		}

		h.store(w, r, part.FileName(), part)
		return
	}
}

func (h *ESXiHandler) store(w http.ResponseWriter, r *http.Request, name string, body io.Reader) {
	br := bufio.NewReaderSize(body, isoHeaderLen)
	head, err := br.Peek(isoHeaderLen)
	if err != nil && !errors.Is(err, io.EOF) {
		h.rejectRead(w, err)
		return
	}

	err = validation.ValidateFile(name, 0, bytes.NewReader(head), validation.ISOConstraints(h.maxUpload))
	if err != nil {
		h.reject(w, http.StatusBadRequest, err.Error())
		return
	}

	_, err = h.imageService.Upload(name, br)
	switch {
	case err == nil:
		slog.Info("installer image stored", "filename", name, "token", ctxkeys.TokenLabel(r.Context()))
		w.WriteHeader(http.StatusCreated)
	case isTooLarge(err):
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
	case errors.Is(err, validation.ErrInvalidFile):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, isoeditor.ErrEntryNotFound),
		errors.Is(err, isoeditor.ErrImageCorrupt),
		errors.Is(err, isoeditor.ErrWriteRejected):
		slog.Warn("uploaded image could not be patched", "error", err, "filename", name)
		writeError(w, http.StatusBadRequest, "image is not a patchable ESXi installer")
	default:
		slog.Error("failed to store image", "error", err, "filename", name)
		writeError(w, http.StatusInternalServerError, "failed to store image")
	}
}

func (h *ESXiHandler) reject(w http.ResponseWriter, status int, msg string) {
	h.observer.ImageUploaded(metrics.ResultInvalid, 0)
	writeError(w, status, msg)
}

func (h *ESXiHandler) rejectRead(w http.ResponseWriter, err error) {
	if isTooLarge(err) {
		h.reject(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}
	h.reject(w, http.StatusBadRequest, "malformed multipart upload")
}

type listImagesResponse struct {
	Images []string `json:"images"`
}

// List handles GET /esxi.
func (h *ESXiHandler) List(w http.ResponseWriter, r *http.Request) {
	images, err := h.imageService.List()
	if err != nil {
		slog.Error("failed to list images", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	urls := make([]string, 0, len(images))
	for _, img := range images {
		urls = append(urls, h.appURL+"/esxi/"+url.PathEscape(img.Filename))
	}
	writeJSON(w, http.StatusOK, listImagesResponse{Images: urls})
}

// Get handles GET /esxi/{filename}, including range requests.
func (h *ESXiHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")

	f, info, err := h.imageService.Open(name)
	if errors.Is(err, service.ErrImageNotFound) {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	if err != nil {
		slog.Error("failed to open image", "error", err, "filename", name)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, name, info.ModTime(), f)
}

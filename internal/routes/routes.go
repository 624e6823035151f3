package routes

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/templui/kickstart/internal/app"
	"github.com/templui/kickstart/internal/handler"
	"github.com/templui/kickstart/internal/middleware"
)

func SetupRoutes(a *app.App) http.Handler {
	// Handlers
	kickstart := handler.NewKickstartHandler(a.ArtifactService, a.Observer, a.Cfg.AppURL)
	esxi := handler.NewESXiHandler(a.ImageService, a.Observer, a.Cfg.AppURL, a.Cfg.ISOMaxUploadBytes)
	health := handler.NewHealthHandler(a.DB)

	mux := http.NewServeMux()

	// ============================================================================
	// TOKEN PROTECTED ROUTES (rate limited per peer address)
	// ============================================================================

	rateLimit := middleware.RateLimit(a.Cfg.RateLimitRequests, a.Cfg.RateLimitWindow)
	requireToken := middleware.RequireToken(a.AccessGate)
	protected := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h, rateLimit, requireToken)
	}

	mux.Handle("POST /ks", protected(kickstart.Create))
	mux.Handle("POST /esxi", protected(esxi.Upload))

	// ============================================================================
	// PUBLIC ROUTES
	// ============================================================================

	// Floppy artifacts are gated by the requester's address
	mux.HandleFunc("GET /ks/{id}", kickstart.Get)

	// Installer images
	mux.HandleFunc("GET /esxi", esxi.List)
	mux.HandleFunc("GET /esxi/{filename}", esxi.Get)

	// Operations
	mux.HandleFunc("GET /healthz", health.Health)
	if a.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(a.Gatherer, promhttp.HandlerOpts{}))
	}

	// ============================================================================
	// FALLBACK
	// ============================================================================

	// 404
	mux.HandleFunc("/{path...}", handler.NotFound)

	// Global middleware - executed in order (top to bottom)
	h := middleware.Chain(
		mux,
		middleware.RequestID,
		middleware.RequestLogging(a.Observer), // Must wrap the mux directly to see the matched route
	)

	return h
}

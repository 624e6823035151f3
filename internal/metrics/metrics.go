// Package metrics exports service counters to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kickstart"

// Result labels.
const (
	ResultOK           = "ok"
	ResultError        = "error"
	ResultNotFound     = "not_found"
	ResultUnauthorized = "unauthorized"
	ResultInvalid      = "invalid"
)

// Observer captures telemetry for artifact and image operations.
type Observer interface {
	ArtifactCreated(result string)
	ArtifactRetrieved(result string)
	ArtifactsReaped(reaped, failed int)
	ImageUploaded(result string, sizeBytes int64)
	HTTPRequest(method, route string, status int, duration time.Duration)
}

// Prometheus exports Observer events as Prometheus metrics.
type Prometheus struct {
	created      *prometheus.CounterVec
	retrieved    *prometheus.CounterVec
	reaped       prometheus.Counter
	reapFailures prometheus.Counter
	uploads      *prometheus.CounterVec
	uploadBytes  prometheus.Counter
	requests     *prometheus.HistogramVec
}

// NewPrometheus registers the service metrics with reg, or with the
// default registerer when reg is nil. Registering twice reuses the
// collectors already present.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	p := &Prometheus{}
	var err error
	if p.created, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "artifacts_created_total",
		Help:      "Floppy artifacts created, by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if p.retrieved, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "artifact_retrievals_total",
		Help:      "Floppy artifact downloads, by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if p.reaped, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "artifacts_reaped_total",
		Help:      "Expired artifacts removed by the reaper.",
	})); err != nil {
		return nil, err
	}
	if p.reapFailures, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "artifact_reap_failures_total",
		Help:      "Expired artifacts the reaper could not remove and will retry.",
	})); err != nil {
		return nil, err
	}
	if p.uploads, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "image_uploads_total",
		Help:      "Installer ISO uploads, by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if p.uploadBytes, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "image_upload_bytes_total",
		Help:      "Bytes of installer ISOs stored.",
	})); err != nil {
		return nil, err
	}
	if p.requests, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})); err != nil {
		return nil, err
	}
	return p, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

func (p *Prometheus) ArtifactCreated(result string) {
	p.created.WithLabelValues(result).Inc()
}

func (p *Prometheus) ArtifactRetrieved(result string) {
	p.retrieved.WithLabelValues(result).Inc()
}

func (p *Prometheus) ArtifactsReaped(reaped, failed int) {
	p.reaped.Add(float64(reaped))
	p.reapFailures.Add(float64(failed))
}

func (p *Prometheus) ImageUploaded(result string, sizeBytes int64) {
	p.uploads.WithLabelValues(result).Inc()
	if result == ResultOK {
		p.uploadBytes.Add(float64(sizeBytes))
	}
}

func (p *Prometheus) HTTPRequest(method, route string, status int, duration time.Duration) {
	p.requests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

// Nop discards all events. It is used when METRICS_ENABLED is false and
// in tests.
type Nop struct{}

func (Nop) ArtifactCreated(string) {}
func (Nop) ArtifactRetrieved(string) {}
func (Nop) ArtifactsReaped(int, int) {}
func (Nop) ImageUploaded(string, int64) {}
func (Nop) HTTPRequest(string, string, int, time.Duration) {}

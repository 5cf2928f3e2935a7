package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skypoolhq/skypool/httputils"
	"github.com/skypoolhq/skypool/metrics"
	"github.com/skypoolhq/skypool/pool"
	logger "github.com/skypoolhq/skypool/skylogger"
	"golang.org/x/time/rate"
)

// InstanceAssignHandler receives an assign request, authenticates it, and
// forwards it to the pool manager for processing.
func InstanceAssignHandler(w http.ResponseWriter, req *http.Request, events chan<- pool.ScalingEvent, m *pool.Manager) {
	// Verify that we got a POST request
	if err := httputils.VerifyRequestType(w, req, http.MethodPost); err != nil {
		logger.Errorf("Error verifying request type: %s", err)
		return
	}

	var reqdata httputils.InstanceAssignRequest
	claims, err := httputils.AuthenticateRequest(w, req, &reqdata)
	if err != nil {
		logger.Errorf("Failed while authenticating assign request: %s", err)
		return
	}

	// Prefer the verified email from the token over whatever the body says.
	if claims != nil && claims.Subject != "" && reqdata.UserEmail == "" {
		reqdata.UserEmail = claims.Subject
	}

	// Once we have authenticated and validated the request, send it to the
	// pool manager for processing.
	events <- pool.ScalingEvent{
		ID:     newEventID(),
		Type:   pool.ServerInstanceAssignEvent,
		Data:   &reqdata,
		Region: m.Region(),
	}
	res := <-reqdata.ResultChan

	res.Send(w)
}

// InstanceReleaseHandler receives a release request and forwards it to the
// pool manager.
func InstanceReleaseHandler(w http.ResponseWriter, req *http.Request, events chan<- pool.ScalingEvent, m *pool.Manager) {
	if err := httputils.VerifyRequestType(w, req, http.MethodPost); err != nil {
		logger.Errorf("Error verifying request type: %s", err)
		return
	}

	var reqdata httputils.InstanceReleaseRequest
	if _, err := httputils.AuthenticateRequest(w, req, &reqdata); err != nil {
		logger.Errorf("Failed while authenticating release request: %s", err)
		return
	}

	events <- pool.ScalingEvent{
		ID:     newEventID(),
		Type:   pool.ServerInstanceReleaseEvent,
		Data:   &reqdata,
		Region: m.Region(),
	}
	res := <-reqdata.ResultChan

	res.Send(w)
}

// SessionActivityHandler resets a session's idle clock.
func SessionActivityHandler(w http.ResponseWriter, req *http.Request, events chan<- pool.ScalingEvent, m *pool.Manager) {
	if err := httputils.VerifyRequestType(w, req, http.MethodPost); err != nil {
		logger.Errorf("Error verifying request type: %s", err)
		return
	}

	var reqdata httputils.SessionActivityRequest
	if _, err := httputils.AuthenticateRequest(w, req, &reqdata); err != nil {
		logger.Errorf("Failed while authenticating activity request: %s", err)
		return
	}

	events <- pool.ScalingEvent{
		ID:     newEventID(),
		Type:   pool.ServerSessionActivityEvent,
		Data:   &reqdata,
		Region: m.Region(),
	}
	res := <-reqdata.ResultChan

	res.Send(w)
}

// PoolMetricsHandler returns a point-in-time snapshot of the pool as JSON.
// Unlike the Prometheus endpoint, this one is meant for dashboards and the
// CLI.
func PoolMetricsHandler(w http.ResponseWriter, req *http.Request, m *pool.Manager) {
	if err := httputils.VerifyRequestType(w, req, http.MethodGet); err != nil {
		logger.Errorf("Error verifying request type: %s", err)
		return
	}

	snapshot := m.GetPoolMetrics()

	buf, err := json.Marshal(snapshot)
	if err != nil {
		logger.Errorf("Error marshalling pool metrics: %s", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(buf)
}

// StartHTTPServer registers the pool endpoints and starts serving in a
// goroutine.
func StartHTTPServer(m *pool.Manager, events chan pool.ScalingEvent) {
	logger.Infof("Starting HTTP server...")

	createHandler := func(f func(http.ResponseWriter, *http.Request, chan<- pool.ScalingEvent, *pool.Manager)) func(http.ResponseWriter, *http.Request) {
		return func(w http.ResponseWriter, r *http.Request) {
			f(w, r, events, m)
		}
	}

	// Start a new rate limiter. This will limit requests on an endpoint
	// to every `interval` with a burst of up to `burst` requests. This
	// will help mitigate Denial of Service attacks, or a client
	// spamming too many requests.
	interval := 1 * time.Second
	burst := 10
	limiter := rate.NewLimiter(rate.Every(interval), burst)

	// Activity pings arrive on every user action, so they get a looser
	// limiter than the allocation endpoints.
	activityLimiter := rate.NewLimiter(rate.Every(100*time.Millisecond), 100)

	prometheus.MustRegister(metrics.NewPoolCollector(m.GetPoolMetrics))

	// Create a custom HTTP Request Multiplexer
	mux := http.NewServeMux()
	mux.Handle("/", http.NotFoundHandler())
	mux.HandleFunc("/instance/assign", httputils.ThrottleMiddleware(limiter, createHandler(InstanceAssignHandler)))
	mux.HandleFunc("/instance/release", httputils.ThrottleMiddleware(limiter, createHandler(InstanceReleaseHandler)))
	mux.HandleFunc("/session/activity", httputils.ThrottleMiddleware(activityLimiter, createHandler(SessionActivityHandler)))
	mux.HandleFunc("/pool/metrics", func(w http.ResponseWriter, r *http.Request) {
		PoolMetricsHandler(w, r, m)
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Add timeouts to help mitigate potential rogue clients
	// or DDOS attacks.
	srv := &http.Server{
		Addr:         "0.0.0.0:8082",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 700 * time.Second,
		IdleTimeout:  120 * time.Second,
		Handler:      mux,
	}

	go func() {
		logger.Error(srv.ListenAndServe())
	}()
}

// Package metrics holds the prometheus collectors shared by the server
// components and the HTTP middleware that feeds the request counter.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarthome_http_requests_total",
			Help: "Total REST requests by route, method, and status.",
		},
		[]string{"route", "method", "status"},
	)

	EventsBroadcast = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarthome_events_broadcast_total",
			Help: "Notifications emitted on the event bus by kind.",
		},
		[]string{"event"},
	)

	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarthome_events_dropped_total",
			Help: "Notifications dropped because a connection's send buffer was full.",
		},
		[]string{"event"},
	)

	IntentsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarthome_intents_received_total",
			Help: "Client intents received over the event bus by kind.",
		},
		[]string{"event"},
	)

	ConnectedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "smarthome_ws_clients",
			Help: "Currently connected event bus clients.",
		},
	)

	SimulationTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smarthome_simulation_ticks_total",
			Help: "Thermostat simulation passes executed.",
		},
	)

	SimulationMoves = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smarthome_simulation_moves_total",
			Help: "Thermostat temperature steps applied by the simulation.",
		},
	)

	MQTTPublishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smarthome_mqtt_publish_failures_total",
			Help: "Device state publications to the MQTT broker that failed.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestCounter,
		EventsBroadcast,
		EventsDropped,
		IntentsReceived,
		ConnectedClients,
		SimulationTicks,
		SimulationMoves,
		MQTTPublishFailures,
	)
}

// Handler serves the default registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware counts requests by chi route pattern so path parameters do not
// explode label cardinality. Unmatched paths are counted as "unmatched".
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		RequestCounter.WithLabelValues(route, r.Method, strconv.Itoa(rw.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Package metrics exposes Prometheus counters/gauges for the bsdebug
// client/server pair, mirrored to plain atomics for cheap periodic
// logging without scraping Prometheus in-process. Shape mirrored from
// the teacher's internal/metrics package: promauto series plus a Snap()
// struct of local atomic mirrors.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bsdebug_requests_issued_total",
		Help: "Total requests written to the control channel, by command.",
	}, []string{"command"})
	ResponsesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bsdebug_responses_dispatched_total",
		Help: "Total responses matched to a pending request and dispatched, by command.",
	}, []string{"command"})
	UpdatesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bsdebug_updates_received_total",
		Help: "Total asynchronous update frames received, by update type.",
	}, []string{"update_type"})
	ProtocolViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bsdebug_protocol_violations_total",
		Help: "Total protocol violations observed, by kind.",
	}, []string{"kind"})
	TelnetCommandsExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bsdebug_telnet_commands_executed_total",
		Help: "Total telnet commands that ran to completion.",
	})
	TelnetQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bsdebug_telnet_queue_depth",
		Help: "Current number of telnet commands queued (including the active one).",
	})
	DiscoveryEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bsdebug_discovery_events_total",
		Help: "Total mDNS discovery events, by kind (advertise|browse_found).",
	}, []string{"kind"})
)

// Violation kind label constants (stable label values to bound cardinality).
const (
	ViolationBadMagic           = "bad_magic"
	ViolationUnknownRequestID   = "unknown_request_id"
	ViolationUnknownUpdateType  = "unknown_update_type"
	ViolationUnknownCommandCode = "unknown_command_code"
	ViolationDecodeError        = "decode_error"
	ViolationSocketError        = "socket_error"
)

// Local mirrored counters for cheap periodic logging.
var (
	localRequestsIssued      uint64
	localResponsesDispatched uint64
	localUpdatesReceived     uint64
	localProtocolViolations  uint64
	localTelnetCommandsDone  uint64
)

// Snapshot is a cheap copy of the local counters.
type Snapshot struct {
	RequestsIssued      uint64
	ResponsesDispatched uint64
	UpdatesReceived     uint64
	ProtocolViolations  uint64
	TelnetCommandsDone  uint64
}

func Snap() Snapshot {
	return Snapshot{
		RequestsIssued:      atomic.LoadUint64(&localRequestsIssued),
		ResponsesDispatched: atomic.LoadUint64(&localResponsesDispatched),
		UpdatesReceived:     atomic.LoadUint64(&localUpdatesReceived),
		ProtocolViolations:  atomic.LoadUint64(&localProtocolViolations),
		TelnetCommandsDone:  atomic.LoadUint64(&localTelnetCommandsDone),
	}
}

func IncRequestIssued(command string) {
	RequestsIssued.WithLabelValues(command).Inc()
	atomic.AddUint64(&localRequestsIssued, 1)
}

func IncResponseDispatched(command string) {
	ResponsesDispatched.WithLabelValues(command).Inc()
	atomic.AddUint64(&localResponsesDispatched, 1)
}

func IncUpdateReceived(updateType string) {
	UpdatesReceived.WithLabelValues(updateType).Inc()
	atomic.AddUint64(&localUpdatesReceived, 1)
}

func IncProtocolViolation(kind string) {
	ProtocolViolations.WithLabelValues(kind).Inc()
	atomic.AddUint64(&localProtocolViolations, 1)
}

func IncTelnetCommandExecuted() {
	TelnetCommandsExecuted.Inc()
	atomic.AddUint64(&localTelnetCommandsDone, 1)
}

func SetTelnetQueueDepth(n int) { TelnetQueueDepth.Set(float64(n)) }

func IncDiscoveryEvent(kind string) { DiscoveryEvents.WithLabelValues(kind).Inc() }

// StartHTTP serves Prometheus metrics at /metrics on a new mux.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

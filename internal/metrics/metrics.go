// Package metrics provides Prometheus metrics collection for the chat core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RealtimeConnections tracks the current number of open realtime connections
	RealtimeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatcore_realtime_connections",
		Help: "Current number of open realtime connections",
	})

	// ReconnectAttempts tracks reconnection attempts after a transport loss
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_reconnect_attempts_total",
		Help: "Total number of reconnection attempts",
	})

	// Reconnections tracks successful recoveries
	Reconnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_reconnections_total",
		Help: "Total number of successful reconnections",
	})

	// MessagesReconciled tracks optimistic entries replaced by confirmed copies
	MessagesReconciled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_messages_reconciled_total",
		Help: "Total number of optimistic messages replaced by server-confirmed copies",
	})

	// DuplicatesDropped tracks confirmed messages discarded as duplicates
	DuplicatesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_duplicates_dropped_total",
		Help: "Total number of duplicate confirmed messages discarded",
	})

	// SendFailures tracks message sends that failed after the optimistic insert
	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_send_failures_total",
		Help: "Total number of message sends that failed after the optimistic insert",
	})

	// Escalations tracks accepted hand-offs to a human agent
	Escalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcore_escalations_total",
		Help: "Total number of escalations by trigger",
	}, []string{"trigger"})

	// TrackedAdminSessions tracks sessions currently held in the admin registry
	TrackedAdminSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatcore_tracked_admin_sessions",
		Help: "Current number of sessions tracked by the admin console",
	})

	// TypingSignalsSent tracks coalesced outbound typing signals
	TypingSignalsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_typing_signals_sent_total",
		Help: "Total number of outbound typing signals after coalescing",
	})

	// InternalErrors tracks recovered panics and other internal failures
	InternalErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_internal_errors_total",
		Help: "Total number of recovered panics and internal errors",
	})
)

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// MessagesTotal — входящие MQTT-сообщения по виду и исходу (accepted, dropped, failed).
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "espvote_messages_total",
			Help: "Inbound device messages by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	MessageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "espvote_message_duration_seconds",
			Help:    "Time spent handling one inbound device message.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	PublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "espvote_published_total",
			Help: "Outbound device messages by result.",
		},
		[]string{"result"},
	)

	VotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "espvote_votes_total",
			Help: "Accepted votes by status (created, updated).",
		},
		[]string{"status"},
	)

	RegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "espvote_registrations_total",
			Help: "Device registrations by kind (new, refresh).",
		},
		[]string{"kind"},
	)
)

var once sync.Once

// MustRegister регистрирует коллекторы в default registry. Повторные вызовы игнорируются.
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
			MessagesTotal,
			MessageDurationSeconds,
			PublishedTotal,
			VotesTotal,
			RegistrationsTotal,
		)
	})
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_connections",
		Help: "Current number of active client connections",
	})
	MessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of messages posted to rooms",
	})
	BroadcastDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_broadcast_duration_seconds",
		Help:    "Time spent fanning a message out to all room members",
		Buckets: prometheus.DefBuckets,
	})
	BroadcastMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_broadcast_misses_total",
		Help: "Broadcast sends that failed because the member connection was gone",
	})
	TokensSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_tokens_swept_total",
		Help: "Expired tokens removed by the periodic sweep",
	})
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_commands_total",
		Help: "Protocol commands processed, by verb",
	}, []string{"command"})
)

func init() {
	prometheus.MustRegister(
		ActiveConnections,
		MessagesTotal,
		BroadcastDuration,
		BroadcastMisses,
		TokensSwept,
		CommandsTotal,
	)
}

package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry       *prometheus.Registry
	connections    prometheus.Gauge
	onlineUsers    prometheus.Gauge
	joinedConns    prometheus.Gauge
	threads        prometheus.Gauge
	events         *prometheus.CounterVec
	messages       *prometheus.CounterVec
	friendRequests *prometheus.CounterVec
	uploads        *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connections",
			Help: "Open websocket connections.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_online_users",
			Help: "Usernames with at least one open connection.",
		}),
		joinedConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_joined_connections",
			Help: "Connections that have joined under a username.",
		}),
		threads: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_private_threads",
			Help: "Private chat threads held in memory.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Inbound websocket events by type.",
		}, []string{"type"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Chat messages routed, public or private.",
		}, []string{"kind"}),
		friendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_friend_requests_total",
			Help: "Friend request outcomes.",
		}, []string{"result"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_uploads_total",
			Help: "Upload attempts by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections,
		m.onlineUsers,
		m.joinedConns,
		m.threads,
		m.events,
		m.messages,
		m.friendRequests,
		m.uploads,
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

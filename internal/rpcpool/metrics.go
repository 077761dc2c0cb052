package rpcpool

import (
	"net/url"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeEndpoint = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "harvester_rpc_active",
		Help: "Indicates which RPC endpoint is currently active (1=active, 0=inactive)",
	}, []string{"host"})
	endpointFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_rpc_failures_total",
		Help: "Total number of failed RPC liveness probes per endpoint",
	}, []string{"host"})
	cooldownTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_rpc_cooldown_trips_total",
		Help: "Total number of times an RPC endpoint was put in cooldown",
	}, []string{"host"})
	allDown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_rpc_all_down",
		Help: "Indicates if every RPC endpoint is failing (1=down, 0=healthy)",
	})
)

// hostLabel keeps API keys embedded in RPC paths out of metric labels.
func hostLabel(u string) string {
	p, err := url.Parse(u)
	if err != nil || p.Host == "" {
		return "invalid"
	}
	return p.Host
}

package protocolbanks

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SDK-level metrics. Nothing is registered automatically; call
// RegisterMetrics with the registry the host application exposes.
var (
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protocolbanks_api_requests_total",
			Help: "Total API requests by method, path and outcome.",
		},
		[]string{"method", "path", "outcome"},
	)

	apiRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "protocolbanks_api_retries_total",
		Help: "Total retry attempts issued by the transport.",
	})

	apiQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "protocolbanks_api_queue_depth",
		Help: "Requests currently admitted but not yet completed.",
	})

	tokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protocolbanks_token_refresh_total",
			Help: "Credential acquisitions and refreshes by outcome.",
		},
		[]string{"outcome"},
	)

	batchItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protocolbanks_batch_items_total",
			Help: "Batch items processed by terminal status.",
		},
		[]string{"status"},
	)

	x402SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protocolbanks_x402_settlements_total",
			Help: "Gasless authorizations reaching a terminal status, by route.",
		},
		[]string{"route", "status"},
	)

	webhookVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protocolbanks_webhook_verifications_total",
			Help: "Webhook verification attempts by result.",
		},
		[]string{"result"},
	)
)

// RegisterMetrics registers the SDK collectors with r. Safe to call once per
// registry; a second call with the same registry returns the registration
// error from prometheus.
func RegisterMetrics(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		apiRequestsTotal,
		apiRetriesTotal,
		apiQueueDepth,
		tokenRefreshTotal,
		batchItemsTotal,
		x402SettlementsTotal,
		webhookVerificationsTotal,
	} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

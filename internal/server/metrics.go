package server

import (
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/rpcfleet/rpcfleet/internal/errors"
)

// MetricsHandler serves gatherer in the Prometheus exposition format. A nil
// gatherer answers SERVICE_UNAVAILABLE, matching a server started with
// metrics disabled.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apperrors.RespondWithError(w, r, errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "Metrics are disabled"))
		})
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

package metrics

import "github.com/VictoriaMetrics/metrics"

// used http statuses are limited, so they are created up front
var (
	statusOK                  = metrics.NewCounter(`http_requests_total{status="200"}`)
	statusBadRequest          = metrics.NewCounter(`http_requests_total{status="400"}`)
	statusNotFound            = metrics.NewCounter(`http_requests_total{status="404"}`)
	statusInternalServerError = metrics.NewCounter(`http_requests_total{status="500"}`)
	statusGatewayTimeout      = metrics.NewCounter(`http_requests_total{status="504"}`)
)

func StatusOKInc()                  { statusOK.Inc() }
func StatusBadRequestInc()          { statusBadRequest.Inc() }
func StatusNotFoundInc()            { statusNotFound.Inc() }
func StatusInternalServerErrorInc() { statusInternalServerError.Inc() }
func StatusGatewayTimeoutInc()      { statusGatewayTimeout.Inc() }

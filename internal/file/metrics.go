package file

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var storageOps = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "api_file_storage_operations_total",
		Help: "Storage driver operations by driver, operation and result.",
	},
	[]string{"driver", "op", "result"},
)

func observe(driver, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storageOps.WithLabelValues(driver, op, result).Inc()
}

package content

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	downloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "egiraffe_downloads_total",
		Help: "File download requests by outcome.",
	}, []string{"outcome"})

	uploadedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "egiraffe_uploaded_bytes_total",
		Help: "Bytes written to the blob store by file uploads.",
	})
)

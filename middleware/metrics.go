package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mnehpets/rpcserve/endpoint"
)

// MetricsProcessor counts requests by verb and status and observes their
// duration.
type MetricsProcessor struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetricsProcessor registers its collectors with reg under namespace.
func NewMetricsProcessor(reg prometheus.Registerer, namespace string) (*MetricsProcessor, error) {
	p := &MetricsProcessor{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by verb and status code.",
		}, []string{"method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time spent serving HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	for _, c := range []prometheus.Collector{p.requests, p.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Process implements endpoint.Processor. A request stopped by a later
// processor is counted with the status of its error.
func (p *MetricsProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w}

	err := next(sw, r)

	status := sw.status
	switch {
	case err != nil && status == 0:
		status = endpoint.StatusOf(err)
	case status == 0:
		status = http.StatusOK
	}
	p.requests.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
	p.duration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	return err
}

// statusWriter records the status passed to WriteHeader.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

var _ endpoint.Processor = (*MetricsProcessor)(nil)

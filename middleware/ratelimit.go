package middleware

import (
	"math"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/mnehpets/rpcserve/endpoint"
)

// RateLimitProcessor admits requests from a shared token bucket and rejects
// the rest with 429 Too Many Requests.
type RateLimitProcessor struct {
	limiter *rate.Limiter
}

// NewRateLimitProcessor allows rps requests per second with bursts of burst.
// A non-positive rps disables limiting.
func NewRateLimitProcessor(rps float64, burst int) *RateLimitProcessor {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitProcessor{limiter: rate.NewLimiter(limit, burst)}
}

// Process implements endpoint.Processor.
func (p *RateLimitProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	res := p.limiter.Reserve()
	if !res.OK() {
		return endpoint.Error(http.StatusTooManyRequests, "", nil)
	}
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
		return endpoint.Error(http.StatusTooManyRequests, "", nil)
	}
	return next(w, r)
}

var _ endpoint.Processor = (*RateLimitProcessor)(nil)

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mnehpets/rpcserve/endpoint"
)

func TestRateLimitProcessor_RejectsOverBurst(t *testing.T) {
	p := NewRateLimitProcessor(0.001, 2)

	for i := 0; i < 2; i++ {
		called := false
		if err := p.Process(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil), nextOK(&called)); err != nil || !called {
			t.Fatalf("request %d: err %v, called %v", i, err, called)
		}
	}

	w := httptest.NewRecorder()
	called := false
	err := p.Process(w, httptest.NewRequest(http.MethodPost, "/", nil), nextOK(&called))
	if called {
		t.Error("next called past the burst")
	}
	if endpoint.StatusOf(err) != http.StatusTooManyRequests {
		t.Errorf("got %v", err)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestRateLimitProcessor_Unlimited(t *testing.T) {
	p := NewRateLimitProcessor(0, 0)
	for i := 0; i < 100; i++ {
		called := false
		if err := p.Process(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), nextOK(&called)); err != nil || !called {
			t.Fatalf("request %d: err %v", i, err)
		}
	}
}

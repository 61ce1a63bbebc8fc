package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mnehpets/rpcserve/endpoint"
)

func newTestSessionProcessor(t *testing.T, opts ...SessionOption) (*SessionProcessor, *CookieSealer) {
	t.Helper()
	sealer, err := NewCookieSealer(DefaultSessionCookie, "k1", testKeys())
	if err != nil {
		t.Fatalf("NewCookieSealer: %v", err)
	}
	p, err := NewSessionProcessor(sealer, opts...)
	if err != nil {
		t.Fatalf("NewSessionProcessor: %v", err)
	}
	return p, sealer
}

// runSession serves one request through p, calling fn with the session.
func runSession(t *testing.T, p *SessionProcessor, cookie *http.Cookie, fn func(*Session)) *http.Response {
	t.Helper()
	h := endpoint.Handler(func(_ http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
		sess, ok := SessionFromContext(r.Context())
		if !ok {
			t.Fatal("no session in context")
		}
		if fn != nil {
			fn(sess)
		}
		return &endpoint.NoContentRenderer{}, nil
	}, p)

	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Result()
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == DefaultSessionCookie {
			return c
		}
	}
	return nil
}

func TestSessionProcessor_NoCookieNoChange(t *testing.T) {
	p, _ := newTestSessionProcessor(t)
	resp := runSession(t, p, nil, func(s *Session) {
		if s.ID() != "" {
			t.Errorf("expected no session id, got %q", s.ID())
		}
		if _, ok := s.Subject(); ok {
			t.Error("expected no subject")
		}
		if err := s.Get("k", new(string)); !errors.Is(err, ErrNoSession) {
			t.Errorf("Get: got %v", err)
		}
	})
	if c := sessionCookie(resp); c != nil {
		t.Errorf("unexpected cookie: %+v", c)
	}
}

func TestSessionProcessor_SetPersistsAcrossRequests(t *testing.T) {
	p, _ := newTestSessionProcessor(t)

	var id string
	resp := runSession(t, p, nil, func(s *Session) {
		if err := s.Set("calls", 1); err != nil {
			t.Fatalf("Set: %v", err)
		}
		id = s.ID()
	})
	c := sessionCookie(resp)
	if c == nil || id == "" {
		t.Fatalf("expected session cookie and id, got %v %q", c, id)
	}

	resp = runSession(t, p, c, func(s *Session) {
		var calls int
		if err := s.Get("calls", &calls); err != nil || calls != 1 {
			t.Errorf("Get: %d %v", calls, err)
		}
		if s.ID() != id {
			t.Errorf("session id changed: %q != %q", s.ID(), id)
		}
		if err := s.Get("other", &calls); !errors.Is(err, ErrNoSuchKey) {
			t.Errorf("Get missing: got %v", err)
		}
	})
	if c := sessionCookie(resp); c != nil {
		t.Errorf("unchanged session should not be rewritten: %+v", c)
	}
}

func TestSessionProcessor_BindIssuesNewID(t *testing.T) {
	p, _ := newTestSessionProcessor(t)

	var first string
	resp := runSession(t, p, nil, func(s *Session) {
		_ = s.Set("k", "v")
		first = s.ID()
	})

	var second string
	resp = runSession(t, p, sessionCookie(resp), func(s *Session) {
		if err := s.Bind("alice"); err != nil {
			t.Fatalf("Bind: %v", err)
		}
		second = s.ID()
		if err := s.Get("k", new(string)); !errors.Is(err, ErrNoSuchKey) {
			t.Errorf("values should be dropped on Bind, got %v", err)
		}
	})
	if first == second {
		t.Error("Bind should issue a new session id")
	}

	runSession(t, p, sessionCookie(resp), func(s *Session) {
		if sub, ok := s.Subject(); !ok || sub != "alice" {
			t.Errorf("got subject %q %v", sub, ok)
		}
	})
}

func TestSessionProcessor_ClearExpiresCookie(t *testing.T) {
	p, _ := newTestSessionProcessor(t)
	resp := runSession(t, p, nil, func(s *Session) { _ = s.Bind("bob") })

	resp = runSession(t, p, sessionCookie(resp), func(s *Session) { s.Clear() })
	c := sessionCookie(resp)
	if c == nil || c.MaxAge != -1 {
		t.Errorf("expected expiring cookie, got %+v", c)
	}
}

func TestSessionProcessor_TamperedCookieIsDropped(t *testing.T) {
	p, _ := newTestSessionProcessor(t)
	resp := runSession(t, p, &http.Cookie{Name: DefaultSessionCookie, Value: "k1.garbage"}, func(s *Session) {
		if s.ID() != "" {
			t.Error("tampered cookie produced a session")
		}
	})
	c := sessionCookie(resp)
	if c == nil || c.MaxAge != -1 {
		t.Errorf("expected expiring cookie, got %+v", c)
	}
}

func TestSessionProcessor_ExpiredStateIsDropped(t *testing.T) {
	p, sealer := newTestSessionProcessor(t)
	now := time.Now()
	st := &sessionState{ID: "old", Created: now.Add(-2 * time.Hour), Expires: now.Add(-time.Hour)}
	c, err := sealer.Seal(st, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	resp := runSession(t, p, c, func(s *Session) {
		if s.ID() != "" {
			t.Error("expired session was accepted")
		}
	})
	if c := sessionCookie(resp); c == nil || c.MaxAge != -1 {
		t.Errorf("expected expiring cookie, got %+v", c)
	}
}

func TestSessionProcessor_Renewal(t *testing.T) {
	p, sealer := newTestSessionProcessor(t, WithSessionLifetime(time.Hour), WithRenewWithin(10*time.Minute))
	now := time.Now().Truncate(time.Second)
	st := &sessionState{ID: "s1", Created: now.Add(-55 * time.Minute), Expires: now.Add(5 * time.Minute)}
	c, _ := sealer.Seal(st, 5*time.Minute)

	resp := runSession(t, p, c, func(s *Session) {
		if s.ID() != "s1" {
			t.Errorf("got id %q", s.ID())
		}
		if remaining := time.Until(s.Expires()); remaining < 50*time.Minute {
			t.Errorf("session not renewed, %v remaining", remaining)
		}
	})
	if c := sessionCookie(resp); c == nil || c.MaxAge < 50*60 {
		t.Errorf("expected renewed cookie, got %+v", c)
	}
}

func TestSessionState_Lifetime(t *testing.T) {
	now := time.Now()
	tooLong := &sessionState{ID: "x", Created: now.Add(-time.Hour), Expires: now.Add(MaxSessionLifetime)}
	if tooLong.valid(now) {
		t.Error("session longer than MaxSessionLifetime accepted")
	}

	nearCap := &sessionState{ID: "x", Created: now.Add(-MaxSessionLifetime + time.Minute), Expires: now.Add(30 * time.Second)}
	if !nearCap.renew(now, time.Hour, 10*time.Minute) {
		t.Fatal("expected renewal")
	}
	if limit := nearCap.Created.Add(MaxSessionLifetime); nearCap.Expires.After(limit) {
		t.Errorf("renewal passed the lifetime cap: %v > %v", nearCap.Expires, limit)
	}

	fresh := &sessionState{ID: "x", Created: now, Expires: now.Add(time.Hour)}
	if fresh.renew(now, time.Hour, 10*time.Minute) {
		t.Error("fresh session should not renew")
	}
}

func TestSession_NilReceiver(t *testing.T) {
	var s *Session
	if s.ID() != "" || !s.Expires().IsZero() {
		t.Error("nil session should be empty")
	}
	if err := s.Set("k", 1); !errors.Is(err, ErrNilSession) {
		t.Errorf("Set: got %v", err)
	}
	if err := s.Bind("x"); !errors.Is(err, ErrNilSession) {
		t.Errorf("Bind: got %v", err)
	}
	s.Clear()
	s.Delete("k")
}

func TestNewSessionProcessor_NilSealer(t *testing.T) {
	if _, err := NewSessionProcessor(nil); !errors.Is(err, ErrCookieConfig) {
		t.Errorf("got %v", err)
	}
}

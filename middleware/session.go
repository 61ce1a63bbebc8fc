package middleware

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/mnehpets/rpcserve/endpoint"
)

var (
	ErrNoSession  = errors.New("middleware: no session")
	ErrNoSuchKey  = errors.New("middleware: session key not found")
	ErrNilSession = errors.New("middleware: nil session")
)

// DefaultSessionCookie is the default session cookie name.
const DefaultSessionCookie = "RPCS"

const (
	// DefaultSessionLifetime is how long a new or renewed session lasts.
	DefaultSessionLifetime = 24 * time.Hour
	// DefaultRenewWithin renews a session once less than this remains.
	DefaultRenewWithin = DefaultSessionLifetime / 4
	// MaxSessionLifetime caps the total age of a session across renewals.
	MaxSessionLifetime = 90 * 24 * time.Hour
)

// sessionIDBytes gives a 22 character base64url session id.
const sessionIDBytes = 16

// sessionState is the sealed cookie payload.
type sessionState struct {
	ID      string                     `cbor:"1,keyasint"`
	Subject string                     `cbor:"2,keyasint,omitempty"`
	Created time.Time                  `cbor:"3,keyasint"`
	Expires time.Time                  `cbor:"4,keyasint"`
	Values  map[string]cbor.RawMessage `cbor:"5,keyasint,omitempty"`
}

func newSessionState(lifetime time.Duration) (*sessionState, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	now := time.Now().Truncate(time.Second)
	return &sessionState{
		ID:      base64.RawURLEncoding.EncodeToString(b),
		Created: now,
		Expires: now.Add(lifetime),
	}, nil
}

// valid reports whether st is usable at now.
func (st *sessionState) valid(now time.Time) bool {
	if st == nil || st.ID == "" || st.Created.IsZero() || st.Expires.IsZero() {
		return false
	}
	if st.Expires.Sub(st.Created) > MaxSessionLifetime {
		return false
	}
	return now.Before(st.Expires)
}

// renew pushes Expires to now+lifetime when less than within remains,
// bounded by MaxSessionLifetime. It reports whether Expires moved.
func (st *sessionState) renew(now time.Time, lifetime, within time.Duration) bool {
	if st.Expires.Sub(now) >= within {
		return false
	}
	expires := now.Add(lifetime).Truncate(time.Second)
	if limit := st.Created.Add(MaxSessionLifetime); expires.After(limit) {
		expires = limit
	}
	if !expires.After(st.Expires) {
		return false
	}
	st.Expires = expires
	return true
}

// Session is the cookie-backed state of one RPC caller. It is safe for use by
// the methods of a single batch running on one request.
type Session struct {
	mu       sync.Mutex
	state    *sessionState
	lifetime time.Duration
	dirty    bool
}

// ID returns the session id, or "" when there is no session.
func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return ""
	}
	return s.state.ID
}

// Subject returns the identity bound to the session.
func (s *Session) Subject() (string, bool) {
	if s == nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil || s.state.Subject == "" {
		return "", false
	}
	return s.state.Subject, true
}

// Expires returns the session expiry, or the zero time.
func (s *Session) Expires() time.Time {
	if s == nil {
		return time.Time{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return time.Time{}
	}
	return s.state.Expires
}

// Bind starts a fresh session for subject. Previous values are dropped and
// a new id is issued.
func (s *Session) Bind(subject string) error {
	if s == nil {
		return ErrNilSession
	}
	st, err := newSessionState(s.lifetime)
	if err != nil {
		return err
	}
	st.Subject = subject

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	s.dirty = true
	return nil
}

// Clear ends the session and removes its cookie.
func (s *Session) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
	s.dirty = true
}

// Get decodes the value stored under key into dest.
func (s *Session) Get(key string, dest any) error {
	if s == nil {
		return ErrNilSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return ErrNoSession
	}
	raw, ok := s.state.Values[key]
	if !ok {
		return ErrNoSuchKey
	}
	return cbor.Unmarshal(raw, dest)
}

// Set stores value under key, starting an anonymous session if there is
// none.
func (s *Session) Set(key string, value any) error {
	if s == nil {
		return ErrNilSession
	}
	raw, err := cbor.Marshal(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		if s.state, err = newSessionState(s.lifetime); err != nil {
			return err
		}
	}
	if s.state.Values == nil {
		s.state.Values = map[string]cbor.RawMessage{}
	}
	s.state.Values[key] = raw
	s.dirty = true
	return nil
}

// Delete removes key.
func (s *Session) Delete(key string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return
	}
	if _, ok := s.state.Values[key]; ok {
		delete(s.state.Values, key)
		s.dirty = true
	}
}

type sessionKey struct{}

// WithSession returns ctx carrying sess.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// SessionFromContext returns the Session attached by SessionProcessor.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(*Session)
	return sess, ok && sess != nil
}

// SessionProcessor loads the session cookie into the request context and
// writes it back, through endpoint.Defer, when the session changed.
//
// Invalid, tampered or expired cookies are dropped and removed from the
// client.
type SessionProcessor struct {
	sealer      *CookieSealer
	lifetime    time.Duration
	renewWithin time.Duration
	logger      *slog.Logger
}

// SessionOption configures a SessionProcessor.
type SessionOption func(*SessionProcessor)

// WithSessionLifetime sets the lifetime of new and renewed sessions.
func WithSessionLifetime(d time.Duration) SessionOption {
	return func(p *SessionProcessor) {
		p.lifetime = d
	}
}

// WithRenewWithin sets the remaining time below which a session is renewed.
func WithRenewWithin(d time.Duration) SessionOption {
	return func(p *SessionProcessor) {
		p.renewWithin = d
	}
}

// WithSessionLogger sets the logger for dropped cookies.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(p *SessionProcessor) {
		p.logger = logger
	}
}

// NewSessionProcessor returns a SessionProcessor storing sessions with
// sealer.
func NewSessionProcessor(sealer *CookieSealer, opts ...SessionOption) (*SessionProcessor, error) {
	if sealer == nil {
		return nil, ErrCookieConfig
	}
	p := &SessionProcessor{
		sealer:      sealer,
		lifetime:    DefaultSessionLifetime,
		renewWithin: DefaultRenewWithin,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.lifetime <= 0 {
		p.lifetime = DefaultSessionLifetime
	}
	if p.renewWithin <= 0 || p.renewWithin > p.lifetime {
		p.renewWithin = p.lifetime / 4
	}
	return p, nil
}

// Process implements endpoint.Processor.
func (p *SessionProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	sess := &Session{lifetime: p.lifetime}

	if c, err := r.Cookie(p.sealer.Name()); err == nil {
		var st sessionState
		now := time.Now()
		switch err := p.sealer.Open(c, &st); {
		case err != nil:
			p.logger.DebugContext(r.Context(), "dropping session cookie", "err", err)
			sess.dirty = true
		case !st.valid(now):
			sess.dirty = true
		default:
			sess.state = &st
			sess.dirty = st.renew(now, p.lifetime, p.renewWithin)
		}
	}

	endpoint.Defer(r.Context(), func(w http.ResponseWriter) {
		p.save(w, sess)
	})
	return next(w, r.WithContext(WithSession(r.Context(), sess)))
}

func (p *SessionProcessor) save(w http.ResponseWriter, sess *Session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.dirty {
		return
	}
	if sess.state == nil {
		http.SetCookie(w, p.sealer.Expire())
		return
	}
	remaining := time.Until(sess.state.Expires)
	if remaining < time.Second {
		http.SetCookie(w, p.sealer.Expire())
		return
	}
	c, err := p.sealer.Seal(sess.state, remaining)
	if err != nil {
		p.logger.Error("sealing session cookie", "err", err)
		return
	}
	http.SetCookie(w, c)
}

var _ endpoint.Processor = (*SessionProcessor)(nil)

package main

import (
	"context"
	"slices"
	"time"

	"github.com/mnehpets/rpcserve/jsonrpc"
	"github.com/mnehpets/rpcserve/middleware"
)

// SystemMethods reports on the server itself.
type SystemMethods struct {
	dispatcher *jsonrpc.Dispatcher
	started    time.Time
}

func (m *SystemMethods) Ping(ctx context.Context, params struct{}) (string, error) {
	return "pong", nil
}

type EchoParams struct {
	Message string `json:"message"`
}

func (m *SystemMethods) Echo(ctx context.Context, params EchoParams) (string, error) {
	return params.Message, nil
}

type ListMethodsParams struct {
	_ struct{} `jsonrpc:"listMethods"`
}

// ListMethods returns the sorted method names.
func (m *SystemMethods) ListMethods(ctx context.Context, params ListMethodsParams) ([]string, error) {
	names := m.dispatcher.Methods()
	slices.Sort(names)
	return names, nil
}

type UptimeResult struct {
	Started time.Time `json:"started"`
	Seconds float64   `json:"seconds"`
}

func (m *SystemMethods) Uptime(ctx context.Context, params struct{}) (UptimeResult, error) {
	return UptimeResult{Started: m.started, Seconds: time.Since(m.started).Seconds()}, nil
}

type MathMethods struct{}

type BinaryParams struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

func (m *MathMethods) Add(ctx context.Context, params BinaryParams) (float64, error) {
	return params.A + params.B, nil
}

func (m *MathMethods) Divide(ctx context.Context, params BinaryParams) (float64, error) {
	if params.B == 0 {
		return 0, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "division by zero")
	}
	return params.A / params.B, nil
}

// SessionMethods exposes the caller's session and identity.
type SessionMethods struct{}

type WhoamiResult struct {
	Subject   string    `json:"subject,omitempty"`
	Verified  bool      `json:"verified"`
	SessionID string    `json:"session_id,omitempty"`
	Expires   time.Time `json:"expires,omitzero"`
	Calls     int       `json:"calls"`
}

// Whoami reports the verified token subject, or the session subject, and
// counts calls in the session.
func (m *SessionMethods) Whoami(ctx context.Context, params struct{}) (WhoamiResult, error) {
	var res WhoamiResult
	if tok, ok := middleware.IDTokenFromContext(ctx); ok {
		res.Subject = tok.Subject
		res.Verified = true
	}

	sess, ok := middleware.SessionFromContext(ctx)
	if !ok {
		return res, nil
	}
	if err := sess.Get("calls", &res.Calls); err != nil {
		res.Calls = 0
	}
	res.Calls++
	if err := sess.Set("calls", res.Calls); err != nil {
		return res, err
	}
	if res.Subject == "" {
		res.Subject, _ = sess.Subject()
	}
	res.SessionID = sess.ID()
	res.Expires = sess.Expires()
	return res, nil
}

// Logout ends the caller's session.
func (m *SessionMethods) Logout(ctx context.Context, params struct{}) (bool, error) {
	sess, ok := middleware.SessionFromContext(ctx)
	if !ok || sess.ID() == "" {
		return false, nil
	}
	sess.Clear()
	return true, nil
}

func registerMethods(d *jsonrpc.Dispatcher, started time.Time) {
	d.Register("system", &SystemMethods{dispatcher: d, started: started})
	d.Register("math", &MathMethods{})
	d.Register("session", &SessionMethods{})
}

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/eduplay/voiceroom/pkg/media"
)

func serve(t *testing.T, h *Handler, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("x") }})
	code, body := serve(t, h, "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	pass := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name     string
		checkers []Checker
		wantCode int
		wantBody map[string]string
	}{
		{
			name:     "no checkers",
			wantCode: http.StatusOK,
			wantBody: map[string]string{},
		},
		{
			name:     "all pass",
			checkers: []Checker{{"session", pass}, {"media", pass}},
			wantCode: http.StatusOK,
			wantBody: map[string]string{"session": "ok", "media": "ok"},
		},
		{
			name:     "one fails",
			checkers: []Checker{{"session", pass}, {"media", fail}},
			wantCode: http.StatusServiceUnavailable,
			wantBody: map[string]string{"session": "ok", "media": "fail: connection refused"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body := serve(t, New(tt.checkers...), "/readyz")
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d", code, tt.wantCode)
			}
			for k, v := range tt.wantBody {
				if body.Checks[k] != v {
					t.Errorf("checks[%s] = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_CheckerGetsDeadline(t *testing.T) {
	t.Parallel()

	var hasDeadline bool
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	}})
	serve(t, h, "/readyz")
	if !hasDeadline {
		t.Error("checker context should carry a deadline")
	}
}

func TestAdd_ReplacesByName(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "session", Check: func(context.Context) error { return errors.New("starting") }})
	h.Add(
		Checker{Name: "session", Check: func(context.Context) error { return nil }},
		Checker{Name: "media", Check: func(context.Context) error { return nil }},
	)
	code, body := serve(t, h, "/readyz")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200; checks = %v", code, body.Checks)
	}
	if len(body.Checks) != 2 {
		t.Errorf("checks = %v, want session and media", body.Checks)
	}
}

func TestSessionCheck(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	started := false
	c := SessionCheck(done, func() bool { return started })

	if err := c.Check(context.Background()); !errors.Is(err, errNotListening) {
		t.Errorf("before start: %v", err)
	}
	started = true
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("running: %v", err)
	}
	close(done)
	if err := c.Check(context.Background()); !errors.Is(err, errSessionEnded) {
		t.Errorf("after end: %v", err)
	}
}

func TestMediaCheck(t *testing.T) {
	t.Parallel()

	avail := media.Availability{AudioEnabled: false, TransportConnected: false}
	granted := true
	get := func() media.Availability { return avail }
	has := func() bool { return granted }

	if err := MediaCheck(get, has, false).Check(context.Background()); err != nil {
		t.Errorf("on-device, muted: %v", err)
	}
	err := MediaCheck(get, has, true).Check(context.Background())
	if err == nil || !strings.Contains(err.Error(), "transport") {
		t.Errorf("streaming, disconnected: %v", err)
	}
	avail.TransportConnected = true
	if err := MediaCheck(get, has, true).Check(context.Background()); err != nil {
		t.Errorf("streaming, connected: %v", err)
	}
	granted = false
	if err := MediaCheck(get, has, true).Check(context.Background()); !errors.Is(err, errNoMicrophone) {
		t.Errorf("no microphone: %v", err)
	}
}

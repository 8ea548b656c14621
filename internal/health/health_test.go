package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(status Status) Check {
	return func(ctx context.Context) CheckResult {
		return CheckResult{Status: status}
	}
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		critical Status
		optional Status
		want     Status
	}{
		{"all healthy", StatusHealthy, StatusHealthy, StatusHealthy},
		{"optional unhealthy", StatusHealthy, StatusUnhealthy, StatusDegraded},
		{"critical degraded", StatusDegraded, StatusHealthy, StatusDegraded},
		{"critical unhealthy", StatusUnhealthy, StatusHealthy, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			c.RegisterFunc("loop", true, fixed(tt.critical))
			c.RegisterFunc("trace", false, fixed(tt.optional))
			assert.Equal(t, StatusUnknown, c.OverallStatus(), "nothing checked yet")

			c.Check(context.Background())
			assert.Equal(t, tt.want, c.OverallStatus())
		})
	}
}

func TestCheckTimeoutAndPanic(t *testing.T) {
	c := NewChecker()
	c.Register(&Component{
		Name:    "stuck",
		Timeout: 10 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		},
	})
	c.RegisterFunc("broken", false, func(ctx context.Context) CheckResult { panic("boom") })

	results := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, results["stuck"].Status)
	assert.Equal(t, "check timed out", results["stuck"].Message)
	assert.Equal(t, StatusUnhealthy, results["broken"].Status)
	assert.Equal(t, "boom", results["broken"].Error)
	assert.Equal(t, []string{"broken", "stuck"}, c.Names())
}

type fakeLoop struct {
	delay time.Duration
	err   error
}

func (f fakeLoop) Do(ctx context.Context, fn func()) error {
	time.Sleep(f.delay)
	if f.err != nil {
		return f.err
	}
	fn()
	return nil
}

func TestLoopCheck(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, StatusHealthy, LoopCheck(fakeLoop{}, time.Second)(ctx).Status)
	assert.Equal(t, StatusDegraded, LoopCheck(fakeLoop{delay: 5 * time.Millisecond}, time.Millisecond)(ctx).Status)
	assert.Equal(t, StatusUnhealthy, LoopCheck(fakeLoop{err: errors.New("closed")}, time.Second)(ctx).Status)
}

func TestPingAndDropChecks(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, StatusHealthy, PingCheck("trace", func(context.Context) error { return nil })(ctx).Status)
	assert.Equal(t, StatusUnhealthy, PingCheck("trace", func(context.Context) error { return errors.New("gone") })(ctx).Status)

	var dropped uint64
	check := DropCheck("trace", func() uint64 { return dropped })
	assert.Equal(t, StatusHealthy, check(ctx).Status)
	dropped = 3
	assert.Equal(t, StatusDegraded, check(ctx).Status)
	assert.Equal(t, StatusHealthy, check(ctx).Status, "no new drops since last check")
}

func TestHandlers(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("loop", true, fixed(StatusHealthy))
	mux := http.NewServeMux()
	c.Mount(mux)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/livez").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)

	c.SetReady(true)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)

	rec := get("/healthz?full=true")
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.True(t, resp.Ready)
	assert.Contains(t, resp.Components, "loop")
}

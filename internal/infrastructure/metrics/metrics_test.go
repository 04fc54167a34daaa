package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/gray-logic-ota/internal/firmware"
)

type fakeSlots struct{ inUse, capacity int }

func (f fakeSlots) InUse() int    { return f.inUse }
func (f fakeSlots) Capacity() int { return f.capacity }

func TestMetrics_CheckCompleted(t *testing.T) {
	m := New()

	m.CheckCompleted(firmware.CheckResult{Candidate: &firmware.Candidate{Version: "1.1"}, Advertised: true, Duration: time.Second})
	m.CheckCompleted(firmware.CheckResult{Err: errors.New("down")})
	m.CheckCompleted(firmware.CheckResult{Err: errors.New("down again")})

	if got := testutil.ToFloat64(m.checksTotal.WithLabelValues(firmware.OutcomeUpdateAvailable)); got != 1 {
		t.Errorf("update_available = %v", got)
	}
	if got := testutil.ToFloat64(m.checksTotal.WithLabelValues(firmware.OutcomeError)); got != 2 {
		t.Errorf("error = %v", got)
	}
	if got := testutil.CollectAndCount(m.checkDuration); got != 1 {
		t.Errorf("check duration series = %d", got)
	}
}

func TestMetrics_InstallCompleted(t *testing.T) {
	m := New()
	start := time.Now()

	m.InstallCompleted(firmware.InstallReport{StartedAt: start, CompletedAt: start.Add(time.Minute)})
	m.InstallCompleted(firmware.InstallReport{StartedAt: start, CompletedAt: start, Err: firmware.ErrTransferFailed})

	if got := testutil.ToFloat64(m.installsTotal.WithLabelValues(firmware.InstallStatusCompleted)); got != 1 {
		t.Errorf("completed = %v", got)
	}
	if got := testutil.ToFloat64(m.installsTotal.WithLabelValues(firmware.InstallStatusFailed)); got != 1 {
		t.Errorf("failed = %v", got)
	}
}

func TestMetrics_StateChangedTracksActiveAndAvailable(t *testing.T) {
	m := New()

	m.StateChanged(firmware.Snapshot{DeviceID: "a", InProgress: true, Progress: 25, UpdateAvailable: true})
	m.StateChanged(firmware.Snapshot{DeviceID: "b", UpdateAvailable: true})

	if got := testutil.ToFloat64(m.progress.WithLabelValues("a")); got != 25 {
		t.Errorf("progress[a] = %v", got)
	}
	if got := testutil.ToFloat64(m.activeInstalls); got != 1 {
		t.Errorf("active = %v", got)
	}
	if got := testutil.ToFloat64(m.updatesAvail); got != 2 {
		t.Errorf("available = %v", got)
	}

	// Install on a finishes: progress series removed, no longer available.
	m.StateChanged(firmware.Snapshot{DeviceID: "a"})
	if got := testutil.CollectAndCount(m.progress); got != 0 {
		t.Errorf("progress series = %d, want 0", got)
	}
	if got := testutil.ToFloat64(m.activeInstalls); got != 0 {
		t.Errorf("active = %v", got)
	}
	if got := testutil.ToFloat64(m.updatesAvail); got != 1 {
		t.Errorf("available = %v", got)
	}

	m.Forget("b")
	if got := testutil.ToFloat64(m.updatesAvail); got != 0 {
		t.Errorf("available after Forget = %v", got)
	}
}

func TestMetrics_SlotsAndHandler(t *testing.T) {
	m := New()
	m.RegisterSlots(fakeSlots{inUse: 2, capacity: 3})

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`ota_firmware_transfer_slots{state="in_use"} 2`,
		`ota_firmware_transfer_slots{state="capacity"} 3`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/devices/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/devices/"+id, nil))
	}

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("/devices/{id}", http.MethodGet, "418")); got != 2 {
		t.Errorf("requests{/devices/{id}} = %v, want 2", got)
	}
}

func TestMiddleware_DefaultStatus(t *testing.T) {
	m := New()
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("/health", http.MethodGet, "200")); got != 1 {
		t.Errorf("requests{/health} = %v", got)
	}
}

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/gray-logic-ota/internal/audit"
	"github.com/nerrad567/gray-logic-ota/internal/device"
	"github.com/nerrad567/gray-logic-ota/internal/firmware"
	"github.com/nerrad567/gray-logic-ota/internal/fleet"
	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-ota/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// testNode is a reachable node whose finish events are raised by the
// test controller.
type testNode struct {
	id string

	mu        sync.Mutex
	version   string
	nextID    int
	listeners map[string]map[int]testListener
}

type testListener struct {
	fn   firmware.Listener
	once bool
}

func (n *testNode) ID() string { return n.id }

func (n *testNode) FirmwareVersion() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.version
}

func (n *testNode) Status() firmware.NodeStatus { return firmware.StatusReady }

func (n *testNode) On(event string, fn firmware.Listener) firmware.Unsubscribe {
	return n.add(event, fn, false)
}

func (n *testNode) Once(event string, fn firmware.Listener) firmware.Unsubscribe {
	return n.add(event, fn, true)
}

func (n *testNode) add(event string, fn firmware.Listener, once bool) firmware.Unsubscribe {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	if n.listeners[event] == nil {
		n.listeners[event] = make(map[int]testListener)
	}
	n.listeners[event][id] = testListener{fn: fn, once: once}
	return func() {
		n.mu.Lock()
		delete(n.listeners[event], id)
		n.mu.Unlock()
	}
}

func (n *testNode) emit(e firmware.Event) {
	n.mu.Lock()
	var fns []firmware.Listener
	for id, l := range n.listeners[e.Name] {
		fns = append(fns, l.fn)
		if l.once {
			delete(n.listeners[e.Name], id)
		}
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

// testLink hands out testNodes.
type testLink struct {
	mu    sync.Mutex
	nodes map[string]*testNode
}

func (l *testLink) Register(deviceID string, _ int) (firmware.Node, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := &testNode{id: deviceID, version: "1.0.0", listeners: make(map[string]map[int]testListener)}
	l.nodes[deviceID] = n
	return n, nil
}

func (l *testLink) Unregister(deviceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.nodes, deviceID)
}

// testController offers the same release to every device. Transfers finish
// with finishStatus unless hold is set, in which case they never finish.
type testController struct {
	mu           sync.Mutex
	candidates   []firmware.Candidate
	finishStatus firmware.UpdateStatus
	hold         bool
}

func (c *testController) GetAvailableFirmwareUpdates(context.Context, firmware.Node, string) ([]firmware.Candidate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.candidates, nil
}

func (c *testController) BeginOTAFirmwareUpdate(_ context.Context, node firmware.Node, _ firmware.File) error {
	c.mu.Lock()
	status, hold := c.finishStatus, c.hold
	c.mu.Unlock()
	if hold {
		return nil
	}
	n := node.(*testNode)
	go n.emit(firmware.Event{
		Name:     firmware.EventUpdateFinished,
		Finished: &firmware.UpdateFinished{Status: status},
	})
	return nil
}

type testEnv struct {
	srv        *Server
	router     http.Handler
	devices    *device.Registry
	manager    *firmware.Manager
	repo       *firmware.SQLiteRepository
	controller *testController
	link       *testLink
}

type envOption func(*Deps)

func withSecret(secret string) envOption {
	return func(d *Deps) { d.Security.JWT.Secret = secret }
}

// newTestEnv wires a server over an in-memory database, a real firmware
// manager and a scripted link.
func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx, migrations.Source()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	ctrl := &testController{
		candidates: []firmware.Candidate{{
			Version:   "1.1.0",
			ChangeLog: "Fixes battery reporting",
			Files:     []firmware.File{{Target: 0, URL: "https://fw.example/1.1.0.bin"}},
		}},
		finishStatus: firmware.UpdateOKNoRestart,
	}
	manager := firmware.NewManager(ctrl, firmware.NewLimiter(2), firmware.ManagerConfig{CheckInterval: time.Hour}, nil)
	repo := firmware.NewSQLiteRepository(db.DB)
	recorder := firmware.NewRecorder(repo, nil)
	link := &testLink{nodes: make(map[string]*testNode)}

	fl, err := fleet.New(fleet.Options{
		Catalogue:  registry,
		Link:       link,
		Updaters:   manager,
		States:     repo,
		Seeders:    []func(firmware.Record){recorder.Seed},
		Forgetters: []fleet.Forgetter{recorder},
	})
	if err != nil {
		t.Fatalf("fleet.New() error = %v", err)
	}
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	wsCfg := config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
	hub := NewHub(wsCfg, log)
	manager.SetObserver(firmware.Observers{recorder, fl, hub})

	runCtx, cancel := context.WithCancel(ctx)
	go hub.Run(runCtx)
	manager.Start(runCtx)
	t.Cleanup(func() {
		cancel()
		manager.Stop()
	})

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:       wsCfg,
		Logger:   log,
		Devices:  registry,
		Firmware: manager,
		Fleet:    fl,
		History:  repo,
		Audit:    audit.NewSQLiteRepository(db.DB),
		DB:       db.DB,
		Hub:      hub,
		Version:  "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	return &testEnv{
		srv:        srv,
		router:     srv.buildRouter(),
		devices:    registry,
		manager:    manager,
		repo:       repo,
		controller: ctrl,
		link:       link,
	}
}

// do sends a request through the router.
func (e *testEnv) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// createDevice adds a device through the API and returns its ID.
func (e *testEnv) createDevice(t *testing.T, name string, nodeID int) string {
	t.Helper()
	body := `{"name":"` + name + `","node_id":` + strconv.Itoa(nodeID) + `}`
	w := e.do(http.MethodPost, "/api/v1/devices", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create device status = %d; body: %s", w.Code, w.Body.String())
	}
	dev := decode[device.Device](t, w)
	return dev.ID
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// waitForOffer blocks until the first check has selected a release.
func (e *testEnv) waitForOffer(t *testing.T, id string) *firmware.Updater {
	t.Helper()
	u, err := e.manager.Get(id)
	if err != nil {
		t.Fatalf("manager.Get(%s) error = %v", id, err)
	}
	waitFor(t, "release offer", u.CanInstall)
	return u
}

func signToken(t *testing.T, secret, subject string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// decode unmarshals a response body into T.
func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v; body: %s", err, w.Body.String())
	}
	return v
}

package firmware

import (
	"context"
	"sync"
	"testing"
	"time"
)

// mockNode is an in-memory Node whose events are raised by tests via emit.
type mockNode struct {
	id string

	mu        sync.Mutex
	version   string
	status    NodeStatus
	nextID    int
	listeners map[string]map[int]mockListener
}

type mockListener struct {
	fn   Listener
	once bool
}

func newMockNode(id, version string) *mockNode {
	return &mockNode{
		id:        id,
		version:   version,
		status:    StatusReady,
		listeners: make(map[string]map[int]mockListener),
	}
}

func (n *mockNode) ID() string { return n.id }

func (n *mockNode) FirmwareVersion() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.version
}

func (n *mockNode) Status() NodeStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

func (n *mockNode) setStatus(s NodeStatus) {
	n.mu.Lock()
	n.status = s
	n.mu.Unlock()
}

func (n *mockNode) On(event string, fn Listener) Unsubscribe {
	return n.add(event, fn, false)
}

func (n *mockNode) Once(event string, fn Listener) Unsubscribe {
	return n.add(event, fn, true)
}

func (n *mockNode) add(event string, fn Listener, once bool) Unsubscribe {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	if n.listeners[event] == nil {
		n.listeners[event] = make(map[int]mockListener)
	}
	n.listeners[event][id] = mockListener{fn: fn, once: once}
	return func() {
		n.mu.Lock()
		delete(n.listeners[event], id)
		n.mu.Unlock()
	}
}

// emit delivers e to its listeners, consuming one-shot ones.
func (n *mockNode) emit(e Event) {
	n.mu.Lock()
	var fns []Listener
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

func (n *mockNode) emitProgress(sent, total int) {
	n.emit(Event{Name: EventUpdateProgress, Progress: &UpdateProgress{SentFragments: sent, TotalFragments: total}})
}

func (n *mockNode) emitFinished(status UpdateStatus) {
	n.emit(Event{Name: EventUpdateFinished, Finished: &UpdateFinished{Status: status}})
}

func (n *mockNode) listenerCount(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners[event])
}

// mockController records calls and lets tests script transfers.
type mockController struct {
	mu         sync.Mutex
	candidates []Candidate
	listErr    error
	beginErr   error
	listBlock  chan struct{}
	listCalls  int
	active     int
	maxActive  int
	begun      []File
	onBegin    func(file File)
	beginCalls chan File
}

func newMockController() *mockController {
	return &mockController{beginCalls: make(chan File, 16)}
}

func (c *mockController) GetAvailableFirmwareUpdates(ctx context.Context, _ Node, _ string) ([]Candidate, error) {
	c.mu.Lock()
	c.listCalls++
	c.active++
	if c.active > c.maxActive {
		c.maxActive = c.active
	}
	block := c.listBlock
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.active--
		c.mu.Unlock()
	}()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	out := make([]Candidate, len(c.candidates))
	copy(out, c.candidates)
	return out, nil
}

func (c *mockController) BeginOTAFirmwareUpdate(_ context.Context, _ Node, file File) error {
	c.mu.Lock()
	err := c.beginErr
	onBegin := c.onBegin
	if err == nil {
		c.begun = append(c.begun, file)
	}
	c.mu.Unlock()

	if err == nil && onBegin != nil {
		onBegin(file)
	}
	c.beginCalls <- file
	return err
}

func (c *mockController) begunCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.begun)
}

func (c *mockController) listCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listCalls
}

// mockObserver captures everything an updater reports.
type mockObserver struct {
	mu       sync.Mutex
	states   []Snapshot
	checks   []CheckResult
	installs []InstallReport
}

func (o *mockObserver) StateChanged(s Snapshot) {
	o.mu.Lock()
	o.states = append(o.states, s)
	o.mu.Unlock()
}

func (o *mockObserver) CheckCompleted(r CheckResult) {
	o.mu.Lock()
	o.checks = append(o.checks, r)
	o.mu.Unlock()
}

func (o *mockObserver) InstallCompleted(r InstallReport) {
	o.mu.Lock()
	o.installs = append(o.installs, r)
	o.mu.Unlock()
}

func (o *mockObserver) checkCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.checks)
}

func (o *mockObserver) lastCheck() CheckResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.checks[len(o.checks)-1]
}

func (o *mockObserver) installReports() []InstallReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]InstallReport, len(o.installs))
	copy(out, o.installs)
	return out
}

func (o *mockObserver) progressValues() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []int
	for _, s := range o.states {
		out = append(out, s.Progress)
	}
	return out
}

// newTestUpdater builds an updater with its own limiter.
func newTestUpdater(node *mockNode, ctrl *mockController, cfg UpdaterConfig) (*Updater, *mockObserver) {
	d := NewDiscoverer(ctrl, NewLimiter(DefaultMaxConcurrent), "test-key")
	u := NewUpdater(node, ctrl, d, cfg)
	obs := &mockObserver{}
	u.SetObserver(obs)
	return u, obs
}

// selectCandidate installs c as the updater's selected release.
func selectCandidate(u *Updater, c Candidate) {
	u.mu.Lock()
	u.candidate = &c
	if IsNewer(c.Version, u.installed) {
		u.latest = c.Version
	}
	u.mu.Unlock()
}

func testCandidate(version string, files int) Candidate {
	c := Candidate{Version: version, ChangeLog: "Fixes for " + version}
	for i := 0; i < files; i++ {
		c.Files = append(c.Files, File{Target: i, URL: "https://fw.example.com/" + version + "/" + string(rune('a'+i)) + ".bin"})
	}
	return c
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

// recvFile waits for the next BeginOTAFirmwareUpdate call.
func recvFile(t *testing.T, ctrl *mockController) File {
	t.Helper()
	select {
	case f := <-ctrl.beginCalls:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transfer to begin")
		return File{}
	}
}

package firmware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultCheckInterval is how often each device is polled for new firmware.
const DefaultCheckInterval = 24 * time.Hour

// UpdaterConfig tunes a single device's updater.
type UpdaterConfig struct {
	// CheckInterval between discoveries. Zero means DefaultCheckInterval.
	CheckInterval time.Duration

	// FinishTimeout bounds the wait for each file's finish event.
	// Zero waits indefinitely.
	FinishTimeout time.Duration
}

// Updater orchestrates discovery and installation for one device.
//
// Discovery runs once at Start and then every CheckInterval, re-armed after
// each attempt whether it succeeded or not. A check that finds the device
// asleep or dead is deferred until the device signals it is back, and is
// not re-armed until then.
//
// Thread Safety: all methods are safe for concurrent use.
type Updater struct {
	node       Node
	controller Controller
	discoverer *Discoverer
	gate       *Gate
	cfg        UpdaterConfig
	logger     Logger
	observer   Observer
	now        func() time.Time

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	stopped     bool
	pollTimer   *time.Timer
	installed   string
	latest      string
	candidate   *Candidate
	progress    int
	state       State
	session     *session
	lastChecked time.Time
	lastErr     string
}

// NewUpdater creates an updater for node. The discoverer carries the shared
// limiter and the registry API key.
func NewUpdater(node Node, controller Controller, discoverer *Discoverer, cfg UpdaterConfig) *Updater {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	return &Updater{
		node:       node,
		controller: controller,
		discoverer: discoverer,
		gate:       NewGate(node),
		cfg:        cfg,
		logger:     noopLogger{},
		observer:   noopObserver{},
		now:        time.Now,
		installed:  node.FirmwareVersion(),
		state:      State{Phase: PhaseIdle},
	}
}

// SetLogger sets the logger. Call before Start.
func (u *Updater) SetLogger(logger Logger) {
	if logger != nil {
		u.logger = logger
	}
}

// SetObserver sets the event observer. Call before Start.
func (u *Updater) SetObserver(obs Observer) {
	if obs != nil {
		u.observer = obs
	}
}

// DeviceID returns the identifier of the managed device.
func (u *Updater) DeviceID() string {
	return u.node.ID()
}

// Restore seeds state persisted by a previous run. The stored installed
// version is used until the device reports one. A stored latest version
// is only kept if it is still newer than what the device runs. The stored
// release itself is not restored, so installing needs a fresh check.
func (u *Updater) Restore(rec Record) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.installed == "" {
		u.installed = rec.InstalledVersion
	}
	if rec.LatestVersion != "" && IsNewer(rec.LatestVersion, u.installed) {
		u.latest = rec.LatestVersion
	}
	if rec.LastCheckedAt != nil {
		u.lastChecked = *rec.LastCheckedAt
	}
}

// Start runs the first check and arms the periodic poll. ctx bounds every
// background discovery.
func (u *Updater) Start(ctx context.Context) {
	u.mu.Lock()
	if u.started || u.stopped {
		u.mu.Unlock()
		return
	}
	u.started = true
	u.ctx, u.cancel = context.WithCancel(ctx)
	u.mu.Unlock()

	go u.check()
}

// Stop cancels the poll, any deferred check and any running install.
// The updater cannot be restarted.
func (u *Updater) Stop() {
	u.mu.Lock()
	if u.stopped {
		u.mu.Unlock()
		return
	}
	u.stopped = true
	if u.pollTimer != nil {
		u.pollTimer.Stop()
		u.pollTimer = nil
	}
	if u.cancel != nil {
		u.cancel()
	}
	sess := u.session
	if sess != nil {
		sess.unsubscribe()
		u.progress = 0
	}
	u.mu.Unlock()

	u.gate.Cancel()
	if sess != nil {
		sess.cancel(ErrStopped)
	}
}

// CheckNow runs a discovery in the background, replacing the pending poll.
func (u *Updater) CheckNow() {
	u.mu.Lock()
	ok := u.started && !u.stopped
	u.mu.Unlock()
	if ok {
		go u.check()
	}
}

// check is the periodic discovery step.
func (u *Updater) check() {
	u.mu.Lock()
	if !u.started || u.stopped {
		u.mu.Unlock()
		return
	}
	if u.pollTimer != nil {
		u.pollTimer.Stop()
		u.pollTimer = nil
	}
	ctx := u.ctx
	u.mu.Unlock()

	if u.gate.CheckOrDefer(func() { go u.check() }) == Deferred {
		u.logger.Debug("device not reachable, deferring firmware check",
			"device_id", u.node.ID(),
			"status", string(u.node.Status()),
		)
		u.notify(u.Snapshot())
		return
	}
	defer u.schedulePoll()

	started := u.now()
	candidate, err := u.discoverer.Discover(ctx, u.node)
	result := CheckResult{
		DeviceID:  u.node.ID(),
		Candidate: candidate,
		Err:       err,
		CheckedAt: started,
		Duration:  u.now().Sub(started),
	}

	u.mu.Lock()
	u.lastChecked = started
	if err != nil {
		u.lastErr = err.Error()
	} else {
		u.lastErr = ""
		u.syncInstalledLocked()
		// Only a newer release replaces the selected one, so the install
		// target, release notes and latest version always agree.
		if candidate != nil && IsNewer(candidate.Version, u.installed) {
			u.candidate = candidate
			u.latest = candidate.Version
			result.Advertised = true
		}
	}
	snap := u.snapshotLocked()
	u.mu.Unlock()

	if err != nil {
		u.logger.Debug("failed to check for firmware updates",
			"device_id", u.node.ID(),
			"error", err,
		)
	} else if result.Advertised {
		u.logger.Info("firmware update available",
			"device_id", u.node.ID(),
			"installed_version", snap.InstalledVersion,
			"latest_version", snap.LatestVersion,
		)
	}

	u.notify(snap)
	u.observer.CheckCompleted(result)
}

func (u *Updater) schedulePoll() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stopped {
		return
	}
	if u.pollTimer != nil {
		u.pollTimer.Stop()
	}
	u.pollTimer = time.AfterFunc(u.cfg.CheckInterval, u.check)
}

// syncInstalledLocked adopts a newer version reported by the device itself.
// A selected release the device has caught up with is dropped.
func (u *Updater) syncInstalledLocked() {
	if v := u.node.FirmwareVersion(); v != "" && (u.installed == "" || IsNewer(v, u.installed)) {
		u.installed = v
	}
	if u.candidate != nil && u.session == nil && !IsNewer(u.candidate.Version, u.installed) {
		u.candidate = nil
	}
}

// Install installs the selected candidate's files in order.
//
// If the device is asleep or dead, Install waits for it to come back and
// re-checks its status before sending anything. A second Install on the
// same device while one is running is rejected.
//
// Parameters:
//   - ctx: Context bounding the whole install, including waits
//   - version: Expected version; empty accepts the selected candidate
//   - backup: Accepted for interface compatibility; the link cannot back up firmware
//
// Returns:
//   - error: nil on success, or:
//   - ErrInstallInProgress if another install is running
//   - ErrVersionUnavailable if version is not the selected candidate
//   - an error wrapping ErrTransferFailed if the link rejects a transfer
//   - *InstallError if the device reports a failure status
//   - ErrFinishTimeout, ErrStopped or a context error
//
// Install panics with ErrNoCandidate if no candidate is selected; callers
// check CanInstall first, or use BeginInstall.
func (u *Updater) Install(ctx context.Context, version string, backup bool) error {
	run, err := u.BeginInstall(ctx, version, backup)
	if errors.Is(err, ErrNoCandidate) {
		panic(ErrNoCandidate)
	}
	if err != nil {
		return err
	}
	return run()
}

// BeginInstall claims the device for an install of the selected candidate
// and returns the function that drives it. The preconditions are decided
// under one lock, so a check that drops the candidate cannot slip in
// between them and the install. run must be called exactly once.
//
// Returns ErrNoCandidate, ErrInstallInProgress, ErrVersionUnavailable or
// ErrStopped without claiming the device.
func (u *Updater) BeginInstall(ctx context.Context, version string, backup bool) (run func() error, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch {
	case u.stopped:
		return nil, ErrStopped
	case u.session != nil:
		return nil, ErrInstallInProgress
	case u.candidate == nil:
		return nil, ErrNoCandidate
	case version != "" && !sameVersion(version, u.candidate.Version):
		return nil, fmt.Errorf("%w: %s", ErrVersionUnavailable, version)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	sess := newSession(*u.candidate, u.installed, cancel, u.now())
	u.session = sess

	return func() error {
		defer cancel(nil)
		if backup {
			u.logger.Debug("firmware backup requested but not supported, continuing", "device_id", u.node.ID())
		}
		return u.drive(ctx, sess)
	}, nil
}

func sameVersion(a, b string) bool {
	if a == b {
		return true
	}
	av, err := parseVersion(a)
	if err != nil {
		return false
	}
	bv, err := parseVersion(b)
	if err != nil {
		return false
	}
	return av.Equal(bv)
}

// CanInstall reports whether Install may be called now.
func (u *Updater) CanInstall() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.canInstallLocked()
}

func (u *Updater) canInstallLocked() bool {
	return u.candidate != nil && u.session == nil && !u.stopped
}

// OffersVersion reports whether version names the selected candidate.
// An empty version matches any candidate.
func (u *Updater) OffersVersion(version string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.candidate == nil {
		return false
	}
	return version == "" || sameVersion(version, u.candidate.Version)
}

// ReleaseNotes returns the selected candidate's changelog.
func (u *Updater) ReleaseNotes() (string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.candidate == nil {
		return "", false
	}
	return u.candidate.ChangeLog, true
}

// InstalledVersion returns the version the device runs.
func (u *Updater) InstalledVersion() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.installed
}

// LatestVersion returns the newest advertised version, or "" if none.
func (u *Updater) LatestVersion() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.latest
}

// InProgress returns the install percentage and whether an install is running.
func (u *Updater) InProgress() (int, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.progress, u.session != nil
}

// State returns the install state.
func (u *Updater) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Snapshot returns the current firmware state.
func (u *Updater) Snapshot() Snapshot {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.snapshotLocked()
}

// PollValue exists for callers that refresh entities generically.
// Firmware state has no value to poll; it is refreshed by checks, so this
// always logs and returns ErrNothingToRefresh.
func (u *Updater) PollValue() error {
	u.logger.Error("there is no value to refresh for this entity", "device_id", u.node.ID())
	return ErrNothingToRefresh
}

func (u *Updater) snapshotLocked() Snapshot {
	snap := Snapshot{
		DeviceID:         u.node.ID(),
		InstalledVersion: u.installed,
		LatestVersion:    u.latest,
		UpdateAvailable:  u.latest != "" && IsNewer(u.latest, u.installed),
		CanInstall:       u.canInstallLocked(),
		InProgress:       u.session != nil,
		Progress:         u.progress,
		State:            u.state,
		HasReleaseNotes:  u.candidate != nil && u.candidate.ChangeLog != "",
		AwaitingDevice:   u.gate.Pending(),
		LastCheckError:   u.lastErr,
	}
	if !u.lastChecked.IsZero() {
		t := u.lastChecked
		snap.LastCheckedAt = &t
	}
	return snap
}

func (u *Updater) notify(snap Snapshot) {
	u.observer.StateChanged(snap)
}

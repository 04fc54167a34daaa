package firmware

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Phase is the install state of a device.
type Phase string

// Install phases.
const (
	PhaseIdle             Phase = "idle"
	PhaseWaitingForDevice Phase = "waiting_for_device"
	PhasePreparing        Phase = "preparing"
	PhaseTransferring     Phase = "transferring"
	PhaseAwaitingFinish   Phase = "awaiting_finish"
	PhaseCompleted        Phase = "completed"
	PhaseFailed           Phase = "failed"
)

// State is the install state of a device. File is the zero-based index of
// the file being transferred and is meaningful only while transferring or
// awaiting a finish event.
type State struct {
	Phase      Phase  `json:"phase"`
	File       int    `json:"file"`
	TotalFiles int    `json:"total_files"`
	Error      string `json:"error,omitempty"`
}

// Active reports whether an install is running.
func (s State) Active() bool {
	switch s.Phase {
	case PhaseWaitingForDevice, PhasePreparing, PhaseTransferring, PhaseAwaitingFinish:
		return true
	default:
		return false
	}
}

// session carries everything that exists only while an install runs:
// the consumed candidate, the counters and the per-file link subscriptions.
type session struct {
	id          string
	candidate   Candidate
	fromVersion string
	startedAt   time.Time
	cancel      context.CancelCauseFunc

	file           int
	filesInstalled int
	progressUnsub  Unsubscribe
	finishedUnsub  Unsubscribe
}

func newSession(candidate Candidate, fromVersion string, cancel context.CancelCauseFunc, now time.Time) *session {
	return &session{
		id:          uuid.NewString(),
		candidate:   candidate,
		fromVersion: fromVersion,
		startedAt:   now,
		cancel:      cancel,
	}
}

func (s *session) totalFiles() int {
	return len(s.candidate.Files)
}

// unsubscribe drops the current file's listeners. Safe to call repeatedly.
func (s *session) unsubscribe() {
	if s.progressUnsub != nil {
		s.progressUnsub()
		s.progressUnsub = nil
	}
	if s.finishedUnsub != nil {
		s.finishedUnsub()
		s.finishedUnsub = nil
	}
}

// drive runs the install state machine for sess to a terminal state.
func (u *Updater) drive(ctx context.Context, sess *session) error {
	if _, blocked := readinessEvent(u.node.Status()); blocked {
		u.setState(sess, State{Phase: PhaseWaitingForDevice, TotalFiles: sess.totalFiles()})
		u.logger.Info("device not reachable, waiting before firmware install",
			"device_id", u.node.ID(),
			"status", string(u.node.Status()),
		)
		if err := u.gate.Wait(ctx); err != nil {
			err = contextError(ctx, err)
			u.fail(sess, err)
			return err
		}
	}

	u.mu.Lock()
	u.progress = 0
	u.state = State{Phase: PhasePreparing, TotalFiles: sess.totalFiles()}
	snap := u.snapshotLocked()
	u.mu.Unlock()
	u.notify(snap)

	for i, file := range sess.candidate.Files {
		if err := u.transferFile(ctx, sess, i, file); err != nil {
			u.fail(sess, err)
			return err
		}
	}

	u.complete(sess)
	return nil
}

// transferFile sends one file and waits for the device verdict. The finish
// event resolves a per-file channel so no callback state outlives the file.
func (u *Updater) transferFile(ctx context.Context, sess *session, index int, file File) error {
	finished := make(chan UpdateFinished, 1)

	// A finish event without a status consumes the one-shot listener, so it
	// is re-armed for as long as this file is still outstanding.
	var onFinished Listener
	onFinished = func(e Event) {
		if e.Finished != nil {
			select {
			case finished <- *e.Finished:
			default:
			}
			return
		}
		u.logger.Warn("firmware update finished event without status", "device_id", u.node.ID())
		u.mu.Lock()
		if u.session == sess && sess.file == index && sess.finishedUnsub != nil {
			sess.finishedUnsub = u.node.Once(EventUpdateFinished, onFinished)
		}
		u.mu.Unlock()
	}

	u.mu.Lock()
	sess.file = index
	sess.progressUnsub = u.node.On(EventUpdateProgress, func(e Event) {
		u.handleProgress(sess, index, e)
	})
	sess.finishedUnsub = u.node.Once(EventUpdateFinished, onFinished)
	u.state = State{Phase: PhaseTransferring, File: index, TotalFiles: sess.totalFiles()}
	snap := u.snapshotLocked()
	u.mu.Unlock()
	u.notify(snap)

	u.logger.Info("starting firmware file transfer",
		"device_id", u.node.ID(),
		"version", sess.candidate.Version,
		"file", index+1,
		"files", sess.totalFiles(),
		"target", file.Target,
	)

	if err := u.controller.BeginOTAFirmwareUpdate(ctx, u.node, file); err != nil {
		return transferError(err)
	}

	u.setState(sess, State{Phase: PhaseAwaitingFinish, File: index, TotalFiles: sess.totalFiles()})

	result, err := u.awaitFinish(ctx, finished)
	if err != nil {
		return err
	}
	if !result.Status.Acceptable() {
		return &InstallError{Status: result.Status}
	}

	u.mu.Lock()
	sess.unsubscribe()
	sess.filesInstalled++
	u.progress = FileProgress(sess.filesInstalled, sess.totalFiles())
	snap = u.snapshotLocked()
	u.mu.Unlock()
	u.notify(snap)

	u.logger.Debug("firmware file accepted",
		"device_id", u.node.ID(),
		"file", index+1,
		"status", result.Status.String(),
	)
	return nil
}

// awaitFinish blocks until the device reports completion. Without a
// configured finish timeout it waits for as long as ctx allows.
func (u *Updater) awaitFinish(ctx context.Context, finished <-chan UpdateFinished) (UpdateFinished, error) {
	var timeout <-chan time.Time
	if u.cfg.FinishTimeout > 0 {
		t := time.NewTimer(u.cfg.FinishTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case r := <-finished:
		return r, nil
	case <-timeout:
		return UpdateFinished{}, ErrFinishTimeout
	case <-ctx.Done():
		return UpdateFinished{}, contextError(ctx, ctx.Err())
	}
}

// handleProgress folds a fragment report into the overall percentage.
// Reports for a file that already finished, or arriving after the session
// ended, are dropped.
func (u *Updater) handleProgress(sess *session, index int, e Event) {
	if e.Progress == nil {
		return
	}

	u.mu.Lock()
	if u.session != sess || u.candidate == nil || sess.filesInstalled != index {
		u.mu.Unlock()
		return
	}
	u.progress = EstimateProgress(sess.filesInstalled, e.Progress.SentFragments, e.Progress.TotalFragments, sess.totalFiles())
	snap := u.snapshotLocked()
	u.mu.Unlock()
	u.notify(snap)
}

func (u *Updater) setState(sess *session, st State) {
	u.mu.Lock()
	if u.session != sess {
		u.mu.Unlock()
		return
	}
	u.state = st
	snap := u.snapshotLocked()
	u.mu.Unlock()
	u.notify(snap)
}

// fail resets the device to a clean failed state and reports the outcome.
func (u *Updater) fail(sess *session, err error) {
	now := u.now()

	u.mu.Lock()
	sess.unsubscribe()
	if u.session == sess {
		u.session = nil
	}
	u.progress = 0
	u.state = State{Phase: PhaseFailed, File: sess.file, TotalFiles: sess.totalFiles(), Error: err.Error()}
	snap := u.snapshotLocked()
	u.mu.Unlock()

	u.logger.Error("firmware install failed",
		"device_id", u.node.ID(),
		"version", sess.candidate.Version,
		"file", sess.file+1,
		"error", err,
	)
	u.notify(snap)
	u.observer.InstallCompleted(InstallReport{
		ID:          sess.id,
		DeviceID:    u.node.ID(),
		FromVersion: sess.fromVersion,
		ToVersion:   sess.candidate.Version,
		Files:       sess.totalFiles(),
		Err:         err,
		StartedAt:   sess.startedAt,
		CompletedAt: now,
	})
}

// complete records the new version and clears the consumed candidate.
func (u *Updater) complete(sess *session) {
	now := u.now()

	u.mu.Lock()
	sess.unsubscribe()
	u.session = nil
	u.installed = sess.candidate.Version
	u.latest = sess.candidate.Version
	u.candidate = nil
	u.progress = 0
	u.state = State{Phase: PhaseCompleted, TotalFiles: sess.totalFiles()}
	snap := u.snapshotLocked()
	u.mu.Unlock()

	u.logger.Info("firmware install completed",
		"device_id", u.node.ID(),
		"from_version", sess.fromVersion,
		"to_version", sess.candidate.Version,
		"duration", now.Sub(sess.startedAt).String(),
	)
	u.notify(snap)
	u.observer.InstallCompleted(InstallReport{
		ID:          sess.id,
		DeviceID:    u.node.ID(),
		FromVersion: sess.fromVersion,
		ToVersion:   sess.candidate.Version,
		Files:       sess.totalFiles(),
		StartedAt:   sess.startedAt,
		CompletedAt: now,
	})
}

// contextError prefers the cancellation cause, e.g. ErrStopped.
func contextError(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}

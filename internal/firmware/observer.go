package firmware

import "time"

// Snapshot is a point-in-time view of a device's firmware state.
type Snapshot struct {
	DeviceID         string `json:"device_id"`
	InstalledVersion string `json:"installed_version"`
	LatestVersion    string `json:"latest_version,omitempty"`
	UpdateAvailable  bool   `json:"update_available"`
	CanInstall       bool   `json:"can_install"`
	InProgress       bool   `json:"in_progress"`
	Progress         int    `json:"progress"`
	State            State  `json:"state"`
	HasReleaseNotes  bool   `json:"has_release_notes"`
	// AwaitingDevice is set while a check or install waits for the device
	// to wake up or come back.
	AwaitingDevice bool       `json:"awaiting_device"`
	LastCheckedAt  *time.Time `json:"last_checked_at,omitempty"`
	LastCheckError string     `json:"last_check_error,omitempty"`
}

// CheckResult describes one completed discovery.
type CheckResult struct {
	DeviceID  string
	Candidate *Candidate // nil when the registry offered nothing
	// Advertised is true when the candidate is newer than the installed version.
	Advertised bool
	Err        error
	CheckedAt  time.Time
	Duration   time.Duration
}

// Check outcomes, as reported by CheckResult.Outcome.
const (
	OutcomeError           = "error"
	OutcomeNoUpdates       = "no_updates"
	OutcomeUpdateAvailable = "update_available"
	OutcomeUpToDate        = "up_to_date"
)

// Outcome classifies the check for logs, metrics and history.
func (r CheckResult) Outcome() string {
	switch {
	case r.Err != nil:
		return OutcomeError
	case r.Candidate == nil:
		return OutcomeNoUpdates
	case r.Advertised:
		return OutcomeUpdateAvailable
	default:
		return OutcomeUpToDate
	}
}

// InstallReport describes a finished install. Err is nil on success.
type InstallReport struct {
	ID          string
	DeviceID    string
	FromVersion string
	ToVersion   string
	Files       int
	Err         error
	StartedAt   time.Time
	CompletedAt time.Time
}

// Succeeded reports whether the install completed.
func (r InstallReport) Succeeded() bool {
	return r.Err == nil
}

// Observer receives firmware events. Methods are called synchronously from
// updater goroutines and must not block; they are never called with updater
// locks held.
type Observer interface {
	StateChanged(snap Snapshot)
	CheckCompleted(result CheckResult)
	InstallCompleted(report InstallReport)
}

// Observers fans events out to several observers in order. Nil entries are skipped.
type Observers []Observer

// StateChanged implements Observer.
func (o Observers) StateChanged(snap Snapshot) {
	for _, obs := range o {
		if obs != nil {
			obs.StateChanged(snap)
		}
	}
}

// CheckCompleted implements Observer.
func (o Observers) CheckCompleted(result CheckResult) {
	for _, obs := range o {
		if obs != nil {
			obs.CheckCompleted(result)
		}
	}
}

// InstallCompleted implements Observer.
func (o Observers) InstallCompleted(report InstallReport) {
	for _, obs := range o {
		if obs != nil {
			obs.InstallCompleted(report)
		}
	}
}

type noopObserver struct{}

func (noopObserver) StateChanged(Snapshot)          {}
func (noopObserver) CheckCompleted(CheckResult)     {}
func (noopObserver) InstallCompleted(InstallReport) {}

package firmware

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestUpdateStatus_Humanize(t *testing.T) {
	tests := []struct {
		status UpdateStatus
		want   string
	}{
		{UpdateErrorTimeout, "Error Timeout"},
		{UpdateErrorChecksum, "Error Checksum"},
		{UpdateErrorInvalidManufacturerID, "Error Invalid Manufacturer Id"},
		{UpdateErrorInsufficientMemory, "Error Insufficient Memory"},
		{UpdateOKNoRestart, "Ok No Restart"},
		{UpdateStatus(42), "Unknown 42"},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			if got := tt.status.Humanize(); got != tt.want {
				t.Errorf("Humanize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUpdateStatus_Acceptable(t *testing.T) {
	acceptable := map[UpdateStatus]bool{
		UpdateOKNoRestart:            true,
		UpdateOKRestartPending:       true,
		UpdateOKWaitingForActivation: true,
	}
	for status := range updateStatusNames {
		if got := status.Acceptable(); got != acceptable[status] {
			t.Errorf("%s.Acceptable() = %v, want %v", status, got, acceptable[status])
		}
	}
	if UpdateStatus(100).Acceptable() {
		t.Error("unknown status should not be acceptable")
	}
}

func TestParseUpdateStatus(t *testing.T) {
	tests := []struct {
		in     string
		want   UpdateStatus
		wantOK bool
	}{
		{"OK_NO_RESTART", UpdateOKNoRestart, true},
		{"ok_restart_pending", UpdateOKRestartPending, true},
		{" ERROR_TIMEOUT ", UpdateErrorTimeout, true},
		{"DONE", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseUpdateStatus(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("status = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUpdateFinished_DecodesCodeOrName(t *testing.T) {
	tests := []struct {
		in      string
		want    UpdateStatus
		wantErr bool
	}{
		{`{"status":254}`, UpdateOKNoRestart, false},
		{`{"status":-1}`, UpdateErrorTimeout, false},
		{`{"status":"OK_RESTART_PENDING"}`, UpdateOKRestartPending, false},
		{`{"status":"error_checksum"}`, UpdateErrorChecksum, false},
		{`{"status":"DONE"}`, 0, true},
		{`{"status":true}`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var f UpdateFinished
			err := json.Unmarshal([]byte(tt.in), &f)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && f.Status != tt.want {
				t.Errorf("status = %v, want %v", f.Status, tt.want)
			}
		})
	}
}

func TestInstallError(t *testing.T) {
	err := error(&InstallError{Status: UpdateErrorInvalidFirmwareTarget})

	if err.Error() != "Error Invalid Firmware Target" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, ErrInstallFailed) {
		t.Error("errors.Is(err, ErrInstallFailed) = false")
	}
	var ie *InstallError
	if !errors.As(err, &ie) || ie.Status != UpdateErrorInvalidFirmwareTarget {
		t.Error("errors.As did not recover the status")
	}
}

func TestCheckResult_Outcome(t *testing.T) {
	cand := &Candidate{Version: "1.1.0"}
	tests := []struct {
		name   string
		result CheckResult
		want   string
	}{
		{"error wins", CheckResult{Err: errors.New("x"), Candidate: cand, Advertised: true}, OutcomeError},
		{"nothing offered", CheckResult{}, OutcomeNoUpdates},
		{"newer", CheckResult{Candidate: cand, Advertised: true}, OutcomeUpdateAvailable},
		{"not newer", CheckResult{Candidate: cand}, OutcomeUpToDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Outcome(); got != tt.want {
				t.Errorf("Outcome() = %q, want %q", got, tt.want)
			}
		})
	}
}

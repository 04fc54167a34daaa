package device

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateNodeID(t *testing.T) {
	tests := []struct {
		id   int
		want bool
	}{
		{0, false},
		{1, true},
		{232, true},
		{233, false},
		{255, false},
		{256, true},
		{4000, true},
		{4001, false},
		{-1, false},
	}
	for _, tt := range tests {
		err := ValidateNodeID(tt.id)
		if (err == nil) != tt.want {
			t.Errorf("ValidateNodeID(%d) = %v, want valid=%v", tt.id, err, tt.want)
		}
		if err != nil && !errors.Is(err, ErrInvalidNodeID) {
			t.Errorf("ValidateNodeID(%d) error not ErrInvalidNodeID", tt.id)
		}
	}
}

func TestValidateTags(t *testing.T) {
	tests := []struct {
		name    string
		tags    []string
		wantErr bool
	}{
		{"nil", nil, false},
		{"valid", []string{"battery", "ground_floor"}, false},
		{"uppercase", []string{"Battery"}, true},
		{"duplicate", []string{"a", "a"}, true},
		{"empty", []string{""}, true},
		{"too long", []string{strings.Repeat("a", maxTagLength+1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateTags(tt.tags); (err != nil) != tt.wantErr {
				t.Errorf("ValidateTags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateSlug(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Hall Sensor", "hall-sensor"},
		{"  Kitchen__Plug  ", "kitchen-plug"},
		{"Node #12 (Porch)", "node-12-porch"},
		{strings.Repeat("ab ", 30), strings.Repeat("ab-", 16) + "ab"},
	}
	for _, tt := range tests {
		if got := GenerateSlug(tt.name); got != tt.want {
			t.Errorf("GenerateSlug(%q) = %q, want %q", tt.name, got, tt.want)
		}
		if err := ValidateSlug(GenerateSlug(tt.name)); err != nil {
			t.Errorf("generated slug invalid: %v", err)
		}
	}
}

func TestValidateDevice(t *testing.T) {
	if err := ValidateDevice(nil); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("ValidateDevice(nil) = %v", err)
	}
	d := testDevice("id", "Name", 4)
	if err := ValidateDevice(d); err != nil {
		t.Errorf("ValidateDevice(valid) = %v", err)
	}
	d.Slug = "Bad Slug"
	if err := ValidateDevice(d); !errors.Is(err, ErrInvalidSlug) {
		t.Errorf("ValidateDevice(bad slug) = %v", err)
	}
}

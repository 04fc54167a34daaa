package firmware

import "testing"

func TestIsNewer(t *testing.T) {
	tests := []struct {
		candidate string
		installed string
		want      bool
	}{
		{"1.1.0", "1.0.0", true},
		{"1.10", "1.9", true},
		{"1.2", "1.2.0", false},
		{"1.0.0", "1.0.1", false},
		{"v2.0", "1.99.99", true},
		{"2.0.0", "", true},
		{"not-a-version", "1.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.candidate+">"+tt.installed, func(t *testing.T) {
			if got := IsNewer(tt.candidate, tt.installed); got != tt.want {
				t.Errorf("IsNewer(%q, %q) = %v, want %v", tt.candidate, tt.installed, got, tt.want)
			}
		})
	}
}

func TestSelectLatest(t *testing.T) {
	t.Run("numeric not lexical ordering", func(t *testing.T) {
		best, rejected := selectLatest([]Candidate{
			{Version: "1.9.0"},
			{Version: "1.10.0", ChangeLog: "ten"},
			{Version: "1.2.0"},
		})
		if best == nil || best.Version != "1.10.0" {
			t.Fatalf("best = %+v, want 1.10.0", best)
		}
		if len(rejected) != 0 {
			t.Errorf("rejected = %v, want none", rejected)
		}
	})

	t.Run("skips invalid versions", func(t *testing.T) {
		best, rejected := selectLatest([]Candidate{
			{Version: "garbage"},
			{Version: "0.5"},
		})
		if best == nil || best.Version != "0.5" {
			t.Fatalf("best = %+v, want 0.5", best)
		}
		if len(rejected) != 1 || rejected[0] != "garbage" {
			t.Errorf("rejected = %v", rejected)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if best, _ := selectLatest(nil); best != nil {
			t.Errorf("best = %+v, want nil", best)
		}
	})

	t.Run("result does not alias input", func(t *testing.T) {
		in := []Candidate{{Version: "1.0", Files: []File{{Target: 0}}}}
		best, _ := selectLatest(in)
		in[0].Files[0].Target = 9
		if best.Files[0].Target != 0 {
			t.Error("selected candidate shares files with input")
		}
	})
}

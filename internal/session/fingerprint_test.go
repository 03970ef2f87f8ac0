package session

import "testing"

func TestFingerprintStable(t *testing.T) {
	a := ComputeFingerprint(testSignals())
	b := ComputeFingerprint(testSignals())
	if a.Digest != b.Digest {
		t.Error("same signals produced different digests")
	}
	if got := a.MatchRatio(b); got != 1.0 {
		t.Errorf("MatchRatio = %v, want 1.0", got)
	}
}

func TestFingerprintHidesRawSignals(t *testing.T) {
	sig := testSignals()
	fp := ComputeFingerprint(sig)
	for _, component := range fp.Components {
		if component == sig.UserAgent || component == sig.Language {
			t.Fatal("raw signal value stored in fingerprint")
		}
	}
}

func TestMatchRatio(t *testing.T) {
	base := ComputeFingerprint(testSignals())

	tests := []struct {
		name   string
		mutate func(*Signals)
		want   float64
	}{
		{"identical", func(*Signals) {}, 1.0},
		{"one changed", func(s *Signals) { s.Language = "fr-FR" }, 6.0 / 7},
		{"two changed", func(s *Signals) { s.Language = "fr-FR"; s.Platform = "Win32" }, 5.0 / 7},
		{"all changed", func(s *Signals) {
			s.UserAgent = "a"
			s.Language = "b"
			s.Platform = "c"
			s.ScreenResolution = "d"
			s.ColorDepth = "e"
			s.TimezoneOffset = "f"
			s.CanvasHash = "g"
		}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := testSignals()
			tt.mutate(&sig)
			if got := base.MatchRatio(ComputeFingerprint(sig)); got != tt.want {
				t.Errorf("MatchRatio = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFingerprintMissingProbe(t *testing.T) {
	empty := testSignals()
	empty.CanvasHash = ""
	explicit := testSignals()
	explicit.CanvasHash = "unavailable"

	a := ComputeFingerprint(empty)
	b := ComputeFingerprint(explicit)
	if a.Digest != b.Digest {
		t.Error("missing probe should hash the same as an explicit unavailable probe")
	}
}

func TestMatchRatioMismatchedShapes(t *testing.T) {
	base := ComputeFingerprint(testSignals())
	if got := base.MatchRatio(Fingerprint{}); got != 0 {
		t.Errorf("MatchRatio against empty fingerprint = %v, want 0", got)
	}
}

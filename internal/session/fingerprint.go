package session

import (
	"fmt"
	"strings"

	"github.com/spaolacci/murmur3"
)

// probeUnavailable stands in for a signal the client could not produce,
// so a consistently-failing probe still matches itself on the next
// visit.
const probeUnavailable = "unavailable"

// Signals are the client-reported characteristics a fingerprint is
// built from. They are advisory: a client can lie, so the fingerprint
// only guards against casual session copying, not a determined
// attacker.
type Signals struct {
	UserAgent        string `json:"user_agent"`
	Language         string `json:"language"`
	Platform         string `json:"platform"`
	ScreenResolution string `json:"screen_resolution"`
	ColorDepth       string `json:"color_depth"`
	TimezoneOffset   string `json:"timezone_offset"`
	CanvasHash       string `json:"canvas_hash"`
}

func (s Signals) components() []string {
	raw := []string{
		s.UserAgent,
		s.Language,
		s.Platform,
		s.ScreenResolution,
		s.ColorDepth,
		s.TimezoneOffset,
		s.CanvasHash,
	}
	for i, c := range raw {
		if c == "" {
			raw[i] = probeUnavailable
		}
	}
	return raw
}

// Fingerprint keeps a per-component hash alongside the aggregate digest
// so later comparisons can tolerate partial drift (browser updates
// change the user agent without moving the machine).
type Fingerprint struct {
	Digest     string   `json:"digest"`
	Components []string `json:"components"`
}

// ComputeFingerprint hashes each signal individually plus the joined
// whole. Storage only ever sees murmur3 digests, never raw values.
func ComputeFingerprint(sig Signals) Fingerprint {
	components := sig.components()
	hashes := make([]string, len(components))
	for i, c := range components {
		hashes[i] = fmt.Sprintf("%016x", murmur3.Sum64([]byte(c)))
	}
	return Fingerprint{
		Digest:     fmt.Sprintf("%016x", murmur3.Sum64([]byte(strings.Join(components, "|")))),
		Components: hashes,
	}
}

// MatchRatio returns the fraction of positional components that agree.
// Fingerprints with different component counts never match.
func (f Fingerprint) MatchRatio(other Fingerprint) float64 {
	if len(f.Components) == 0 || len(f.Components) != len(other.Components) {
		return 0
	}
	matched := 0
	for i := range f.Components {
		if f.Components[i] == other.Components[i] {
			matched++
		}
	}
	return float64(matched) / float64(len(f.Components))
}

// Package fingerprint derives weighted identity fingerprints from merged
// observations.
package fingerprint

import (
	"regexp"
	"sort"
	"strings"

	"assetscope/internal/config"
	"assetscope/internal/domain"
)

// Engine builds fingerprints using the configured weight table. The weights
// themselves live in config; the engine only extracts and normalizes keys.
type Engine struct {
	weights config.Weights
}

// NewEngine creates a fingerprint engine.
func NewEngine(weights config.Weights) *Engine {
	return &Engine{weights: weights}
}

// Weights returns the engine's weight table.
func (e *Engine) Weights() config.Weights {
	return e.weights
}

// Build derives the fingerprint of one merged observation. Missing keys
// simply stay absent; the resolver reasons about partial evidence from
// which keys are present.
func (e *Engine) Build(merged domain.Observation, protocols []string) domain.Fingerprint {
	fp := domain.Fingerprint{
		Attributes: merged.Attributes,
		Protocols:  protocols,
		ObservedAt: merged.Taken,
	}

	if v, ok := merged.Attr(domain.AttrSerialNumber); ok {
		fp.Keys.SerialNumber = strings.TrimSpace(v.Str)
	}
	if v, ok := merged.Attr(domain.AttrBoardSerial); ok {
		fp.Keys.BoardSerial = strings.TrimSpace(v.Str)
	}
	if v, ok := merged.Attr(domain.AttrMACAddresses); ok {
		fp.Keys.MACs = NormalizeMACs(v.List)
	}
	if v, ok := merged.Attr(domain.AttrHostname); ok {
		fp.Keys.Hostname = strings.ToLower(strings.TrimSpace(v.Str))
	}
	if v, ok := merged.Attr(domain.AttrIPAddress); ok {
		fp.Keys.IP = strings.TrimSpace(v.Str)
	} else if merged.Target != "" {
		fp.Keys.IP = merged.Target
	}

	return fp
}

var macRe = regexp.MustCompile(`(?i)[0-9a-f]{2}([:-][0-9a-f]{2}){5}`)

// NormalizeMACs canonicalizes MAC addresses to uppercase colon form,
// deduplicated and sorted so set comparison is stable.
func NormalizeMACs(raw []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range raw {
		match := macRe.FindString(strings.TrimSpace(s))
		if match == "" {
			continue
		}
		mac := strings.ToUpper(strings.ReplaceAll(match, "-", ":"))
		if mac == "00:00:00:00:00:00" {
			continue
		}
		if _, ok := seen[mac]; ok {
			continue
		}
		seen[mac] = struct{}{}
		out = append(out, mac)
	}
	sort.Strings(out)
	return out
}

package manifest

import "strings"

// RiskLevel is the advisory risk classification of a permission set.
// It is shown to the user when approval is requested and has no
// enforcement authority.
type RiskLevel int

const (
	// RiskLow covers plugins that need next to nothing.
	RiskLow RiskLevel = iota
	// RiskMedium covers network access or a small amount of local data.
	RiskMedium
	// RiskHigh covers shell access or broad access to local data.
	RiskHigh
)

// Risk weights per declared permission.
const (
	weightNetwork   = 2
	weightClipboard = 1
	weightFSRead    = 2
	weightFSWrite   = 4
	weightEnv       = 2
	weightShell     = 5
)

// String returns a human-readable representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// RiskFactor is one permission's contribution to the risk score.
type RiskFactor struct {
	Permission string
	Detail     string
	Weight     int
}

// Breakdown lists every permission that contributes to the risk score, in
// a stable order: network, clipboard, filesystem, environment, shell.
func Breakdown(p Permissions) []RiskFactor {
	var factors []RiskFactor
	if p.HasNetwork() {
		factors = append(factors, RiskFactor{Permission: "network", Detail: strings.Join(p.Network, ", "), Weight: weightNetwork})
	}
	if p.Clipboard {
		factors = append(factors, RiskFactor{Permission: "clipboard", Weight: weightClipboard})
	}
	for _, g := range p.Filesystem {
		w := weightFSRead
		if g.Writable() {
			w = weightFSWrite
		}
		factors = append(factors, RiskFactor{Permission: "filesystem", Detail: g.Path + " (" + string(g.Access) + ")", Weight: w})
	}
	for _, name := range p.Environment {
		factors = append(factors, RiskFactor{Permission: "environment", Detail: name, Weight: weightEnv})
	}
	if p.HasShell() {
		factors = append(factors, RiskFactor{Permission: "shell", Detail: strings.Join(p.Shell.Commands, ", "), Weight: weightShell})
	}
	return factors
}

// Points returns the weighted sum of a permission set.
func Points(p Permissions) int {
	total := 0
	for _, f := range Breakdown(p) {
		total += f.Weight
	}
	return total
}

// Score maps a permission set to its risk level: low at 1 point or less,
// medium from 2 to 4, high at 5 or more. Adding a permission never lowers
// the level.
func Score(p Permissions) RiskLevel {
	switch points := Points(p); {
	case points <= 1:
		return RiskLow
	case points <= 4:
		return RiskMedium
	default:
		return RiskHigh
	}
}

package provider

import "log/slog"

// LevelTrace is the most verbose log level used by the providers
const LevelTrace = slog.Level(-8)

// Mirror is a single mirror directive, the repository at Origin
// should be mirrored into Destination.
type Mirror struct {
	Origin      string `json:"origin" yaml:"origin"`
	Destination string `json:"destination" yaml:"destination"`
}

// Provider is implemented by every hosting service backend which can
// list the mirror directives of its repositories.
//
// GetMirrorRepos either returns the complete list of mirrors or fails as a whole.
type Provider interface {
	GetMirrorRepos() ([]Mirror, error)
}

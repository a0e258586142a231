package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. The mentor section
// and the log level are applied live; everything listed in RestartRequired
// only takes effect after a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	MentorChanged bool
	Mentor        MentorConfig

	// RestartRequired names the top-level sections that changed but cannot
	// be hot-reloaded.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.MentorChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Mentor != new.Mentor {
		d.MentorChanged = true
		d.Mentor = new.Mentor
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if !reflect.DeepEqual(old.Session, new.Session) {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	if old.Avatar != new.Avatar {
		d.RestartRequired = append(d.RestartRequired, "avatar")
	}
	if old.Ledger != new.Ledger {
		d.RestartRequired = append(d.RestartRequired, "ledger")
	}
	slices.Sort(d.RestartRequired)

	return d
}

// Package build carries metadata embedded into the binary at compile
// time via -ldflags (name, version, commit, build timestamp). Values
// default to development placeholders when the linker flags are not
// provided, so an uninstrumented `go build` still produces a working
// binary.
package build

// Info holds the resolved build metadata.
type Info struct {
	Name        string
	Description string
	Version     string
	Commit      string
	Time        string
}

// Populated by -ldflags during release builds.
var (
	buildName    string
	buildVersion string
	buildCommit  string
	buildTime    string
)

// GetInfo returns the build metadata, substituting development
// defaults for any field the linker did not set.
func GetInfo() Info {
	info := Info{
		Name:        buildName,
		Description: "streaming frequency-domain sink",
		Version:     buildVersion,
		Commit:      buildCommit,
		Time:        buildTime,
	}
	if info.Name == "" {
		info.Name = "freqsink"
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	if info.Time == "" {
		info.Time = "unknown"
	}
	return info
}

// Package version reports the build identity of stallwatch binaries
package version

// BuildInfo holds version information about the service build
type BuildInfo struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Info returns the build information for service
// set at build time with
// -ldflags "-X 'stallwatch/internal/core/version.version=v0.3.0' -X 'stallwatch/internal/core/version.commit=abcd'"
func Info(service string) BuildInfo {
	return BuildInfo{
		Service: service,
		Version: version,
		Commit:  commit,
		Date:    date,
	}
}

// Version is the bare version string
func Version() string { return version }

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

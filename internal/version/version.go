// Package version carries the build stamp injected with -ldflags -X.
package version

import (
	"fmt"
	"net/http"
	"runtime"

	"tailscale.com/tsweb"

	"github.com/banshee-data/roadway/internal/httputil"
)

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// Info is the build stamp of the running binary.
type Info struct {
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Current returns the stamp of this build.
func Current() Info {
	return Info{
		Version:   Version,
		GitSHA:    GitSHA,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// String formats the stamp for -version output and startup logs.
func String() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, GitSHA, BuildTime)
}

// AttachAdminRoutes mounts /debug/version.
func AttachAdminRoutes(mux *http.ServeMux) {
	tsweb.Debugger(mux).HandleFunc("version", "Build version", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, Current())
	})
}

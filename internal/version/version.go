package version

import (
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
)

// Version can be set at build time with
// -ldflags "-X github.com/appliance-health/healthd/internal/version.Version=v1.2.3".
var Version string

// Info describes the running build.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	GoVersion string `json:"go_version"`
}

var (
	once sync.Once
	info Info
)

// Get returns the current version
func Get() string {
	return Build().Version
}

// Build returns the build description, resolved once.
func Build() Info {
	once.Do(func() {
		info = resolve(Version, os.Getenv("HEALTHD_VERSION"), debug.ReadBuildInfo)
	})
	return info
}

// UserAgent is sent on outbound notification requests.
func UserAgent() string {
	return "healthd/" + Get()
}

// resolve picks the version from, in order: the linker flag, the
// environment, a .version file next to the binary or working directory,
// the module version stamped by `go install`. Falls back to "dev".
func resolve(linked, env string, buildInfo func() (*debug.BuildInfo, bool)) Info {
	out := Info{GoVersion: runtime.Version()}

	bi, haveBI := buildInfo()
	if haveBI {
		out.Commit = revision(bi)
	}

	switch {
	case linked != "":
		out.Version = linked
	case env != "":
		out.Version = env
	default:
		if v := readVersionFile(); v != "" {
			out.Version = v
		} else if haveBI && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			out.Version = bi.Main.Version
		} else {
			out.Version = "dev"
		}
	}
	return out
}

func readVersionFile() string {
	dirs := []string{"."}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	for _, dir := range dirs {
		if data, err := os.ReadFile(filepath.Join(dir, ".version")); err == nil {
			if v := strings.TrimSpace(string(data)); v != "" {
				return v
			}
		}
	}
	return ""
}

// revision returns the short VCS revision, marked when the tree was dirty.
func revision(bi *debug.BuildInfo) string {
	var rev string
	var dirty bool
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if rev != "" && dirty {
		rev += "-dirty"
	}
	return rev
}

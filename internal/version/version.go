// Package version tracks build metadata for the application.
package version

import "fmt"

// Set at build time via -ldflags "-X ...".
var (
	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// Info describes build metadata for the application.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// Current returns the build metadata compiled into the binary.
func Current() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
	}
}

// String renders the metadata for the --version flag.
func (i Info) String() string {
	out := "drmtop " + i.Version
	if i.Commit != "" {
		out = fmt.Sprintf("%s (%s)", out, i.Commit)
	}
	if i.BuildTime != "" {
		out += " built " + i.BuildTime
	}
	return out
}

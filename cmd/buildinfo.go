package cmd

import (
	"runtime/debug"
)

type (
	BuildInfo struct {
		ModVersion string
		GoVersion  string
		VCSRev     string
		VCSTime    string
		VCSDirty   bool
	}
)

// ReadVCSBuildInfo reads the module version and vcs stamp of the binary
func ReadVCSBuildInfo() BuildInfo {
	info := BuildInfo{
		ModVersion: "dev",
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.GoVersion = bi.GoVersion
	if v := bi.Main.Version; v != "" && v != "(devel)" {
		info.ModVersion = v
	}
	for _, i := range bi.Settings {
		switch i.Key {
		case "vcs.revision":
			info.VCSRev = i.Value
		case "vcs.time":
			info.VCSTime = i.Value
		case "vcs.modified":
			info.VCSDirty = i.Value == "true"
		}
	}
	if info.ModVersion == "dev" && info.VCSRev != "" {
		rev := info.VCSRev
		if len(rev) > 12 {
			rev = rev[:12]
		}
		info.ModVersion = "dev-" + rev
		if info.VCSDirty {
			info.ModVersion += "-dirty"
		}
	}
	return info
}

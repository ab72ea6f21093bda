package main

import (
	"fmt"
	"io"
	"runtime/debug"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string
	Commit    string
	Date      string
	GoVersion string
	Module    string
}

// GetBuildInfo reads version and VCS details embedded by the Go toolchain.
func GetBuildInfo() BuildInfo {
	info := BuildInfo{
		Version:   "dev",
		Commit:    "unknown",
		Date:      "unknown",
		GoVersion: "unknown",
		Module:    "unknown",
	}

	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = buildInfo.GoVersion
		info.Module = buildInfo.Main.Path

		if buildInfo.Main.Version != "(devel)" && buildInfo.Main.Version != "" {
			info.Version = buildInfo.Main.Version
		}

		for _, setting := range buildInfo.Settings {
			switch setting.Key {
			case "vcs.revision":
				if len(setting.Value) >= 7 {
					info.Commit = setting.Value[:7]
				} else {
					info.Commit = setting.Value
				}
			case "vcs.time":
				info.Date = setting.Value
			}
		}
	}

	return info
}

// PrintVersion writes the build details to w.
func PrintVersion(w io.Writer) {
	buildInfo := GetBuildInfo()
	fmt.Fprintf(w, "Sensorhub Station\n")
	fmt.Fprintf(w, "Version: %s\n", buildInfo.Version)
	fmt.Fprintf(w, "Commit: %s\n", buildInfo.Commit)
	fmt.Fprintf(w, "Build Date: %s\n", buildInfo.Date)
	fmt.Fprintf(w, "Go Version: %s\n", buildInfo.GoVersion)
	fmt.Fprintf(w, "Module: %s\n", buildInfo.Module)
}

package main

import (
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/joshuapare/kestrel/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// VersionInfo is the JSON form of the version command.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Built     string `json:"built"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Kernel    string `json:"kernel_module"`

	Defaults config.Config `json:"defaults"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information and kernel defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := versionInfo()
		if jsonOut {
			return printJSON(info)
		}
		printInfo("kestrelctl %s\n", info.Version)
		printInfo("  commit: %s\n", info.Commit)
		printInfo("  built: %s\n", info.Built)
		printInfo("  go: %s %s\n", info.GoVersion, info.Platform)
		printInfo("  kernel: %s\n", info.Kernel)
		d := info.Defaults
		printInfo("  defaults: %s RAM, %d Hz timer, %d region pages, %d stack pages, quantum %d, refresh %s\n",
			formatBytes(d.MemoryBytes), d.TimerHz, d.RegionPages, d.StackPages, d.Quantum, d.Refresh)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func versionInfo() VersionInfo {
	info := VersionInfo{
		Version:   version,
		Commit:    commit,
		Built:     date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Kernel:    "github.com/joshuapare/kestrel (devel)",
		Defaults:  config.Default(),
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, dep := range bi.Deps {
		if dep.Path != "github.com/joshuapare/kestrel" {
			continue
		}
		v := dep.Version
		if dep.Replace != nil {
			v = "=> " + dep.Replace.Path
		}
		info.Kernel = dep.Path + " " + v
	}
	return info
}

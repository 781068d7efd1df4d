package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE:  runVersion,
}

func runVersion(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "evtx-archiver %s\n", version)
	if gitCommit != "unknown" {
		_, _ = fmt.Fprintf(out, "  commit: %s\n", gitCommit)
	}
	if buildTime != "unknown" {
		_, _ = fmt.Fprintf(out, "  built:  %s\n", buildTime)
	}
	_, _ = fmt.Fprintf(out, "  go:     %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return nil
}

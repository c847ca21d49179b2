package main

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/vango-dev/syncore/pkg/protocol"
)

// buildInfo is what the version command reports.
type buildInfo struct {
	Version         string `json:"version"`
	Commit          string `json:"commit"`
	Date            string `json:"date"`
	Protocol        int    `json:"protocol"`
	MaxFragmentSize int    `json:"maxFragmentSize"`
	MaxMessageSize  int    `json:"maxMessageSize"`
	Go              string `json:"go"`
	Platform        string `json:"platform"`
}

func currentBuild() buildInfo {
	return buildInfo{
		Version:         version,
		Commit:          commit,
		Date:            date,
		Protocol:        protocol.Version,
		MaxFragmentSize: protocol.MaxFragmentSize,
		MaxMessageSize:  protocol.DefaultMaxMessageSize,
		Go:              runtime.Version(),
		Platform:        runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func versionCmd() *cobra.Command {
	var (
		short  bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and wire protocol information",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			info := currentBuild()
			switch {
			case short:
				fmt.Fprintln(out, info.Version)
			case asJSON:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			default:
				fmt.Fprintf(out, "syncore %s (%s, %s)\n", info.Version, info.Commit, info.Date)
				fmt.Fprintf(out, "protocol v%d: %q-delimited frames up to %d bytes, messages up to %d bytes\n",
					info.Protocol, protocol.MessageDelimiter, info.MaxFragmentSize, info.MaxMessageSize)
				fmt.Fprintf(out, "%s %s\n", info.Go, info.Platform)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only the version number")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print build information as JSON")

	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the relay and yt-dlp versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dl, err := ctx.downloader()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "yt-dl-relay %s\n", version)

			v, err := dl.Version(cmd.Context())
			if err != nil {
				return fmt.Errorf("yt-dlp: %w", err)
			}
			fmt.Fprintf(out, "yt-dlp %s\n", v)
			return nil
		},
	}
}

package main

import (
	"fmt"
	"strings"

	"github.com/emanuelef/yt-dl-relay/internal/domain"
	"github.com/emanuelef/yt-dl-relay/internal/transport/http/middleware"
	"github.com/spf13/cobra"
)

func newArgsCommand(ctx *commandContext) *cobra.Command {
	var start, end int

	cmd := &cobra.Command{
		Use:   "args <url>",
		Short: "Print the yt-dlp command a relay request would run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dl, err := ctx.downloader()
			if err != nil {
				return err
			}

			req := &domain.DownloadRequest{URL: strings.TrimSpace(args[0]), Start: start, End: end}
			if err := middleware.NewURLValidator(cfg.AllowedDomains).Validate(req.URL); err != nil {
				return fmt.Errorf("request would be rejected: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), shellJoin(append([]string{cfg.YtDlpPath}, dl.Args(req)...)))
			return nil
		},
	}

	cmd.Flags().IntVar(&start, "start", domain.NoRange, "First playlist item (0-based)")
	cmd.Flags().IntVar(&end, "end", domain.NoRange, "Last playlist item")

	return cmd
}

// shellJoin quotes arguments that a POSIX shell would split or expand.
func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\n'\"\\$`*?[]()<>|;&%#~") {
			quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		} else {
			quoted[i] = a
		}
	}
	return strings.Join(quoted, " ")
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/emanuelef/yt-dl-relay/internal/domain"
	"github.com/emanuelef/yt-dl-relay/internal/infra/sqlite"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

const maxURLWidth = 60

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent relay sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.HistoryEnabled() {
				return errors.New("relay history is disabled (DATA_DIR is empty)")
			}
			if limit < 1 {
				return errors.New("--limit must be positive")
			}

			repo, err := sqlite.NewRepository(cfg.DataDir)
			if err != nil {
				return err
			}
			defer repo.Close()

			sessions, err := repo.ListRecent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(sessions)
			}

			if len(sessions) == 0 {
				fmt.Fprintln(out, "No relays recorded")
				return nil
			}
			fmt.Fprintln(out, renderSessions(sessions))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of sessions to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print sessions as JSON")

	return cmd
}

func renderSessions(sessions []*domain.RelaySession) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"ID", "Started", "Status", "Lines", "Exit", "Range", "URL", "Error"})
	// Lines and Exit are numeric
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Lines", Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Name: "Exit", Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})

	for _, s := range sessions {
		exit := "-"
		if s.ExitCode != nil {
			exit = strconv.Itoa(*s.ExitCode)
		}

		rng := "-"
		if req := (domain.DownloadRequest{Start: s.Start, End: s.End}); req.HasRange() {
			rng = req.PlaylistItems()
		}

		tw.AppendRow(table.Row{
			shortID(s.ID),
			s.CreatedAt.Local().Format(time.DateTime),
			s.Status,
			s.Lines,
			exit,
			rng,
			truncate(s.URL, maxURLWidth),
			s.Error,
		})
	}

	return tw.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

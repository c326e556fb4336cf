package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yangwenmai/reqscribe/internal/model"
)

func jobsCmd() *cobra.Command {
	var (
		statuses []string
		limit    int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List ledger rows, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			filter := model.StatusFilter{Limit: limit}
			for _, s := range statuses {
				st := model.Status(strings.ToUpper(strings.TrimSpace(s)))
				if !st.Valid() {
					return fmt.Errorf("unknown status %q", s)
				}
				filter.Status = append(filter.Status, st)
			}

			db, s, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			rows, err := s.ListStatuses(cmd.Context(), filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			counts, err := s.CountByStatus(cmd.Context())
			if err != nil {
				return err
			}
			colorize := shouldColorize(out)
			table := make([][]string, 0, len(rows))
			for _, r := range rows {
				table = append(table, []string{
					shortHash(r.AudioHash),
					statusCell(r.Status, colorize),
					deref(r.Details),
					r.UpdatedAt,
				})
			}
			fmt.Fprintln(out, renderTable([]string{"Hash", "Status", "Details", "Updated"}, table, nil))

			summary := make([][]string, 0, len(model.AllStatuses))
			for _, st := range model.AllStatuses {
				if n := counts[st]; n > 0 {
					summary = append(summary, []string{statusCell(st, colorize), strconv.Itoa(n)})
				}
			}
			if len(summary) > 0 {
				fmt.Fprintln(out, renderTable([]string{"Status", "Jobs"}, summary, []columnAlignment{alignLeft, alignRight}))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "only show these statuses")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum rows (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <audio_hash>",
		Short: "Show the ledger row and document for one upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, s, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			hash := strings.ToLower(strings.TrimSpace(args[0]))
			row, err := s.GetStatus(cmd.Context(), hash)
			if err != nil {
				return err
			}
			doc, err := s.GetDocument(cmd.Context(), hash)
			if err != nil {
				return err
			}
			if row == nil && doc == nil {
				return fmt.Errorf("no job for %s", hash)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			rows := [][]string{{"Hash", hash}}
			if row != nil {
				rows = append(rows,
					[]string{"Status", statusCell(row.Status, colorize)},
					[]string{"Details", deref(row.Details)},
					[]string{"Updated", row.UpdatedAt},
				)
			}
			if doc != nil {
				rows = append(rows,
					[]string{"Document", doc.FilePath},
					[]string{"Format", doc.Format},
					[]string{"Created", doc.CreatedAt},
				)
			}
			fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

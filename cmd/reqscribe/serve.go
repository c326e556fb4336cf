package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API (upload, status, download)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return serveHTTP(cmd.Context(), a.httpServer())
		},
	}
	addPortFlag(cmd)
	return cmd
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:       fmt.Sprintf("worker <%s>", strings.Join(stageNames, "|")),
		Short:     "Run one pipeline stage consumer",
		Args:      cobra.ExactArgs(1),
		ValidArgs: stageNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			wg, err := a.startWorkers(cmd.Context(), args)
			if err != nil {
				return err
			}
			wg.Wait()
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the HTTP API and every stage in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			wg, err := a.startWorkers(ctx, stageNames)
			if err != nil {
				return err
			}
			serveErr := serveHTTP(ctx, a.httpServer())
			cancel()
			wg.Wait()
			return serveErr
		},
	}
	addPortFlag(cmd)
	return cmd
}

func addPortFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("port", "p", "", "HTTP listen port")
}

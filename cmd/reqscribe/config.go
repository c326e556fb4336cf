package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yangwenmai/reqscribe/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect or create configuration"}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config file with the built-in defaults",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "reqscribe.toml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.Default().WriteFile(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	var asTOML bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asTOML {
				data, err := cfg.TOML()
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}

			settings := cfg.Settings()
			rows := make([][]string, 0, len(settings))
			for _, k := range config.Keys() {
				rows = append(rows, []string{k, fmt.Sprint(settings[k])})
			}
			fmt.Fprintln(out, renderTable([]string{"Key", "Value"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asTOML, "toml", false, "output TOML")
	return cmd
}

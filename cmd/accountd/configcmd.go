// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/accountd/internal/config"
)

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and check configuration",
	}

	schema := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for the YAML config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := config.Schema()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(append(data, '\n'))
			return err
		},
	}

	validate := &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a YAML config file against the schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return oops.Code("CONFIG_LOAD_FAILED").With("file", args[0]).Wrap(err)
			}
			if err := config.ValidateFile(data); err != nil {
				return oops.With("file", args[0]).Wrap(err)
			}
			cmd.Printf("%s: ok\n", args[0])
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Read(configOptions(cmd.Flags()))
			if err != nil {
				return err
			}
			for _, attr := range cfg.LogValue().Group() {
				cmd.Printf("%s: %s\n", attr.Key, attr.Value)
			}
			return nil
		},
	}

	config.RegisterFlags(show.Flags())

	cmd.AddCommand(schema, validate, show)
	return cmd
}

// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/danielhkuo/pollsync/client"
	"github.com/danielhkuo/pollsync/clientconfig"
)

// app carries the persistent flags shared by every command.
type app struct {
	configPath string
	logLevel   string
	output     string

	// opts are appended to the client options; tests use them to inject a
	// connectivity monitor.
	opts []client.Option
}

func rootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pollctl",
		Short: "Offline-first poll voting client",
		Long: `pollctl votes on polls and composes drafts against a pollsync server.

Everything goes through a local store first. When the server cannot be
reached, votes and drafts are queued and sent by "pollctl sync".`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch a.output {
			case "text", "json", "yaml":
			default:
				return fmt.Errorf("unknown output format %q (text, json, yaml)", a.output)
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(),
				&slog.HandlerOptions{Level: parseLevel(a.logLevel)})))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVarP(&a.output, "output", "o", "text", "Output format (text, json, yaml)")

	cmd.AddCommand(
		voteCmd(a),
		statusCmd(a),
		syncCmd(a),
		draftsCmd(a),
		cleanupCmd(a),
		resetCmd(a),
		pollsCmd(a),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "pollctl version %s\n", Version)
			},
		},
	)
	return cmd
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	}
	return slog.LevelWarn
}

// open builds a client without the background loop; commands flush
// explicitly.
func (a *app) open(ctx context.Context) (*client.Client, error) {
	cfg, err := clientconfig.Load(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	opts := append([]client.Option{client.WithoutBackgroundSync()}, a.opts...)
	return client.New(ctx, cfg, opts...)
}

// print writes v as JSON or YAML, or calls text for the default format.
func (a *app) print(w io.Writer, v any, text func(io.Writer)) error {
	switch a.output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	text(w)
	return nil
}

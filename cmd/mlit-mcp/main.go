// mlit-mcp serves the MLIT Data Platform search API as MCP tools.
//
// Usage:
//
//	mlit-mcp serve                       # stdio transport for an agent host
//	mlit-mcp serve --transport http      # HTTP transport on :8080
//	mlit-mcp call search --args '{"keyword":"橋"}'
//	mlit-mcp tools                       # list tools
//	mlit-mcp audit                       # show recent tool calls
//	mlit-mcp token --subject agent       # issue a bearer JWT
//	mlit-mcp hash-token <token>          # bcrypt hash for server.token_hash
//	mlit-mcp version
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/audit"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/internal/config"
	"github.com/RobinCoderZhao/mlit-dpf-mcp/pkg/mcpserver"
)

var buildVersion = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "mlit-mcp",
		Short:        "MCP tool server for the MLIT Data Platform",
		Long:         "mlit-mcp exposes the MLIT Data Platform (国土交通データプラットフォーム) search API as MCP tools.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./mlit-mcp.yaml or ~/.mlit-mcp.yaml)")

	loadConfig := func() (config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}

	root.AddCommand(serveCmd(loadConfig))
	root.AddCommand(callCmd(loadConfig))
	root.AddCommand(toolsCmd(loadConfig))
	root.AddCommand(auditCmd(loadConfig))
	root.AddCommand(tokenCmd(loadConfig))
	root.AddCommand(hashTokenCmd())
	root.AddCommand(versionCmd())
	return root
}

type configLoader func() (config.Config, error)

func serveCmd(load configLoader) *cobra.Command {
	var transport, addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server",
		Long:  "Run the MCP server on stdio (default) or HTTP. Logs go to stderr.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("transport") {
				cfg.Server.Transport = transport
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&transport, "transport", config.TransportStdio, "transport: stdio or http")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address for the http transport")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, in io.Reader, out, errOut io.Writer) error {
	logger := newLogger(cfg.Log, errOut)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	a.warm(ctx)

	logger.Info("starting mlit-mcp",
		"version", buildVersion,
		"transport", cfg.Server.Transport,
		"upstream", cfg.Upstream.BaseURL,
		"audit", cfg.Audit.Enabled,
	)

	switch cfg.Server.Transport {
	case config.TransportHTTP:
		auth := mcpserver.NewBearerAuth(cfg.Server.JWTSecret, cfg.Server.TokenHash)
		if auth == nil {
			logger.Warn("http transport has no authentication configured")
		}
		return a.server.RunHTTP(ctx, cfg.Server.Addr, auth)
	default:
		return a.server.RunStdio(ctx, in, out)
	}
}

func callCmd(load configLoader) *cobra.Command {
	var rawArgs string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Call one tool and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			toolArgs := map[string]any{}
			if strings.TrimSpace(rawArgs) != "" {
				dec := json.NewDecoder(strings.NewReader(rawArgs))
				dec.UseNumber()
				if err := dec.Decode(&toolArgs); err != nil {
					return fmt.Errorf("parse --args: %w", err)
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, newLogger(cfg.Log, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer a.Close()

			result := a.server.CallTool(ctx, args[0], toolArgs)
			for _, c := range result.Content {
				fmt.Fprintln(cmd.OutOrStdout(), c.Text)
			}
			if result.IsError {
				return fmt.Errorf("tool %s failed (%s)", args[0], result.ErrorKind())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&rawArgs, "args", "a", "", "tool arguments as a JSON object")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall deadline for the call")
	return cmd
}

func toolsCmd(load configLoader) *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the available tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), withoutAudit(cfg), newLogger(cfg.Log, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer a.Close()

			defs := a.server.Tools()
			if outputJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetEscapeHTML(false)
				enc.SetIndent("", "  ")
				return enc.Encode(defs)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, d := range defs {
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.Category, d.Name, d.Description)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "print full definitions as JSON")
	return cmd
}

// withoutAudit disables the audit log for commands that make no tool calls.
func withoutAudit(cfg config.Config) config.Config {
	cfg.Audit.Enabled = false
	return cfg
}

func auditCmd(load configLoader) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent tool calls from the audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			store, err := audit.Open(cmd.Context(), cfg.Audit.DSN)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tTOOL\tOUTCOME\tKIND\tDURATION\tID")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.StartedAt.Local().Format(time.DateTime), e.Tool, e.Outcome, e.ErrorKind, e.Duration, e.ID)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	return cmd
}

func tokenCmd(load configLoader) *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer JWT for the HTTP transport",
		Long:  "Issue an HS256 JWT signed with server.jwt_secret (or MLIT_JWT_SECRET).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			auth := mcpserver.NewBearerAuth(cfg.Server.JWTSecret, "")
			if auth == nil {
				return fmt.Errorf("server.jwt_secret is not set")
			}
			token, err := auth.IssueToken(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "mlit-mcp-client", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func hashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token <token>",
		Short: "Print the bcrypt hash to configure as server.token_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := mcpserver.HashToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mlit-mcp %s\n", buildVersion)
		},
	}
}

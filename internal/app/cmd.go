package app

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hitoshi/authgate/internal/logger"
)

// サブコマンド名
const (
	CommandServe       = "serve"
	CommandMigrate     = "migrate"
	CommandHealthcheck = "healthcheck"
)

const defaultPort = "8080"

// NewRootCmd はルートコマンドを生成する。
// サブコマンド無しで起動した場合はserveとして動作する。
// wはログの出力先。
func NewRootCmd(w io.Writer) *cobra.Command {
	serve := newServeCmd(w)

	root := &cobra.Command{
		Use:           "authgate",
		Short:         "Session, identity and authorization API",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serve.RunE,
	}

	root.AddCommand(serve, newMigrateCmd(w), newHealthcheckCmd())
	return root
}

func newServeCmd(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   CommandServe,
		Short: "Start the API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func newMigrateCmd(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   CommandMigrate,
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			logger.SetupDefault(w, slog.LevelInfo)
			return runMigrate()
		},
	}
}

func newHealthcheckCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   CommandHealthcheck,
		Short: "Check that the local API server is healthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHealthcheck(cmd.Context(), port)
		},
	}

	cmd.Flags().StringVar(&port, "port", envOr("SERVER_PORT", defaultPort), "port of the local API server")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hitoshi/eyescreen/internal/config"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandCreateAdmin は管理者ユーザーを登録することを示す。
	CommandCreateAdmin Command = "create-admin"
)

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。サブコマンド省略時はserveとして起動する。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.Execute()
}

// NewRootCommand はeyescreenのルートコマンドを構築する。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "eyescreen",
		Short: "Glaucoma screening API server",
		Long: `eyescreen serves the fundus-image screening API: Google sign-in for
registered users, the access request queue, the user directory and the
prediction ledger.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return initAndRun(w, CommandServe, runServe)
		},
	}
	root.SetOut(w)
	root.SetErr(w)

	root.AddCommand(
		newServeCommand(w),
		newWorkerCommand(w),
		newMigrateCommand(w),
		newHealthcheckCommand(),
		newCreateAdminCommand(w),
	)
	return root
}

func newServeCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandServe),
		Short: "Start the HTTP API server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return initAndRun(w, CommandServe, runServe)
		},
	}
}

func newWorkerCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandWorker),
		Short: "Run background jobs (expired session cleanup)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return initAndRun(w, CommandWorker, runWorker)
		},
	}
}

func newMigrateCommand(w io.Writer) *cobra.Command {
	var down int
	cmd := &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if down < 0 {
				return fmt.Errorf("--down must not be negative")
			}
			return initAndRun(w, CommandMigrate, func(cfg *config.Config) error {
				return runMigrate(cmd.OutOrStdout(), cfg, down)
			})
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "roll back the given number of migrations instead of applying")
	return cmd
}

// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
func newHealthcheckCommand() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Probe the local /health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseURL == "" {
				port := os.Getenv("SERVER_PORT")
				if port == "" {
					port = "8080"
				}
				baseURL = "http://localhost:" + port
			}
			return runHealthcheck(baseURL)
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "", "server base URL (default http://localhost:$SERVER_PORT)")
	return cmd
}

func newCreateAdminCommand(w io.Writer) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   string(CommandCreateAdmin),
		Short: "Register a user as admin (creates the user if missing)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return initAndRun(w, CommandCreateAdmin, func(cfg *config.Config) error {
				return runCreateAdmin(cmd.OutOrStdout(), cfg, email)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address of the admin")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// initAndRun は設定を読み込んでからrunを実行する。
func initAndRun(w io.Writer, command Command, run func(cfg *config.Config) error) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(command)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)
	return run(cfg)
}

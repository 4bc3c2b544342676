// Package cli 提供 inboxctl 命令行入口：终端收件箱与一次性取址。
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tempmail/inboxsync/internal/app"
	"tempmail/inboxsync/internal/config"
	"tempmail/inboxsync/internal/countdown"
	"tempmail/inboxsync/internal/domain"
	"tempmail/inboxsync/internal/inbox"
	"tempmail/inboxsync/internal/logger"
	"tempmail/inboxsync/internal/tui"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "inboxctl",
	Short:         "Disposable inbox in your terminal",
	Long:          "Creates a temporary mailbox, keeps its inbox in sync and shows the countdown until it expires",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open the interactive inbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// 终端界面占用标准输出，日志只写文件
		engine, cleanup, err := startEngine(ctx, io.Discard)
		if err != nil {
			return err
		}
		defer cleanup()

		model := tui.New(ctx, engine)
		defer model.Close()

		_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("run terminal ui: %w", err)
		}
		return nil
	},
}

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Print a fresh disposable address",
	Long:  "Creates a mailbox and prints its address. With --wait the inbox is followed and arriving mail is printed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetDuration("wait")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		engine, cleanup, err := startEngine(ctx, io.Discard)
		if err != nil {
			return err
		}
		defer cleanup()

		snap := engine.Snapshot()
		if snap.Session == nil {
			return fmt.Errorf("no mailbox available: %s", snap.LastError)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s\n", snap.Session.Address)
		fmt.Fprintf(out, "expires at %s (%s left)\n",
			snap.Session.ExpiresAt.Local().Format(time.Kitchen),
			countdown.Format(snap.RemainingSeconds))

		if wait <= 0 {
			return nil
		}
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		follow(waitCtx, engine, out)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (yaml, json or toml)")
	newCmd.Flags().Duration("wait", 0, "keep following the inbox for this long")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(newCmd)
}

// startEngine 按配置构建上游与收件箱引擎，并创建首个会话
func startEngine(ctx context.Context, console io.Writer) (*inbox.Engine, func(), error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logCfg := logger.FromConfig(cfg.Log)
	logCfg.Console = console
	log, err := logger.NewLogger(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}

	backend, err := app.NewBackend(cfg.Provider, log)
	if err != nil {
		return nil, nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	go backend.Run(runCtx)

	engine := inbox.New(backend.Provider, cfg.Inbox, inbox.WithLogger(log))
	if err := engine.Start(runCtx); err != nil {
		log.Warn("initial mailbox creation failed", zap.Error(err))
	}

	cleanup := func() {
		engine.Stop()
		cancel()
		_ = log.Sync()
	}
	return engine, cleanup, nil
}

// follow 打印陆续到达的邮件，直到 ctx 结束或邮箱过期
func follow(ctx context.Context, engine *inbox.Engine, out io.Writer) {
	updates, unsubscribe := engine.Subscribe()
	defer unsubscribe()

	printed := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			printNew(out, snap.Messages, printed)
			if snap.State == domain.DisplayExpired {
				fmt.Fprintln(out, "mailbox expired")
				return
			}
		}
	}
}

func printNew(out io.Writer, msgs []domain.Message, printed map[string]bool) {
	// 列表按时间倒序，逆序打印保证先到先印
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if printed[msg.ID] {
			continue
		}
		printed[msg.ID] = true
		fmt.Fprintf(out, "[%s] %s <%s>: %s\n",
			msg.ReceivedAt.Local().Format("15:04:05"),
			msg.From.DisplayName(),
			msg.From.DisplayAddress(),
			msg.Subject)
	}
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"replybot/pkg/channel/telegram"
	"replybot/pkg/orchestrator"
	"replybot/pkg/provider"
	"replybot/pkg/targets"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Track configured channels and reply to new posts",
	Long:  "Joins the channels listed in the targets CSV, refreshes membership periodically, and answers every new channel post.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := loadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		log, closer, err := setupLogger(cfg, "cmd.run")
		if err != nil {
			fmt.Printf("%v\n", err)
			return
		}
		defer closer.Close()

		client, err := telegram.NewClient(cfg.Telegram, log)
		if err != nil {
			log.Error("Failed to initialize Telegram client", "error", err)
			return
		}

		generator, err := provider.New(cfg.Provider)
		if err != nil {
			log.Error("Failed to initialize reply generator", "error", err)
			return
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		username, err := client.Me(runCtx)
		if err != nil {
			log.Error("Telegram authorization failed", "error", err)
			return
		}
		log.Info("Authorized", "bot", username)

		svc, err := orchestrator.NewService(cfg, orchestrator.Deps{
			Client:    client,
			Generator: generator,
			Source:    targets.NewFileSource(cfg.Targets.CSVPath),
		}, log)
		if err != nil {
			log.Error("Failed to initialize service", "error", err)
			return
		}

		log.Info("Service started",
			"targets_csv", cfg.Targets.CSVPath,
			"backend", cfg.Provider.Backend,
			"model", cfg.Provider.Model,
			"reply_chance", cfg.ReplyChance(),
		)
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Service runtime failed", "error", err)
			return
		}
		log.Info("Service stopped")
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

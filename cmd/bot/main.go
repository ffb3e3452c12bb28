package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/halmstad/cargo-dispatch-bot/internal/bot"
	"github.com/halmstad/cargo-dispatch-bot/internal/config"
	"github.com/halmstad/cargo-dispatch-bot/internal/dispatch"
	"github.com/halmstad/cargo-dispatch-bot/internal/identity"
	"github.com/halmstad/cargo-dispatch-bot/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:   "dispatch-bot",
		Short: "Logistics dispatch bot: orders, drivers, bids",
	}
	root.AddCommand(newRunCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	return cmd
}

func run(configPath string) error {
	log.Println("Starting dispatch bot...")

	// A broken or incomplete config is the one unrecoverable error
	// class; nothing starts without it.
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log.Println("Opening database...")
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	log.Println("Starting Telegram bot...")
	b, err := bot.New(bot.Config{Token: cfg.BotToken})
	if err != nil {
		return err
	}

	admins := identity.NewAllowList(cfg.AdminIDs, cfg.AdminUsernames)
	b.SetFacade(dispatch.NewFacade(dispatch.FacadeOpts{
		Store:         st,
		Notifier:      b,
		Admins:        admins,
		OrdersChannel: cfg.OrdersChannel,
		HistoryLimit:  cfg.HistoryLimit,
	}))

	log.Println("Bot is running. Press Ctrl+C to stop.")
	return b.Run()
}

// Command dwctl is the maintenance CLI: it runs the daily pipeline stages
// (process, score, send) on demand against the daemon's data directory.
package main

import (
	"fmt"
	"os"

	"github.com/chromedp/chromedp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"deckwatch/internal/browser"
	"deckwatch/internal/config"
	"deckwatch/internal/processor"
	"deckwatch/internal/scorer"
	"deckwatch/internal/storage"
	"deckwatch/internal/telegram"
	"deckwatch/internal/types"
)

var (
	configPath string
	debug      bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dwctl: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "dwctl",
		Short:        "Maintenance commands for the deckwatch daemon",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.toml", "path to config file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(processCmd(), scoreCmd(), sendCmd(), purgeCmd(), botTestCmd())
	return root
}

func botTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bot-test",
		Short: "Open bot.sannysoft.com with the daemon's stealth options to audit the browser fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Non-headless so the results are visible.
			allocCtx, cancelAlloc := chromedp.NewExecAllocator(cmd.Context(), browser.Options(false)...)
			defer cancelAlloc()

			ctx, cancel := chromedp.NewContext(allocCtx)
			defer cancel()

			err := chromedp.Run(ctx,
				chromedp.Navigate("https://bot.sannysoft.com"),
				chromedp.WaitVisible("body", chromedp.ByQuery),
			)
			if err != nil {
				return fmt.Errorf("failed to open fingerprint test page: %w", err)
			}

			fmt.Println("Inspect the results, then press Enter to close the browser.")
			fmt.Scanln()
			return nil
		},
	}
}

// env bundles what every subcommand needs.
type env struct {
	cfg   *config.Config
	log   *zap.Logger
	store *storage.Store
	proc  *processor.Processor
}

func setup() (*env, error) {
	log, err := newLogger()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	store, err := storage.New(cfg.DBPath(), cfg.DataDir, log)
	if err != nil {
		return nil, err
	}

	return &env{
		cfg:   cfg,
		log:   log,
		store: store,
		proc:  processor.New(store, cfg.ProcessedDir(), log),
	}, nil
}

func newLogger() (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func dateArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return types.Today()
}

func processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process [date]",
		Short: "Clean and dedup one day of captures (date format: yyyymmdd, default today)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.store.Close()

			res, err := e.proc.ProcessDay(dateArg(args))
			if err != nil {
				return err
			}
			fmt.Printf("processed %s: kept %d, dropped %d -> %s\n",
				res.Date, res.Kept, res.Dropped, res.Path)
			return nil
		},
	}
}

func scoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score [date]",
		Short: "Score a processed day and print the ranking",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.store.Close()

			scored, err := scoreDay(cmd, e, dateArg(args))
			if err != nil {
				return err
			}
			for _, sr := range scored {
				fmt.Printf("%5.1f  @%-20s %s\n", sr.Score.Average, sr.Record.Author, sr.Summary)
			}
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send [date]",
		Short: "Score a processed day and deliver the digest to Telegram",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.store.Close()

			creds := config.LoadOptionalCredentials()
			if creds.TelegramBotToken == "" || creds.TelegramChannel == "" {
				return fmt.Errorf("TELEGRAM_BOT_TOKEN and TELEGRAM_CHANNEL_ID must be set")
			}

			date := dateArg(args)
			scored, err := scoreDay(cmd, e, date)
			if err != nil {
				return err
			}

			var top []types.ScoredRecord
			for _, sr := range scored {
				if sr.Score.Average >= e.cfg.Scoring.Threshold {
					top = append(top, sr)
				}
			}

			notifier, err := telegram.New(creds.TelegramBotToken, creds.TelegramChannel, e.log)
			if err != nil {
				return err
			}
			if err := notifier.SendDigest(date, top); err != nil {
				return err
			}
			fmt.Printf("delivered %d of %d scored records for %s\n", len(top), len(scored), date)
			return nil
		},
	}
}

func scoreDay(cmd *cobra.Command, e *env, date string) ([]types.ScoredRecord, error) {
	creds := config.LoadOptionalCredentials()
	if creds.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY must be set")
	}

	grouped, err := e.proc.LoadProcessed(date)
	if err != nil {
		return nil, fmt.Errorf("no processed file for %s, run `dwctl process %s` first: %w", date, date, err)
	}

	// Offline runs have no deck titles to fall back to; the config mapping
	// is the only category source.
	categories := make(map[int]string, len(grouped))
	for idx := range grouped {
		categories[idx] = e.cfg.Scoring.CategoryFor(idx, "")
	}

	sc := scorer.New(e.cfg.Scoring, creds.AnthropicAPIKey, e.log)
	return sc.ScoreAll(cmd.Context(), grouped, categories)
}

func purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Apply the retention policy now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.store.Close()
			return e.store.PurgeOlderThan(e.cfg.Retention.MaxDaysToKeep)
		},
	}
}

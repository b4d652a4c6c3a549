package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-lending/config"
	"library-lending/console"
	"library-lending/inmemory"
	"library-lending/library"
	"library-lending/logger"
	"library-lending/metrics"
	"library-lending/password"
)

// readPassword securely reads a password with masking
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println() // Add newline after password input
	return strings.TrimSpace(string(bytePassword)), nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		dbPath   string
		logLevel string
		noSeed   bool
		envFile  string
	)

	cmd := &cobra.Command{
		Use:           "library",
		Short:         "Interactive console for a small lending library",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var files []string
			if envFile != "" {
				files = append(files, envFile)
			}
			cfg, err := config.Load(files...)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
				return err
			}
			if cmd.Flags().Changed("db") {
				cfg.DBPath = dbPath
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if noSeed {
				cfg.Seed = false
			}
			if err := run(cmd.Context(), cfg); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database file (default: in-memory)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	cmd.Flags().BoolVar(&noSeed, "no-seed", false, "do not create the demo users and books")
	cmd.Flags().StringVar(&envFile, "env-file", "", "read settings from this file instead of .env")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.SetupDefault(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	store, err := openStore(cfg.DBPath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	credential := password.NewDelegating(cfg.BcryptCost)
	manager := library.NewLibraryManager(store, credential, loanPolicy(cfg),
		library.WithLogger(log),
		library.WithMetrics(metrics.NewCollector(reg)),
	)
	defer manager.Close()

	if cfg.Seed {
		// Demo accounts keep the plain-text encoding so their passwords stay readable.
		if _, err := manager.Seed(ctx, password.Noop{}, library.DefaultSeedUsers, library.DefaultSeedBooks); err != nil {
			return fmt.Errorf("seeding: %w", err)
		}
	}

	processor := console.New(manager, os.Stdin, os.Stdout)
	processor.Metrics = reg
	if term.IsTerminal(int(syscall.Stdin)) {
		processor.ReadPassword = readPassword
	}
	return processor.Run(ctx)
}

func openStore(dbPath string) (library.Store, error) {
	if dbPath == "" {
		slog.Info("using in-memory store")
		return inmemory.NewStore()
	}
	db, err := library.NewDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	slog.Info("using sqlite store", "path", dbPath)
	return db, nil
}

func loanPolicy(cfg *config.Config) library.LoanPolicy {
	const day = 24 * time.Hour
	policy := &library.DefaultLoanPolicy{
		MemberDuration: time.Duration(cfg.MemberLoanDays) * day,
		AdminDuration:  time.Duration(cfg.AdminLoanDays) * day,
		MemberMaxLoans: cfg.MemberMaxLoans,
		AdminMaxLoans:  cfg.AdminMaxLoans,
	}
	if cfg.PromoCategory == "" || cfg.PromoExtraDays == 0 {
		return policy
	}
	return library.NewCategoryExtensionPolicy(policy, map[string]time.Duration{
		cfg.PromoCategory: time.Duration(cfg.PromoExtraDays) * day,
	})
}

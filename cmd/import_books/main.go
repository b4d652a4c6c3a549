package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"library-lending/library"
	"library-lending/logger"
	"library-lending/password"
)

func main() {
	if err := newImportCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newImportCmd() *cobra.Command {
	var (
		dbPath   string
		csvPath  string
		adminID  string
		adminPW  string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "import_books",
		Short: "Import a CSV catalog (isbn,title,author,category,copies) into the SQLite database",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(csvPath)
			if err != nil {
				return fmt.Errorf("opening csv: %w", err)
			}
			defer f.Close()

			db, err := library.NewDatabase(dbPath)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			manager := library.NewLibraryManager(db, password.NewDelegating(password.DefaultCost), library.NewDefaultLoanPolicy(),
				library.WithLogger(logger.Setup(os.Stderr, logLevel, "text")))
			defer manager.Close()

			// A fresh database has no accounts yet.
			if _, err := manager.Seed(cmd.Context(), password.Noop{}, library.DefaultSeedUsers, nil); err != nil {
				return fmt.Errorf("seeding accounts: %w", err)
			}

			admin, err := manager.Auth.Login(cmd.Context(), adminID, adminPW)
			if err != nil {
				return fmt.Errorf("login as %s: %w", adminID, err)
			}

			summary, err := importCSV(cmd.Context(), manager, admin, f, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nImport complete!\n")
			fmt.Fprintf(cmd.OutOrStdout(), "Registered: %d books\n", summary.registered)
			fmt.Fprintf(cmd.OutOrStdout(), "Restocked: %d books\n", summary.restocked)
			fmt.Fprintf(cmd.OutOrStdout(), "Errors: %d\n", summary.failed)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "library.db", "SQLite database file")
	cmd.Flags().StringVar(&csvPath, "csv", "", "CSV file with isbn,title,author,category,copies rows")
	cmd.Flags().StringVar(&adminID, "admin", "admin", "administrator id")
	cmd.Flags().StringVar(&adminPW, "password", "admin", "administrator password")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level")
	cmd.MarkFlagRequired("csv")
	return cmd
}

type importSummary struct {
	registered int
	restocked  int
	failed     int
}

// importCSV registers unknown ISBNs and adds stock for known ones. Bad rows are
// reported and skipped; only read errors abort the import.
func importCSV(ctx context.Context, manager *library.LibraryManager, admin *library.User, r io.Reader, out io.Writer) (importSummary, error) {
	var summary importSummary

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 5
	reader.TrimLeadingSpace = true

	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) && errors.Is(parseErr.Err, csv.ErrFieldCount) {
				fmt.Fprintf(out, "line %d: ERROR - expected 5 fields, got %d\n", line, len(record))
				summary.failed++
				continue
			}
			return summary, fmt.Errorf("reading csv: %w", err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "isbn") {
			continue // header
		}

		isbn, title, author, category := record[0], record[1], record[2], record[3]
		copies, err := strconv.Atoi(strings.TrimSpace(record[4]))
		if err != nil {
			fmt.Fprintf(out, "line %d: ERROR - copies %q is not a number\n", line, record[4])
			summary.failed++
			continue
		}

		restocked, err := importRow(ctx, manager, admin, isbn, title, author, category, copies)
		if err != nil {
			fmt.Fprintf(out, "line %d: ERROR - %v\n", line, err)
			summary.failed++
			continue
		}
		if restocked {
			fmt.Fprintf(out, "line %d: restocked %s (+%d)\n", line, strings.TrimSpace(isbn), copies)
			summary.restocked++
		} else {
			fmt.Fprintf(out, "line %d: registered %s\n", line, strings.TrimSpace(isbn))
			summary.registered++
		}
	}
	return summary, nil
}

func importRow(ctx context.Context, manager *library.LibraryManager, admin *library.User, isbn, title, author, category string, copies int) (bool, error) {
	existing, err := manager.GetBook(ctx, strings.TrimSpace(isbn))
	if err != nil {
		return false, err
	}
	if existing != nil {
		_, err := manager.Books.AddStock(ctx, admin, existing.ISBN, copies)
		return true, err
	}
	book, err := library.NewBook(isbn, title, author, category, copies)
	if err != nil {
		return false, err
	}
	return false, manager.Books.RegisterBook(ctx, admin, book)
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the settings the library console starts with.
// It is read once at startup and treated as immutable afterwards.
type Config struct {
	// Storage. An empty DBPath keeps everything in memory.
	DBPath string
	Seed   bool

	// Logging
	LogLevel  string
	LogFormat string

	// Loan policy
	MemberLoanDays int
	AdminLoanDays  int
	MemberMaxLoans int
	AdminMaxLoans  int

	// Optional promotion: loans of PromoCategory last PromoExtraDays longer.
	PromoCategory  string
	PromoExtraDays int

	BcryptCost int
}

// Load reads an optional .env file (or the given files) and then the
// environment. Unset variables fall back to defaults; malformed values are
// reported as an error.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		// A missing default .env is fine, explicitly requested files are not.
		if len(files) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading env file: %w", err)
		}
	}

	cfg := &Config{
		DBPath:        getEnvString("LIBRARY_DB_PATH", ""),
		LogLevel:      strings.ToLower(getEnvString("LIBRARY_LOG_LEVEL", "info")),
		LogFormat:     strings.ToLower(getEnvString("LIBRARY_LOG_FORMAT", "text")),
		PromoCategory: getEnvString("LIBRARY_PROMO_CATEGORY", ""),
	}

	var errs []error
	cfg.Seed = getEnvBool("LIBRARY_SEED", true, &errs)
	cfg.MemberLoanDays = getEnvInt("LIBRARY_MEMBER_LOAN_DAYS", 14, &errs)
	cfg.AdminLoanDays = getEnvInt("LIBRARY_ADMIN_LOAN_DAYS", 30, &errs)
	cfg.MemberMaxLoans = getEnvInt("LIBRARY_MEMBER_MAX_LOANS", 5, &errs)
	cfg.AdminMaxLoans = getEnvInt("LIBRARY_ADMIN_MAX_LOANS", 99, &errs)
	cfg.PromoExtraDays = getEnvInt("LIBRARY_PROMO_EXTRA_DAYS", 0, &errs)
	cfg.BcryptCost = getEnvInt("LIBRARY_BCRYPT_COST", 10, &errs)

	switch cfg.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LIBRARY_LOG_FORMAT: unsupported format %q (want text or json)", cfg.LogFormat))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool, errs *[]error) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return defaultVal
	}
	return b
}

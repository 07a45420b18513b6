package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/brandon/mailsync/pkg/types"
)

// Config holds the application configuration
type Config struct {
	// Cache settings
	CachePath         string `mapstructure:"cache_path"`
	SearchResultLimit int    `mapstructure:"search_result_limit"`
	LogLevel          string `mapstructure:"log_level"`

	// Sync settings
	IMAPTimeout         time.Duration `mapstructure:"imap_timeout"`
	MailboxSyncInterval time.Duration `mapstructure:"mailbox_sync_interval"`
	SyncParallelism     int           `mapstructure:"sync_parallelism"`

	// MetricsAddr enables the Prometheus endpoint when set
	MetricsAddr string `mapstructure:"metrics_addr"`

	Keyring KeyringConfig `mapstructure:"keyring"`

	// Accounts
	Accounts []AccountConfig `mapstructure:"accounts"`
}

// KeyringConfig selects where passwords missing from the configuration are
// looked up
type KeyringConfig struct {
	ServiceName string   `mapstructure:"service_name"`
	Backends    []string `mapstructure:"backends"`
	FileDir     string   `mapstructure:"file_dir"`
}

// AccountConfig holds configuration for a single email account
type AccountConfig struct {
	Name   string `mapstructure:"name"`
	UserID string `mapstructure:"user_id"`
	Email  string `mapstructure:"email"`
	// TrashMailbox overrides the trash folder detected on the server
	TrashMailbox string `mapstructure:"trash_mailbox"`

	IMAP IMAPConfig `mapstructure:"imap"`
}

// IMAPConfig holds the server settings of an account
type IMAPConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	TLS                bool   `mapstructure:"tls"`
	StartTLS           bool   `mapstructure:"starttls"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// Account converts the configuration into a domain account
func (a *AccountConfig) Account() *types.Account {
	return &types.Account{
		Name:               a.Name,
		UserID:             a.UserID,
		Email:              a.Email,
		IMAPHost:           a.IMAP.Host,
		IMAPPort:           a.IMAP.Port,
		IMAPUsername:       a.IMAP.Username,
		IMAPPassword:       a.IMAP.Password,
		TLS:                a.IMAP.TLS,
		StartTLS:           a.IMAP.StartTLS,
		InsecureSkipVerify: a.IMAP.InsecureSkipVerify,
		TrashMailbox:       a.TrashMailbox,
	}
}

// DefaultPath returns the configuration file read when none is given
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "mailsync", "config.yaml"), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache_path", "/data/mailsync.db")
	v.SetDefault("search_result_limit", 100)
	v.SetDefault("log_level", "info")
	v.SetDefault("imap_timeout", 30*time.Second)
	v.SetDefault("mailbox_sync_interval", 5*time.Minute)
	v.SetDefault("sync_parallelism", 4)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("keyring.service_name", "mailsync")
	v.SetDefault("keyring.backends", []string{})
	v.SetDefault("keyring.file_dir", "~/.config/mailsync/credentials")
}

// LoadConfig loads configuration from an optional YAML file and MAILSYNC_*
// environment variables. An explicit path must exist; the default path may
// be missing. Accounts come from the file, or from the environment when the
// file defines none.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAILSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	explicit := path != ""
	if !explicit {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if len(cfg.Accounts) == 0 {
		accounts, err := loadAccounts()
		if err != nil {
			return nil, fmt.Errorf("failed to load accounts: %w", err)
		}
		cfg.Accounts = accounts
	}

	for i := range cfg.Accounts {
		applyAccountDefaults(&cfg.Accounts[i])
	}
	return cfg, nil
}

// applyAccountDefaults fills the port, TLS mode and user identity
func applyAccountDefaults(acc *AccountConfig) {
	if acc.IMAP.Port == 0 {
		acc.IMAP.Port = 993
		if !acc.IMAP.StartTLS {
			acc.IMAP.TLS = true
		}
	}
	if acc.UserID == "" {
		acc.UserID = acc.Email
	}
	if acc.UserID == "" {
		acc.UserID = acc.Name
	}
}

// loadAccounts loads email account configurations from environment variables
func loadAccounts() ([]AccountConfig, error) {
	var accounts []AccountConfig

	// First, try single account configuration (for backward compatibility)
	if hasSingleAccount() {
		account, err := loadAccount("", getEnv("ACCOUNT_NAME", "default"))
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
		return accounts, nil
	}

	// Load multiple accounts (ACCOUNT_1_*, ACCOUNT_2_*, etc.)
	for num := 1; ; num++ {
		prefix := fmt.Sprintf("ACCOUNT_%d_", num)
		name := getEnv(prefix+"NAME", "")
		if name == "" {
			break // No more accounts
		}
		account, err := loadAccount(prefix, name)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", num, err)
		}
		accounts = append(accounts, *account)
	}

	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts found in config file or environment variables")
	}
	return accounts, nil
}

// hasSingleAccount checks if single account configuration exists
func hasSingleAccount() bool {
	return getEnv("IMAP_HOST", "") != ""
}

// loadAccount loads one account from variables sharing prefix. The password
// may be omitted and is then looked up in the keyring.
func loadAccount(prefix, name string) (*AccountConfig, error) {
	port := getEnvInt(prefix+"IMAP_PORT", 993)
	acc := &AccountConfig{
		Name:         name,
		UserID:       getEnv(prefix+"USER_ID", ""),
		Email:        getEnv(prefix+"EMAIL", ""),
		TrashMailbox: getEnv(prefix+"TRASH_MAILBOX", ""),
		IMAP: IMAPConfig{
			Host:               getEnv(prefix+"IMAP_HOST", ""),
			Port:               port,
			Username:           getEnv(prefix+"IMAP_USERNAME", ""),
			Password:           getEnv(prefix+"IMAP_PASSWORD", ""),
			TLS:                getEnvBool(prefix+"IMAP_TLS", port == 993),
			StartTLS:           getEnvBool(prefix+"IMAP_STARTTLS", false),
			InsecureSkipVerify: getEnvBool(prefix+"IMAP_INSECURE_SKIP_VERIFY", false),
		},
	}

	if acc.IMAP.Host == "" {
		return nil, fmt.Errorf("IMAP_HOST is required")
	}
	if acc.IMAP.Username == "" {
		return nil, fmt.Errorf("IMAP_USERNAME is required")
	}
	return acc, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// GetAccountByName finds an account by name
func (c *Config) GetAccountByName(name string) (*AccountConfig, error) {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account not found: %s", name)
}

// GetDefaultAccount returns the first account (or default account if named "default")
func (c *Config) GetDefaultAccount() *AccountConfig {
	if len(c.Accounts) == 0 {
		return nil
	}

	// Try to find "default" account first
	for i := range c.Accounts {
		if c.Accounts[i].Name == "default" {
			return &c.Accounts[i]
		}
	}

	// Return first account
	return &c.Accounts[0]
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.CachePath == "" {
		return fmt.Errorf("cache_path is required")
	}

	if c.SearchResultLimit < 1 || c.SearchResultLimit > 1000 {
		return fmt.Errorf("search_result_limit must be between 1 and 1000")
	}

	if c.IMAPTimeout <= 0 {
		return fmt.Errorf("imap_timeout must be positive")
	}

	if c.MailboxSyncInterval < 0 {
		return fmt.Errorf("mailbox_sync_interval must not be negative")
	}

	if c.SyncParallelism < 1 {
		return fmt.Errorf("sync_parallelism must be at least 1")
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}

	// Validate each account
	seen := make(map[string]bool, len(c.Accounts))
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.Name == "" {
			return fmt.Errorf("account %d: name is required", i+1)
		}
		if seen[acc.Name] {
			return fmt.Errorf("account %s: duplicate name", acc.Name)
		}
		seen[acc.Name] = true
		if acc.IMAP.Host == "" {
			return fmt.Errorf("account %s: imap host is required", acc.Name)
		}
		if acc.IMAP.Username == "" {
			return fmt.Errorf("account %s: imap username is required", acc.Name)
		}
		if acc.IMAP.Port < 1 || acc.IMAP.Port > 65535 {
			return fmt.Errorf("account %s: invalid imap port", acc.Name)
		}
		if acc.IMAP.TLS && acc.IMAP.StartTLS {
			return fmt.Errorf("account %s: tls and starttls are mutually exclusive", acc.Name)
		}
	}

	return nil
}

// AccountNames returns a list of all account names
func (c *Config) AccountNames() []string {
	names := make([]string, len(c.Accounts))
	for i := range c.Accounts {
		names[i] = c.Accounts[i].Name
	}
	return names
}

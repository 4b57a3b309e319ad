package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Settings is the immutable view of the configuration taken at process start.
type Settings struct {
	Env string

	ProjectID       string
	CredentialsPath string
	SpreadsheetID   string
	RPCURL          string
	ChainID         int64
	ExplorerURL     string
	RelayURL        string

	StoreBackend string
	StorePath    string

	WalletEnvPath    string
	WalletPrivateKey string
	WalletMnemonic   string
	WalletPassword   string
	OwnerEmail       string
	WalletSalt       string

	ApprovalPollInterval    time.Duration
	PendingTTL              time.Duration
	ClearCompletedRequests  bool
	SessionApprovalAttempts int
	SessionApprovalBackoff  time.Duration
	PairingPollInterval     time.Duration
	SweepInterval           time.Duration
	RefreshPollInterval     time.Duration
	RefreshCooldown         time.Duration
	AutoRefreshInterval     time.Duration
	HistoryLookbackBlocks   uint64

	ServerMode    bool
	APIPort       int
	AllowedOrigin string
	UserPubkey    string
	JWTKeysDir    string
	IPCSocket     string

	LogLevel   string
	LogFormat  string
	LogFile    string
	LogSampler bool
}

// LoadConfig loads .env, the json config file and environment overrides.
// A missing config file is created with defaults.
func LoadConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading .env file: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.AddConfigPath(".") // Path to look for the config file in

	bindEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createDefaultConfig()
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	setDefaults()

	return nil
}

// bindEnv maps the recognised environment options onto config keys
func bindEnv() {
	viper.BindEnv("env", "ENV")
	viper.BindEnv("project_id", "PROJECT_ID")
	viper.BindEnv("credentials_path", "GOOGLE_APPLICATION_CREDENTIALS")
	viper.BindEnv("rpc_url", "ETH_RPC_URL")
	viper.BindEnv("spreadsheet_id", "SPREADSHEET_ID")
	viper.BindEnv("owner_email", "OWNER_EMAIL")
	viper.BindEnv("wallet_salt", "WALLET_SALT")
	viper.BindEnv("wallet_private_key", "WALLET_PRIVATE_KEY")
	viper.BindEnv("wallet_mnemonic", "WALLET_MNEMONIC")
	viper.BindEnv("wallet_password", "WALLET_PASSWORD")
}

// setDefaults sets default configuration values based on the environment
func setDefaults() {
	env := viper.GetString("env")
	if env == "" {
		env = "development"
		viper.Set("env", env)
	}

	if env == "development" {
		viper.SetDefault("store_backend", "sqlite")
		viper.SetDefault("store_path", "./dev_sheets.db")
		viper.SetDefault("allowed_origin", "http://localhost:3000")
		viper.SetDefault("log_level", "debug")
		viper.SetDefault("log_format", "console")
	} else if env == "production" {
		viper.SetDefault("store_backend", "sheets")
		viper.SetDefault("store_path", "/var/lib/sheet-wallet/sheets.db")
		viper.SetDefault("allowed_origin", "https://sheets.google.com")
		viper.SetDefault("log_level", "info")
		viper.SetDefault("log_format", "json")
	}

	viper.SetDefault("project_id", "")
	viper.SetDefault("credentials_path", "")
	viper.SetDefault("spreadsheet_id", "")
	viper.SetDefault("rpc_url", "https://arbitrum-sepolia.drpc.org")
	viper.SetDefault("chain_id", 421614) // Arbitrum Sepolia
	viper.SetDefault("explorer_url", "https://sepolia.arbiscan.io/tx/")
	viper.SetDefault("relay_url", "wss://relay.walletconnect.com")

	viper.SetDefault("wallet_env_path", "./wallet.env")
	viper.SetDefault("owner_email", "")
	viper.SetDefault("wallet_salt", "")

	viper.SetDefault("approval_poll_interval", "10s")
	viper.SetDefault("pending_ttl", "0s")
	viper.SetDefault("clear_completed_requests", false)
	viper.SetDefault("session_approval_attempts", 3)
	viper.SetDefault("session_approval_backoff", "5s")
	viper.SetDefault("pairing_poll_interval", "30s")
	viper.SetDefault("sweep_interval", "1m")
	viper.SetDefault("refresh_poll_interval", "10s")
	viper.SetDefault("refresh_cooldown", "60s")
	viper.SetDefault("auto_refresh_interval", "60m")
	viper.SetDefault("history_lookback_blocks", 200)

	viper.SetDefault("server_mode", true)
	viper.SetDefault("api_port", 9003)
	viper.SetDefault("user_pubkey", "")
	viper.SetDefault("jwt_keys_dir", "./jwtkeys")
	viper.SetDefault("ipc_socket", "/tmp/sheet-wallet.sock")

	viper.SetDefault("log_file", "./sheetwallet.log")
	viper.SetDefault("log_sampler", false)
}

// createDefaultConfig creates a new configuration file if it doesn't exist
func createDefaultConfig() error {
	setDefaults()

	err := viper.SafeWriteConfig()
	if err != nil {
		var exists viper.ConfigFileAlreadyExistsError
		if errors.As(err, &exists) || os.IsExist(err) {
			err = viper.WriteConfig()
			if err != nil {
				return fmt.Errorf("error writing config file: %w", err)
			}
		} else {
			return fmt.Errorf("error creating config file: %w", err)
		}
	}

	fmt.Println("Created default configuration file")
	return nil
}

// Snapshot copies the current configuration into Settings.
// Callers take one snapshot at start-up and pass it down; nothing re-reads viper afterwards.
func Snapshot() Settings {
	return Settings{
		Env: viper.GetString("env"),

		ProjectID:       viper.GetString("project_id"),
		CredentialsPath: viper.GetString("credentials_path"),
		SpreadsheetID:   viper.GetString("spreadsheet_id"),
		RPCURL:          viper.GetString("rpc_url"),
		ChainID:         viper.GetInt64("chain_id"),
		ExplorerURL:     viper.GetString("explorer_url"),
		RelayURL:        viper.GetString("relay_url"),

		StoreBackend: viper.GetString("store_backend"),
		StorePath:    viper.GetString("store_path"),

		WalletEnvPath:    viper.GetString("wallet_env_path"),
		WalletPrivateKey: viper.GetString("wallet_private_key"),
		WalletMnemonic:   viper.GetString("wallet_mnemonic"),
		WalletPassword:   viper.GetString("wallet_password"),
		OwnerEmail:       viper.GetString("owner_email"),
		WalletSalt:       viper.GetString("wallet_salt"),

		ApprovalPollInterval:    viper.GetDuration("approval_poll_interval"),
		PendingTTL:              viper.GetDuration("pending_ttl"),
		ClearCompletedRequests:  viper.GetBool("clear_completed_requests"),
		SessionApprovalAttempts: viper.GetInt("session_approval_attempts"),
		SessionApprovalBackoff:  viper.GetDuration("session_approval_backoff"),
		PairingPollInterval:     viper.GetDuration("pairing_poll_interval"),
		SweepInterval:           viper.GetDuration("sweep_interval"),
		RefreshPollInterval:     viper.GetDuration("refresh_poll_interval"),
		RefreshCooldown:         viper.GetDuration("refresh_cooldown"),
		AutoRefreshInterval:     viper.GetDuration("auto_refresh_interval"),
		HistoryLookbackBlocks:   viper.GetUint64("history_lookback_blocks"),

		ServerMode:    viper.GetBool("server_mode"),
		APIPort:       viper.GetInt("api_port"),
		AllowedOrigin: viper.GetString("allowed_origin"),
		UserPubkey:    viper.GetString("user_pubkey"),
		JWTKeysDir:    viper.GetString("jwt_keys_dir"),
		IPCSocket:     viper.GetString("ipc_socket"),

		LogLevel:   viper.GetString("log_level"),
		LogFormat:  viper.GetString("log_format"),
		LogFile:    viper.GetString("log_file"),
		LogSampler: viper.GetBool("log_sampler"),
	}
}

// Validate reports settings the engine cannot start without
func (s Settings) Validate() error {
	if s.RPCURL == "" {
		return fmt.Errorf("rpc_url must be set (ETH_RPC_URL)")
	}
	if s.ChainID <= 0 {
		return fmt.Errorf("chain_id must be positive, got %d", s.ChainID)
	}
	switch s.StoreBackend {
	case "sqlite":
		if s.StorePath == "" {
			return fmt.Errorf("store_path must be set for the sqlite backend")
		}
	case "sheets":
		if s.SpreadsheetID == "" {
			return fmt.Errorf("spreadsheet_id must be set for the sheets backend (SPREADSHEET_ID)")
		}
	default:
		return fmt.Errorf("unknown store_backend %q", s.StoreBackend)
	}
	if s.RefreshCooldown < 0 || s.ApprovalPollInterval <= 0 {
		return fmt.Errorf("intervals must be positive")
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPlannerBaseURL = "https://api.socket.tech/v2"

	WalletModeLocal    = "local"
	WalletModeExternal = "external"
)

type GlobalFlags struct {
	ConfigPath  string
	JSON        bool
	Plain       bool
	Select      string
	ResultsOnly bool
	Timeout     string
	Retries     int
	NoCache     bool
	LogLevel    string
	LogFormat   string
	PlannerURL  string
}

// BindFlags registers the persistent flags shared by every command.
func (f *GlobalFlags) BindFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&f.JSON, "json", false, "Output JSON (default)")
	fs.BoolVar(&f.Plain, "plain", false, "Output plain text")
	fs.StringVar(&f.Select, "select", "", "Select fields from data (comma-separated)")
	fs.BoolVar(&f.ResultsOnly, "results-only", false, "Output only data payload")
	fs.StringVar(&f.Timeout, "timeout", "", "Planning service request timeout")
	fs.IntVar(&f.Retries, "retries", -1, "Retries per planning service request")
	fs.BoolVar(&f.NoCache, "no-cache", false, "Disable the chain metadata cache")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	fs.StringVar(&f.LogFormat, "log-format", "", "Log format (json|console)")
	fs.StringVar(&f.PlannerURL, "planner-url", "", "Planning service base URL")
	fs.StringVar(&f.ConfigPath, "config", "", "Path to config file")
}

type Settings struct {
	OutputMode   string
	SelectFields []string
	ResultsOnly  bool
	Timeout      time.Duration
	Retries      int
	LogLevel     string
	LogFormat    string

	PlannerBaseURL     string
	PlannerAPIKey      string
	StatusPollInterval time.Duration
	AdvanceAttempts    int

	CacheEnabled  bool
	CachePath     string
	CacheLockPath string
	ChainCacheTTL time.Duration

	ExecutionStorePath string
	ExecutionLockPath  string

	WalletMode         string
	WalletRPCURL       string
	KeySource          string
	ConfirmPoll        time.Duration
	ConfirmTimeout     time.Duration
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
	RPCOverrides       map[int64]string
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Log     struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Planner struct {
		BaseURL            string `yaml:"base_url"`
		APIKey             string `yaml:"api_key"`
		APIKeyEnv          string `yaml:"api_key_env"`
		StatusPollInterval string `yaml:"status_poll_interval"`
		AdvanceAttempts    *int   `yaml:"advance_attempts"`
	} `yaml:"planner"`
	Cache struct {
		Enabled  *bool  `yaml:"enabled"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
		ChainTTL string `yaml:"chain_ttl"`
	} `yaml:"cache"`
	Execution struct {
		StorePath string `yaml:"store_path"`
		LockPath  string `yaml:"lock_path"`
	} `yaml:"execution"`
	Wallet struct {
		Mode               string           `yaml:"mode"`
		RPCURL             string           `yaml:"rpc_url"`
		KeySource          string           `yaml:"key_source"`
		ConfirmPoll        string           `yaml:"confirm_poll"`
		ConfirmTimeout     string           `yaml:"confirm_timeout"`
		GasMultiplier      *float64         `yaml:"gas_multiplier"`
		MaxFeeGwei         string           `yaml:"max_fee_gwei"`
		MaxPriorityFeeGwei string           `yaml:"max_priority_fee_gwei"`
		RPC                map[int64]string `yaml:"rpc"`
	} `yaml:"wallet"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.Timeout <= 0 {
		settings.Timeout = 15 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.StatusPollInterval <= 0 {
		settings.StatusPollInterval = 5 * time.Second
	}
	if settings.AdvanceAttempts <= 0 {
		settings.AdvanceAttempts = 1
	}
	if settings.ConfirmPoll <= 0 {
		settings.ConfirmPoll = 2 * time.Second
	}
	if settings.ConfirmTimeout < 0 {
		settings.ConfirmTimeout = 0
	}
	if settings.GasMultiplier <= 1 {
		settings.GasMultiplier = 1.2
	}
	switch settings.WalletMode {
	case WalletModeLocal, WalletModeExternal:
	default:
		return Settings{}, fmt.Errorf("wallet mode must be %s or %s", WalletModeLocal, WalletModeExternal)
	}
	if settings.WalletMode == WalletModeExternal && strings.TrimSpace(settings.WalletRPCURL) == "" {
		return Settings{}, fmt.Errorf("external wallet mode requires wallet.rpc_url")
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	dir := filepath.Dir(cachePath)
	return Settings{
		OutputMode:         "json",
		Timeout:            15 * time.Second,
		Retries:            2,
		LogLevel:           "info",
		LogFormat:          "json",
		PlannerBaseURL:     DefaultPlannerBaseURL,
		StatusPollInterval: 5 * time.Second,
		AdvanceAttempts:    3,
		CacheEnabled:       true,
		CachePath:          cachePath,
		CacheLockPath:      lockPath,
		ChainCacheTTL:      6 * time.Hour,
		ExecutionStorePath: filepath.Join(dir, "executions.db"),
		ExecutionLockPath:  filepath.Join(dir, "executions.lock"),
		WalletMode:         WalletModeLocal,
		KeySource:          "auto",
		ConfirmPoll:        2 * time.Second,
		GasMultiplier:      1.2,
		RPCOverrides:       map[int64]string{},
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "route-runner", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "route-runner")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if err := setDuration(cfg.Timeout, "timeout", &settings.Timeout); err != nil {
		return err
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Log.Level != "" {
		settings.LogLevel = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		settings.LogFormat = cfg.Log.Format
	}

	if cfg.Planner.BaseURL != "" {
		settings.PlannerBaseURL = strings.TrimRight(cfg.Planner.BaseURL, "/")
	}
	if cfg.Planner.APIKey != "" {
		settings.PlannerAPIKey = cfg.Planner.APIKey
	}
	if cfg.Planner.APIKeyEnv != "" {
		settings.PlannerAPIKey = os.Getenv(cfg.Planner.APIKeyEnv)
	}
	if err := setDuration(cfg.Planner.StatusPollInterval, "planner.status_poll_interval", &settings.StatusPollInterval); err != nil {
		return err
	}
	if cfg.Planner.AdvanceAttempts != nil {
		settings.AdvanceAttempts = *cfg.Planner.AdvanceAttempts
	}

	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if err := setDuration(cfg.Cache.ChainTTL, "cache.chain_ttl", &settings.ChainCacheTTL); err != nil {
		return err
	}

	if cfg.Execution.StorePath != "" {
		settings.ExecutionStorePath = cfg.Execution.StorePath
	}
	if cfg.Execution.LockPath != "" {
		settings.ExecutionLockPath = cfg.Execution.LockPath
	}

	if cfg.Wallet.Mode != "" {
		settings.WalletMode = strings.ToLower(cfg.Wallet.Mode)
	}
	if cfg.Wallet.RPCURL != "" {
		settings.WalletRPCURL = cfg.Wallet.RPCURL
	}
	if cfg.Wallet.KeySource != "" {
		settings.KeySource = cfg.Wallet.KeySource
	}
	if err := setDuration(cfg.Wallet.ConfirmPoll, "wallet.confirm_poll", &settings.ConfirmPoll); err != nil {
		return err
	}
	if err := setDuration(cfg.Wallet.ConfirmTimeout, "wallet.confirm_timeout", &settings.ConfirmTimeout); err != nil {
		return err
	}
	if cfg.Wallet.GasMultiplier != nil {
		settings.GasMultiplier = *cfg.Wallet.GasMultiplier
	}
	if cfg.Wallet.MaxFeeGwei != "" {
		settings.MaxFeeGwei = cfg.Wallet.MaxFeeGwei
	}
	if cfg.Wallet.MaxPriorityFeeGwei != "" {
		settings.MaxPriorityFeeGwei = cfg.Wallet.MaxPriorityFeeGwei
	}
	for chainID, rpcURL := range cfg.Wallet.RPC {
		if strings.TrimSpace(rpcURL) != "" {
			settings.RPCOverrides[chainID] = strings.TrimSpace(rpcURL)
		}
	}

	return nil
}

func setDuration(raw, field string, dst *time.Duration) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config %s: %w", field, err)
	}
	*dst = d
	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("ROUTE_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("ROUTE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("ROUTE_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("ROUTE_LOG_LEVEL"); v != "" {
		settings.LogLevel = v
	}
	if v := os.Getenv("ROUTE_LOG_FORMAT"); v != "" {
		settings.LogFormat = v
	}
	if v := os.Getenv("ROUTE_PLANNER_URL"); v != "" {
		settings.PlannerBaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("ROUTE_PLANNER_API_KEY"); v != "" {
		settings.PlannerAPIKey = v
	}
	if v := os.Getenv("ROUTE_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("ROUTE_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("ROUTE_CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := os.Getenv("ROUTE_EXECUTIONS_PATH"); v != "" {
		settings.ExecutionStorePath = v
	}
	if v := os.Getenv("ROUTE_EXECUTIONS_LOCK_PATH"); v != "" {
		settings.ExecutionLockPath = v
	}
	if v := os.Getenv("ROUTE_WALLET_MODE"); v != "" {
		settings.WalletMode = strings.ToLower(v)
	}
	if v := os.Getenv("ROUTE_WALLET_RPC_URL"); v != "" {
		settings.WalletRPCURL = v
	}
	if v := os.Getenv("ROUTE_KEY_SOURCE"); v != "" {
		settings.KeySource = v
	}
	if v := os.Getenv("ROUTE_CONFIRM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.ConfirmTimeout = d
		}
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	settings.SelectFields = splitCSV(flags.Select)
	settings.ResultsOnly = flags.ResultsOnly
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if flags.LogLevel != "" {
		settings.LogLevel = flags.LogLevel
	}
	if flags.LogFormat != "" {
		settings.LogFormat = flags.LogFormat
	}
	if flags.PlannerURL != "" {
		settings.PlannerBaseURL = strings.TrimRight(flags.PlannerURL, "/")
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if norm := strings.TrimSpace(part); norm != "" {
			out = append(out, norm)
		}
	}
	return out
}

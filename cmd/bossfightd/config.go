package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/decred/slog"
	"github.com/gagliardetto/solana-go"
)

const defaultChatWSURL = "wss://pumpportal.fun/api/data"

// Config is the full daemon configuration, read from the environment. A
// missing required value refuses to start.
type Config struct {
	Port      string
	StaticDir string
	ExportDir string

	CoinAddress     string
	TriggerKeywords string
	HealKeywords    string
	InitialHP       uint32
	BettingDuration time.Duration
	FightDuration   time.Duration
	ChatWSURL       string

	RPCURL           string
	AuthorityKeyPath string
	Treasury         solana.PublicKey
	ProgramID        solana.PublicKey
	FeePercentage    uint8

	AdminSecret string
	AdminWallet string

	DebugLevel slog.Level
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:            envOr("PORT", "8080"),
		StaticDir:       envOr("STATIC_DIR", "./static"),
		ExportDir:       envOr("EXPORT_DIR", "./exports"),
		TriggerKeywords: envOr("TRIGGER_KEYWORDS", "hit"),
		HealKeywords:    envOr("HEAL_KEYWORDS", "heal"),
		ChatWSURL:       envOr("CHAT_WS_URL", defaultChatWSURL),
	}

	var err error
	if cfg.CoinAddress, err = requireEnv("COIN_ADDRESS"); err != nil {
		return nil, err
	}
	if cfg.RPCURL, err = requireEnv("SOLANA_RPC_URL"); err != nil {
		return nil, err
	}
	if cfg.AuthorityKeyPath, err = requireEnv("AUTHORITY_KEYPAIR_PATH"); err != nil {
		return nil, err
	}
	if cfg.AdminSecret, err = requireEnv("ADMIN_SECRET"); err != nil {
		return nil, err
	}
	if cfg.AdminWallet, err = requireEnv("ADMIN_WALLET"); err != nil {
		return nil, err
	}

	treasury, err := requireEnv("TREASURY_WALLET")
	if err != nil {
		return nil, err
	}
	if cfg.Treasury, err = solana.PublicKeyFromBase58(treasury); err != nil {
		return nil, fmt.Errorf("invalid TREASURY_WALLET: %w", err)
	}
	programID, err := requireEnv("PROGRAM_ID")
	if err != nil {
		return nil, err
	}
	if cfg.ProgramID, err = solana.PublicKeyFromBase58(programID); err != nil {
		return nil, fmt.Errorf("invalid PROGRAM_ID: %w", err)
	}

	initialHP, err := envUint("INITIAL_HP", 100)
	if err != nil {
		return nil, err
	}
	if initialHP == 0 {
		return nil, fmt.Errorf("INITIAL_HP must be positive")
	}
	cfg.InitialHP = uint32(initialHP)

	feePct, err := envUint("FEE_PERCENTAGE", 5)
	if err != nil {
		return nil, err
	}
	if feePct > 100 {
		return nil, fmt.Errorf("FEE_PERCENTAGE must be 0..100, got %d", feePct)
	}
	cfg.FeePercentage = uint8(feePct)

	bettingSecs, err := envUint("BETTING_DURATION_SECS", 60)
	if err != nil {
		return nil, err
	}
	fightSecs, err := envUint("FIGHT_DURATION_SECS", 60)
	if err != nil {
		return nil, err
	}
	if bettingSecs == 0 || fightSecs == 0 {
		return nil, fmt.Errorf("betting and fight durations must be positive")
	}
	cfg.BettingDuration = time.Duration(bettingSecs) * time.Second
	cfg.FightDuration = time.Duration(fightSecs) * time.Second

	if cfg.DebugLevel, err = parseDebugLevel(envOr("DEBUG_LEVEL", "info")); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseDebugLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown DEBUG_LEVEL %q", s)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("missing required env %s", key)
	}
	return v, nil
}

func envUint(key string, def uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

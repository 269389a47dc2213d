// Package config содержит логику чтения конфигурации сервиса аренды автомобилей.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса аренды автомобилей.
type Config struct {
	RunAddress         string `env:"RUN_ADDRESS"`
	DatabaseURI        string `env:"DATABASE_URI"`
	ContractRelay      string `env:"CONTRACT_RELAY_ADDRESS"`
	MirrorNodeAddress  string `env:"MIRROR_NODE_ADDRESS"`
	MerchantAddress    string `env:"MERCHANT_ADDRESS"`
	MerchantAccountID  string `env:"MERCHANT_ACCOUNT_ID"`
	ReputationTokenID  string `env:"REPUTATION_TOKEN_ID"`
	AuditTopicID       string `env:"AUDIT_TOPIC_ID"`
	SessionSecret      string `env:"SESSION_SECRET"`
	ReturnReward       int64  `env:"RETURN_REWARD"`
	SettlementInterval int64  `env:"SETTLEMENT_INTERVAL_SECONDS"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.ContractRelay, "c", "", "contract relay address")
	flag.StringVar(&cfg.MirrorNodeAddress, "m", "", "mirror node address")
	flag.StringVar(&cfg.MerchantAddress, "merchant-address", "", "merchant EVM address")
	flag.StringVar(&cfg.MerchantAccountID, "merchant-account", "", "merchant native account id")
	flag.StringVar(&cfg.ReputationTokenID, "token", "", "reputation token id")
	flag.StringVar(&cfg.AuditTopicID, "topic", "", "audit topic id")
	flag.StringVar(&cfg.SessionSecret, "secret", "", "session signing secret")
	flag.Int64Var(&cfg.ReturnReward, "return-reward", 5, "reputation points awarded per successful return")
	flag.Int64Var(&cfg.SettlementInterval, "settlement-interval", 10, "pending obligation settlement interval, seconds")

	flag.Parse()

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.ContractRelay != "" {
		cfg.ContractRelay = envCfg.ContractRelay
	}
	if envCfg.MirrorNodeAddress != "" {
		cfg.MirrorNodeAddress = envCfg.MirrorNodeAddress
	}
	if envCfg.MerchantAddress != "" {
		cfg.MerchantAddress = envCfg.MerchantAddress
	}
	if envCfg.MerchantAccountID != "" {
		cfg.MerchantAccountID = envCfg.MerchantAccountID
	}
	if envCfg.ReputationTokenID != "" {
		cfg.ReputationTokenID = envCfg.ReputationTokenID
	}
	if envCfg.AuditTopicID != "" {
		cfg.AuditTopicID = envCfg.AuditTopicID
	}
	if envCfg.SessionSecret != "" {
		cfg.SessionSecret = envCfg.SessionSecret
	}
	if envCfg.ReturnReward != 0 {
		cfg.ReturnReward = envCfg.ReturnReward
	}
	if envCfg.SettlementInterval != 0 {
		cfg.SettlementInterval = envCfg.SettlementInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if cfg.MerchantAddress == "" {
		return nil, fmt.Errorf("merchant address is required")
	}

	return cfg, nil
}

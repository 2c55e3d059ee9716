package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{BotToken: "token", NotifyChatID: 1},
		Broker:   BrokerConfig{Email: "a@b.c", Password: "secret", Mode: "PRACTICE", Host: "qxbroker.com", Timeout: 30 * time.Second},
		Trading: TradingConfig{
			DefaultTradeAmount: 10,
			MinTradeAmount:     1,
			MaxTradeAmount:     100,
			DefaultDuration:    300,
			AllowedAssets:      []string{"EURUSD"},
		},
		Risk: RiskConfig{
			RiskPercentage:       2,
			MartingaleMultiplier: 2,
			BalanceCeilingFrac:   0.5,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"missing bot token", func(c *Config) { c.Telegram.BotToken = "" }, true},
		{"missing broker email", func(c *Config) { c.Broker.Email = "" }, true},
		{"missing broker password", func(c *Config) { c.Broker.Password = "" }, true},
		{"invalid mode", func(c *Config) { c.Broker.Mode = "DEMO" }, true},
		{"real mode", func(c *Config) { c.Broker.Mode = "REAL" }, false},
		{"zero min amount", func(c *Config) { c.Trading.MinTradeAmount = 0 }, true},
		{"max below min", func(c *Config) { c.Trading.MaxTradeAmount = 0.5 }, true},
		{"risk percentage over 100", func(c *Config) { c.Risk.RiskPercentage = 150 }, true},
		{"multiplier below 1", func(c *Config) { c.Risk.MartingaleMultiplier = 0.5 }, true},
		{"ceiling above 1", func(c *Config) { c.Risk.BalanceCeilingFrac = 1.5 }, true},
		{"no allowed assets", func(c *Config) { c.Trading.AllowedAssets = nil }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("QXBROKER_EMAIL", "a@b.c")
	t.Setenv("QXBROKER_PASSWORD", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Broker.Mode != "PRACTICE" {
		t.Errorf("Broker.Mode = %v, want PRACTICE", cfg.Broker.Mode)
	}
	if cfg.Trading.DefaultTradeAmount != 10 {
		t.Errorf("DefaultTradeAmount = %v, want 10", cfg.Trading.DefaultTradeAmount)
	}
	if cfg.Risk.MinSignalConfidence != 70 {
		t.Errorf("MinSignalConfidence = %v, want 70", cfg.Risk.MinSignalConfidence)
	}
	if len(cfg.Trading.AllowedAssets) != 5 {
		t.Errorf("AllowedAssets = %v, want 5 default pairs", cfg.Trading.AllowedAssets)
	}
}

func TestParseChatIDs(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"empty", "", 0, false},
		{"single", "-100123", 1, false},
		{"multiple with spaces", "-100123, -100456", 2, false},
		{"not a number", "abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := parseChatIDs(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseChatIDs() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && len(ids) != tt.want {
				t.Errorf("parseChatIDs() = %v, want %d ids", ids, tt.want)
			}
		})
	}
}

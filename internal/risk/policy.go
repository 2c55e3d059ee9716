package risk

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kirillm/qx-signal-bot/internal/config"
)

// Profile - именованный набор риск-лимитов из YAML-файла.
// Нулевые значения означают "оставить как в конфигурации".
type Profile struct {
	RiskPercentage       float64 `yaml:"risk_percentage"`
	MaxDailyLoss         float64 `yaml:"max_daily_loss"`
	MaxConcurrentTrades  int     `yaml:"max_concurrent_trades"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
	MinSignalConfidence  int     `yaml:"min_signal_confidence"`
	TradingHours         string  `yaml:"trading_hours"`
	MartingaleMultiplier float64 `yaml:"martingale_multiplier"`
	MaxMartingaleSteps   int     `yaml:"max_martingale_steps"`
	BalanceCeilingFrac   float64 `yaml:"balance_ceiling_frac"`
}

// ApplyProfile накладывает выбранный YAML-профиль на конфигурацию риска.
// Вызывается до конструирования компонентов: парсер, трекер и движок
// должны видеть одни и те же действующие лимиты.
func ApplyProfile(cfg *config.RiskConfig) error {
	if cfg.ProfileFile == "" {
		return nil
	}
	profile, err := loadProfile(cfg.ProfileFile, cfg.ProfileName)
	if err != nil {
		return fmt.Errorf("failed to load risk profile: %w", err)
	}
	profile.apply(cfg)
	return nil
}

// loadProfile загружает риск-профиль из YAML
func loadProfile(path, name string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file struct {
		RiskProfiles map[string]Profile `yaml:"risk_profiles"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	if name == "" {
		name = "moderate"
	}
	profile, ok := file.RiskProfiles[name]
	if !ok {
		return nil, fmt.Errorf("risk profile %q not found in %s", name, path)
	}
	return &profile, nil
}

// apply переносит ненулевые значения профиля поверх конфигурации
func (p *Profile) apply(cfg *config.RiskConfig) {
	if p.RiskPercentage > 0 {
		cfg.RiskPercentage = p.RiskPercentage
	}
	if p.MaxDailyLoss > 0 {
		cfg.MaxDailyLoss = p.MaxDailyLoss
	}
	if p.MaxConcurrentTrades > 0 {
		cfg.MaxConcurrentTrades = p.MaxConcurrentTrades
	}
	if p.MaxConsecutiveLosses > 0 {
		cfg.MaxConsecutiveLosses = p.MaxConsecutiveLosses
	}
	if p.MinSignalConfidence > 0 {
		cfg.MinSignalConfidence = p.MinSignalConfidence
	}
	if p.TradingHours != "" {
		cfg.TradingHoursWindow = p.TradingHours
	}
	if p.MartingaleMultiplier > 0 {
		cfg.MartingaleMultiplier = p.MartingaleMultiplier
	}
	if p.MaxMartingaleSteps > 0 {
		cfg.MaxMartingaleSteps = p.MaxMartingaleSteps
	}
	if p.BalanceCeilingFrac > 0 {
		cfg.BalanceCeilingFrac = p.BalanceCeilingFrac
	}
}

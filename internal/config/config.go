package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kirillm/qx-signal-bot/internal/domain"
)

// Config содержит все настройки приложения
type Config struct {
	Telegram TelegramConfig
	Broker   BrokerConfig
	Database DatabaseConfig
	Trading  TradingConfig
	Risk     RiskConfig
	LogLevel string
}

type TelegramConfig struct {
	BotToken       string
	NotifyChatID   int64   // куда отправлять уведомления
	MonitoredChats []int64 // откуда читать сигналы
}

type BrokerConfig struct {
	Email    string
	Password string
	Mode     string // PRACTICE или REAL
	Host     string
	Timeout  time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type TradingConfig struct {
	DefaultTradeAmount float64
	MinTradeAmount     float64
	MaxTradeAmount     float64
	DefaultDuration    int // секунды, для сигналов без длительности
	AllowedAssets      []string
}

type RiskConfig struct {
	RiskPercentage       float64
	MaxDailyLoss         float64
	MaxConcurrentTrades  int
	MaxConsecutiveLosses int
	MinSignalConfidence  int
	TradingHoursWindow   string // "HH:MM-HH:MM", пусто = круглосуточно
	MartingaleEnabled    bool
	MartingaleMultiplier float64
	MaxMartingaleSteps   int
	BalanceCeilingFrac   float64 // доля баланса, которую не может превысить ставка цепочки
	ProfileFile          string  // опциональный YAML с риск-профилями
	ProfileName          string
}

// Load загружает конфигурацию из .env файла и переменных окружения
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using environment variables")
	}

	notifyChatID, err := strconv.ParseInt(getEnv("TELEGRAM_NOTIFY_CHAT_ID", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_NOTIFY_CHAT_ID: %w", err)
	}

	monitoredChats, err := parseChatIDs(getEnv("TELEGRAM_MONITORED_CHATS", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_MONITORED_CHATS: %w", err)
	}

	brokerTimeout, err := time.ParseDuration(getEnv("BROKER_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid BROKER_TIMEOUT: %w", err)
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	maxOpenConns, err := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "25"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}

	maxIdleConns, err := strconv.Atoi(getEnv("DB_MAX_IDLE_CONNS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
	}

	connMaxLifetime, err := time.ParseDuration(getEnv("DB_CONN_MAX_LIFETIME", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}

	defaultAmount, err := parseFloatEnv("DEFAULT_TRADE_AMOUNT", "10")
	if err != nil {
		return nil, err
	}
	minAmount, err := parseFloatEnv("MIN_TRADE_AMOUNT", "1")
	if err != nil {
		return nil, err
	}
	maxAmount, err := parseFloatEnv("MAX_TRADE_AMOUNT", "100")
	if err != nil {
		return nil, err
	}

	defaultDuration, err := strconv.Atoi(getEnv("DEFAULT_DURATION_SECONDS", "300"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_DURATION_SECONDS: %w", err)
	}

	riskPercentage, err := parseFloatEnv("RISK_PERCENTAGE", "2")
	if err != nil {
		return nil, err
	}
	maxDailyLoss, err := parseFloatEnv("MAX_DAILY_LOSS", "500")
	if err != nil {
		return nil, err
	}

	maxConcurrent, err := strconv.Atoi(getEnv("MAX_CONCURRENT_TRADES", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_CONCURRENT_TRADES: %w", err)
	}

	maxConsecutive, err := strconv.Atoi(getEnv("MAX_CONSECUTIVE_LOSSES", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_CONSECUTIVE_LOSSES: %w", err)
	}

	minConfidence, err := strconv.Atoi(getEnv("MIN_SIGNAL_CONFIDENCE", "70"))
	if err != nil {
		return nil, fmt.Errorf("invalid MIN_SIGNAL_CONFIDENCE: %w", err)
	}

	martingaleEnabled, err := strconv.ParseBool(getEnv("MARTINGALE_ENABLED", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid MARTINGALE_ENABLED: %w", err)
	}

	martingaleMultiplier, err := parseFloatEnv("MARTINGALE_MULTIPLIER", "2.0")
	if err != nil {
		return nil, err
	}

	maxMartingaleSteps, err := strconv.Atoi(getEnv("MAX_MARTINGALE_STEPS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_MARTINGALE_STEPS: %w", err)
	}

	balanceCeiling, err := parseFloatEnv("MARTINGALE_BALANCE_CEILING", "0.5")
	if err != nil {
		return nil, err
	}

	config := &Config{
		Telegram: TelegramConfig{
			BotToken:       getEnv("TELEGRAM_BOT_TOKEN", ""),
			NotifyChatID:   notifyChatID,
			MonitoredChats: monitoredChats,
		},
		Broker: BrokerConfig{
			Email:    getEnv("QXBROKER_EMAIL", ""),
			Password: getEnv("QXBROKER_PASSWORD", ""),
			Mode:     getEnv("QXBROKER_MODE", "PRACTICE"),
			Host:     getEnv("QXBROKER_HOST", "qxbroker.com"),
			Timeout:  brokerTimeout,
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            dbPort,
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			DBName:          getEnv("DB_NAME", "qx_signal_bot"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    maxOpenConns,
			MaxIdleConns:    maxIdleConns,
			ConnMaxLifetime: connMaxLifetime,
		},
		Trading: TradingConfig{
			DefaultTradeAmount: defaultAmount,
			MinTradeAmount:     minAmount,
			MaxTradeAmount:     maxAmount,
			DefaultDuration:    defaultDuration,
			AllowedAssets:      splitList(getEnv("ALLOWED_ASSETS", "EURUSD,GBPUSD,USDJPY,AUDUSD,USDCAD")),
		},
		Risk: RiskConfig{
			RiskPercentage:       riskPercentage,
			MaxDailyLoss:         maxDailyLoss,
			MaxConcurrentTrades:  maxConcurrent,
			MaxConsecutiveLosses: maxConsecutive,
			MinSignalConfidence:  minConfidence,
			TradingHoursWindow:   getEnv("TRADING_HOURS_WINDOW", ""),
			MartingaleEnabled:    martingaleEnabled,
			MartingaleMultiplier: martingaleMultiplier,
			MaxMartingaleSteps:   maxMartingaleSteps,
			BalanceCeilingFrac:   balanceCeiling,
			ProfileFile:          getEnv("RISK_PROFILE_FILE", ""),
			ProfileName:          getEnv("RISK_PROFILE", "moderate"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate проверяет обязательные поля конфигурации
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if c.Broker.Email == "" {
		return fmt.Errorf("QXBROKER_EMAIL is required")
	}
	if c.Broker.Password == "" {
		return fmt.Errorf("QXBROKER_PASSWORD is required")
	}
	if c.Broker.Mode != domain.ModePractice && c.Broker.Mode != domain.ModeReal {
		return fmt.Errorf("QXBROKER_MODE must be PRACTICE or REAL, got %q", c.Broker.Mode)
	}
	if c.Trading.MinTradeAmount <= 0 {
		return fmt.Errorf("MIN_TRADE_AMOUNT must be positive")
	}
	if c.Trading.MaxTradeAmount < c.Trading.MinTradeAmount {
		return fmt.Errorf("MAX_TRADE_AMOUNT must be >= MIN_TRADE_AMOUNT")
	}
	if c.Risk.RiskPercentage <= 0 || c.Risk.RiskPercentage > 100 {
		return fmt.Errorf("RISK_PERCENTAGE must be between 0 and 100")
	}
	if c.Risk.MartingaleMultiplier < 1 {
		return fmt.Errorf("MARTINGALE_MULTIPLIER must be >= 1")
	}
	if c.Risk.BalanceCeilingFrac <= 0 || c.Risk.BalanceCeilingFrac > 1 {
		return fmt.Errorf("MARTINGALE_BALANCE_CEILING must be in (0, 1]")
	}
	if len(c.Trading.AllowedAssets) == 0 {
		return fmt.Errorf("ALLOWED_ASSETS is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseFloatEnv(key, defaultValue string) (float64, error) {
	val, err := strconv.ParseFloat(getEnv(key, defaultValue), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return val, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseChatIDs(s string) ([]int64, error) {
	var ids []int64
	for _, p := range splitList(s) {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

package config

import (
	"errors"
	"log"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	App         AppConfig         `mapstructure:"app"`
	Payment     PaymentConfig     `mapstructure:"payment"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Limits      LimitsConfig      `mapstructure:"limits"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Expire int64  `mapstructure:"expire"` // 小时
}

type AppConfig struct {
	Env   string `mapstructure:"env"`
	Debug bool   `mapstructure:"debug"`
}

// PaymentConfig 外部支付微服务配置
type PaymentConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	CallbackURL       string `mapstructure:"callback_url"` // webhook 回调地址
	ServiceID         string `mapstructure:"service_id"`   // watcher 注册用的服务 ID
	BlockchainVersion string `mapstructure:"blockchain_version"`
}

// MarketplaceConfig 订单生命周期配置
type MarketplaceConfig struct {
	OpenOrderExpirationMin int `mapstructure:"open_order_expiration_min"` // opened 订单有效期（分钟）
	PendingTimeoutMin      int `mapstructure:"pending_timeout_min"`       // pending 订单超时（分钟），读取时惰性检查
}

// OpenOrderExpiration opened 订单过期窗口
func (m MarketplaceConfig) OpenOrderExpiration() time.Duration {
	return time.Duration(m.OpenOrderExpirationMin) * time.Minute
}

// PendingTimeout pending 订单事务超时
func (m MarketplaceConfig) PendingTimeout() time.Duration {
	return time.Duration(m.PendingTimeoutMin) * time.Minute
}

// LimitsConfig 滑动窗口限流配置，窗口内的最大值
type LimitsConfig struct {
	WindowSec     int   `mapstructure:"window_sec"`
	Registrations int64 `mapstructure:"registrations"` // 每应用注册数
	EarnApp       int64 `mapstructure:"earn_app"`      // 每应用 earn 总额
	EarnUser      int64 `mapstructure:"earn_user"`     // 每用户 earn 总额
	EarnWallet    int64 `mapstructure:"earn_wallet"`   // 每钱包 earn 总额
}

// Window 滑动窗口长度
func (l LimitsConfig) Window() time.Duration {
	return time.Duration(l.WindowSec) * time.Second
}

var GlobalConfig Config

// Validate 验证配置
func (c *Config) Validate() error {
	if c.JWT.Secret == "" || c.JWT.Secret == "your_super_secret_key" {
		return errors.New("please set a secure JWT secret in production")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("JWT secret should be at least 32 characters")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return errors.New("database configuration is incomplete")
	}

	if c.Redis.Addr == "" {
		return errors.New("redis address is required")
	}

	if c.Payment.BaseURL == "" {
		return errors.New("payment service base_url is required")
	}

	return nil
}

// LoadConfig 加载配置
func LoadConfig() {
	// 获取环境变量，默认为dev
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 根据环境选择配置文件
	configName := "config"
	if env != "" && env != "dev" {
		configName = "config." + env
	}

	viper.SetConfigName(configName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// 设置默认值
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("jwt.expire", 24)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("app.env", "dev")
	viper.SetDefault("app.debug", true)
	viper.SetDefault("payment.blockchain_version", "3")
	viper.SetDefault("marketplace.open_order_expiration_min", 10)
	viper.SetDefault("marketplace.pending_timeout_min", 45)
	viper.SetDefault("limits.window_sec", 3600)
	viper.SetDefault("limits.registrations", 50000)
	viper.SetDefault("limits.earn_app", 5000000)
	viper.SetDefault("limits.earn_user", 50000)
	viper.SetDefault("limits.earn_wallet", 50000)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Config file not found, using defaults or env vars: %v", err)
	}

	// 绑定环境变量
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&GlobalConfig); err != nil {
		log.Fatalf("Unable to decode into struct: %v", err)
	}

	// 手动覆盖，以防 viper 无法正确解析复杂结构或环境变量
	if host := os.Getenv("DB_HOST"); host != "" {
		GlobalConfig.Database.Host = host
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		GlobalConfig.Redis.Addr = redisAddr
	}
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		GlobalConfig.JWT.Secret = jwtSecret
	}
	if paymentURL := os.Getenv("PAYMENT_SERVICE_URL"); paymentURL != "" {
		GlobalConfig.Payment.BaseURL = paymentURL
	}

	// 验证配置
	if err := GlobalConfig.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	log.Printf("Configuration loaded and validated successfully. Environment: %s", GlobalConfig.App.Env)
}

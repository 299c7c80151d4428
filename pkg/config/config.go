package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	App struct {
		Name string `yaml:"name"`
		Env  string `yaml:"env"`
	} `yaml:"app"`

	Database struct {
		Postgres struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			DBName   string `yaml:"dbname"`
			SSLMode  string `yaml:"sslmode"`
		} `yaml:"postgres"`
	} `yaml:"database"`

	NATS struct {
		URL string `yaml:"url"` // 为空时不启用外部桥接
	} `yaml:"nats"`

	API struct {
		Port         string        `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"api"`

	Evaluator struct {
		TickInterval      time.Duration `yaml:"tick_interval"`
		FetchTimeout      time.Duration `yaml:"fetch_timeout"`
		Workers           int           `yaml:"workers"`
		DegradedThreshold int           `yaml:"degraded_threshold"`
		BusBuffer         int           `yaml:"bus_buffer"`
	} `yaml:"evaluator"`

	Retention struct {
		TTL        time.Duration `yaml:"ttl"`         // 空置条件保留时长
		SweepCron  string        `yaml:"sweep_cron"`  // 回收扫描
		ReloadCron string        `yaml:"reload_cron"` // 剧本重载
	} `yaml:"retention"`

	Binance struct {
		BaseURL     string  `yaml:"base_url"`
		RatePerSec  float64 `yaml:"rate_per_sec"`
		CandleLimit int     `yaml:"candle_limit"`
	} `yaml:"binance"`
}

// LoadConfig 从文件加载配置
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	overrideFromEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

// overrideFromEnv 使用环境变量覆盖配置
func overrideFromEnv(config *Config) {
	if env := os.Getenv("APP_NAME"); env != "" {
		config.App.Name = env
	}
	if env := os.Getenv("APP_ENV"); env != "" {
		config.App.Env = env
	}

	// 数据库配置
	if env := os.Getenv("DB_HOST"); env != "" {
		config.Database.Postgres.Host = env
	}
	if env := os.Getenv("DB_PORT"); env != "" {
		var port int
		fmt.Sscanf(env, "%d", &port)
		if port > 0 {
			config.Database.Postgres.Port = port
		}
	}
	if env := os.Getenv("DB_USER"); env != "" {
		config.Database.Postgres.User = env
	}
	if env := os.Getenv("DB_PASSWORD"); env != "" {
		config.Database.Postgres.Password = env
	}
	if env := os.Getenv("DB_NAME"); env != "" {
		config.Database.Postgres.DBName = env
	}

	// NATS配置
	if env := os.Getenv("NATS_URL"); env != "" {
		config.NATS.URL = env
	}

	// API配置
	if env := os.Getenv("API_PORT"); env != "" {
		config.API.Port = env
	}

	// 币安配置
	if env := os.Getenv("BINANCE_BASE_URL"); env != "" {
		config.Binance.BaseURL = env
	}
}

// applyDefaults 填充缺省值
func applyDefaults(config *Config) {
	if config.API.Port == "" {
		config.API.Port = "8080"
	}
	if config.Evaluator.TickInterval <= 0 {
		config.Evaluator.TickInterval = time.Second
	}
	if config.Evaluator.Workers <= 0 {
		config.Evaluator.Workers = 8
	}
	if config.Evaluator.DegradedThreshold <= 0 {
		config.Evaluator.DegradedThreshold = 5
	}
	if config.Retention.TTL <= 0 {
		config.Retention.TTL = 24 * time.Hour
	}
	if config.Retention.SweepCron == "" {
		config.Retention.SweepCron = "@every 10m"
	}
	if config.Retention.ReloadCron == "" {
		config.Retention.ReloadCron = "@every 1m"
	}
}

// GetDefaultConfigPath 获取默认配置文件路径
func GetDefaultConfigPath() string {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	return fmt.Sprintf("configs/%s/app.yaml", env)
}

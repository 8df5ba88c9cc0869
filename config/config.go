package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Analyzer AnalyzerConfig `mapstructure:"analyzer"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	OSS      OSSConfig      `mapstructure:"oss"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql 或 sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// AnalyzerConfig 外部分析器配置
type AnalyzerConfig struct {
	BinPath         string   `mapstructure:"bin_path"`         // 分析器可执行文件路径
	DefaultProvider string   `mapstructure:"default_provider"` // 进程级默认 provider
	DefaultModel    string   `mapstructure:"default_model"`    // 进程级默认 model
	Tiers           []string `mapstructure:"tiers"`            // 允许的分析档位
	TimeoutSeconds  int      `mapstructure:"timeout_seconds"`  // 单次分析超时，0 表示不限
}

// LimitsConfig 资源上限配置
type LimitsConfig struct {
	MaxActiveJobs          int `mapstructure:"max_active_jobs"`          // 同时运行的分析任务上限
	MaxObserversPerJob     int `mapstructure:"max_observers_per_job"`    // 单任务进度订阅者上限
	MaxInstructionsLen     int `mapstructure:"max_instructions_len"`     // 自定义指令最大长度
	RegistryRetentionHours int `mapstructure:"registry_retention_hours"` // 终态任务在内存注册表中的保留时间
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

// 默认档位
var DefaultTiers = []string{"fast", "balanced", "thorough"}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 环境变量覆盖
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Analyzer.Tiers) == 0 {
		c.Analyzer.Tiers = DefaultTiers
	}
	if c.Limits.MaxActiveJobs <= 0 {
		c.Limits.MaxActiveJobs = 8
	}
	if c.Limits.MaxObserversPerJob <= 0 {
		c.Limits.MaxObserversPerJob = 32
	}
	if c.Limits.MaxInstructionsLen <= 0 {
		c.Limits.MaxInstructionsLen = 5000
	}
	if c.Limits.RegistryRetentionHours <= 0 {
		c.Limits.RegistryRetentionHours = 1
	}
}

package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/RecoveryAshes/sitemirror/internal/models"
	"github.com/adrg/xdg"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// appName 配置目录名
const appName = "sitemirror"

// Config 应用程序配置
type Config struct {
	Crawl   models.CrawlConfig `mapstructure:"crawl"`
	Logging LoggingConfig      `mapstructure:"logging"`
	Output  OutputConfig       `mapstructure:"output"`

	// Headers 每个请求附带的头部, 会被命令行 -H 覆盖
	Headers map[string]string `mapstructure:"headers"`

	// ConfigFile 实际读取的配置文件 (未找到时为空)
	ConfigFile string `mapstructure:"-"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	BaseDir      string `mapstructure:"base_dir"`
	Manifest     bool   `mapstructure:"manifest"`      // 写入 manifest.db
	Metrics      bool   `mapstructure:"metrics"`       // 写入 metrics.prom
	RewriteLinks bool   `mapstructure:"rewrite_links"` // 运行结束后重写本地链接
	Verify       bool   `mapstructure:"verify"`        // 运行结束后校验完整性
}

// LoadConfig 加载配置文件
// configPath为空时搜索默认位置, 找不到配置文件时使用默认值
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件
	if configPath != "" {
		// 使用指定的配置文件, 显式指定时文件必须存在
		if _, err := os.Stat(configPath); err != nil {
			return nil, &models.ConfigError{FilePath: configPath, Cause: fmt.Errorf("配置文件不可用: %w", err)}
		}
		v.SetConfigFile(configPath)
	} else {
		// 搜索默认位置
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		// 添加配置搜索路径
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, appName))

		// 用户主目录
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, "."+appName))
		}
	}

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// 如果配置文件不存在,使用默认值
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, &models.ConfigError{FilePath: configPath, Cause: fmt.Errorf("读取配置文件失败: %w", err)}
		}
	}

	// 解析配置
	var config Config
	if err := v.Unmarshal(&config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		numberAsSecondsHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, &models.ConfigError{FilePath: v.ConfigFileUsed(), Cause: fmt.Errorf("解析配置文件失败: %w", err)}
	}
	config.ConfigFile = v.ConfigFileUsed()

	return &config, nil
}

// durationType time.Duration 的反射类型
var durationType = reflect.TypeOf(time.Duration(0))

// numberAsSecondsHook 时长配置写成纯数字时按秒解释 (timeout: 30 即30秒)
// 带单位的字符串交给 StringToTimeDurationHookFunc 处理
func numberAsSecondsHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != durationType || from == durationType {
			return data, nil
		}

		value := reflect.ValueOf(data)
		switch from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(value.Int()) * time.Second, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return time.Duration(value.Uint()) * time.Second, nil
		case reflect.Float32, reflect.Float64:
			return time.Duration(value.Float() * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 爬取配置默认值
	d := models.DefaultCrawlConfig()
	v.SetDefault("crawl.delay", d.Delay)
	v.SetDefault("crawl.max_depth", d.MaxDepth)
	v.SetDefault("crawl.max_workers", d.MaxWorkers)
	v.SetDefault("crawl.verify_ssl", d.VerifySSL)
	v.SetDefault("crawl.include_subdomains", d.IncludeSubdomains)
	v.SetDefault("crawl.force_redownload", d.ForceRedownload)
	v.SetDefault("crawl.ignore_robots", d.IgnoreRobots)
	v.SetDefault("crawl.user_agent", d.UserAgent)
	v.SetDefault("crawl.timeout", d.Timeout)
	v.SetDefault("crawl.max_retries", d.MaxRetries)
	v.SetDefault("crawl.retry_base_delay", d.RetryBaseDelay)
	v.SetDefault("crawl.retry_max_delay", d.RetryMaxDelay)
	v.SetDefault("crawl.max_body_size", d.MaxBodySize)

	// 日志配置默认值
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	// 输出配置默认值
	v.SetDefault("output.base_dir", "output")
	v.SetDefault("output.manifest", true)
	v.SetDefault("output.metrics", true)
	v.SetDefault("output.rewrite_links", true)
	v.SetDefault("output.verify", true)
}

// GetCrawlConfig 从配置中提取爬取配置
func (c *Config) GetCrawlConfig() models.CrawlConfig {
	return c.Crawl
}

// Validate 校验配置, 任何越界值都在爬取开始前返回 *models.ConfigError
func (c *Config) Validate() error {
	if err := c.Crawl.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Output.BaseDir) == "" {
		return models.NewConfigError("output.base_dir", fmt.Errorf("输出目录不能为空"))
	}
	return nil
}

// CLIOverrides 命令行显式设置的参数
// 指针为nil表示未设置, 保留配置文件中的值
type CLIOverrides struct {
	Delay             *float64
	MaxDepth          *int
	MaxWorkers        *int
	VerifySSL         *bool
	IncludeSubdomains *bool
	ForceRedownload   *bool
	IgnoreRobots      *bool
	UserAgent         *string
	Timeout           *int // 秒
	MaxRetries        *int
	OutputDir         *string
	NoRewrite         *bool
	NoVerify          *bool
}

// MergeCLIFlags 合并命令行参数到配置
// 命令行参数优先于配置文件
func (c *Config) MergeCLIFlags(o CLIOverrides) {
	if o.Delay != nil {
		c.Crawl.Delay = *o.Delay
	}
	if o.MaxDepth != nil {
		c.Crawl.MaxDepth = *o.MaxDepth
	}
	if o.MaxWorkers != nil {
		c.Crawl.MaxWorkers = *o.MaxWorkers
	}
	if o.VerifySSL != nil {
		c.Crawl.VerifySSL = *o.VerifySSL
	}
	if o.IncludeSubdomains != nil {
		c.Crawl.IncludeSubdomains = *o.IncludeSubdomains
	}
	if o.ForceRedownload != nil {
		c.Crawl.ForceRedownload = *o.ForceRedownload
	}
	if o.IgnoreRobots != nil {
		c.Crawl.IgnoreRobots = *o.IgnoreRobots
	}
	if o.UserAgent != nil {
		c.Crawl.UserAgent = *o.UserAgent
	}
	if o.Timeout != nil {
		c.Crawl.Timeout = time.Duration(*o.Timeout) * time.Second
	}
	if o.MaxRetries != nil {
		c.Crawl.MaxRetries = *o.MaxRetries
	}
	if o.OutputDir != nil {
		c.Output.BaseDir = *o.OutputDir
	}
	if o.NoRewrite != nil && *o.NoRewrite {
		c.Output.RewriteLinks = false
	}
	if o.NoVerify != nil && *o.NoVerify {
		c.Output.Verify = false
	}
}

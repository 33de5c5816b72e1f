package utils

import (
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 日志文件名, 位于 LogConfig.LogDir 下
const (
	MainLogFile  = "sitemirror.log"
	ErrorLogFile = "sitemirror_error.log"
)

// current 当前日志器
// worker、停止信号回调与 WithRun 可能并发访问, 因此用原子指针替换
var current atomic.Pointer[zerolog.Logger]

func init() {
	nop := zerolog.Nop()
	current.Store(&nop)
}

// L 返回当前日志器, InitLogger 之前丢弃所有输出
func L() *zerolog.Logger {
	return current.Load()
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string // trace, debug, info, warn, error
	LogDir     string
	MaxSize    int // 单个文件上限(MB)
	MaxBackups int
	MaxAge     int // 天
	Compress   bool

	Console io.Writer // 为空时使用标准输出
	NoColor bool
}

// DefaultLogConfig 默认日志配置, 与配置文件中 logging 段的默认值一致
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		LogDir:     "logs",
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
}

// rotating 在日志目录下创建带轮转的文件写入器
func (c LogConfig) rotating(name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(c.LogDir, name),
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
		Compress:   c.Compress,
	}
}

// InitLogger 初始化日志系统
//
// 输出同时写到三处: 控制台(彩色), MainLogFile(全部级别), ErrorLogFile(仅error及以上)。
// 无法识别的级别按info处理并记录一条警告。
func InitLogger(config LogConfig) error {
	if err := os.MkdirAll(config.LogDir, 0755); err != nil {
		return err
	}

	level, levelErr := zerolog.ParseLevel(config.Level)
	if levelErr != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	console := config.Console
	if console == nil {
		console = os.Stdout
	}

	writer := zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339, NoColor: config.NoColor},
		config.rotating(MainLogFile),
		&minLevelWriter{out: config.rotating(ErrorLogFile), min: zerolog.ErrorLevel},
	)

	logger := zerolog.New(writer).With().Timestamp().Caller().Logger()
	current.Store(&logger)
	log.Logger = logger

	if levelErr != nil {
		logger.Warn().Str("level", config.Level).Msg("无法识别的日志级别, 使用info")
	}
	logger.Info().
		Str("level", level.String()).
		Str("log_dir", config.LogDir).
		Msg("日志系统初始化完成")

	return nil
}

// WithRun 为之后的日志附加运行ID与目标站点, 返回的函数恢复原日志器
// 同一镜像目录的多次运行写入同一个日志文件, 靠 run_id 区分
func WithRun(runID, site string) (restore func()) {
	prev := current.Load()
	scoped := prev.With().Str("run_id", runID).Str("site", site).Logger()
	current.Store(&scoped)
	return func() { current.Store(prev) }
}

// minLevelWriter 只写入不低于min级别的日志
// MultiLevelWriter 通过 WriteLevel 传入级别, 不带级别的 Write 直接丢弃
type minLevelWriter struct {
	out io.Writer
	min zerolog.Level
}

func (w *minLevelWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

func (w *minLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < w.min {
		return len(p), nil
	}
	return w.out.Write(p)
}

// Info 信息日志
func Info(msg string) {
	L().Info().Msg(msg)
}

// Infof 格式化信息日志
func Infof(format string, args ...interface{}) {
	L().Info().Msgf(format, args...)
}

// Warn 警告日志
func Warn(msg string) {
	L().Warn().Msg(msg)
}

// Warnf 格式化警告日志
func Warnf(format string, args ...interface{}) {
	L().Warn().Msgf(format, args...)
}

// Errorf 格式化错误日志
func Errorf(format string, args ...interface{}) {
	L().Error().Msgf(format, args...)
}

// Debugf 格式化调试日志
func Debugf(format string, args ...interface{}) {
	L().Debug().Msgf(format, args...)
}

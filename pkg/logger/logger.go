package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger *logrus.Logger
	// currentLogFile 当前日志文件路径
	currentLogFile string
	// savedConfig 保存的日志配置（用于按窗口切换日志文件）
	savedConfig Config
	// currentWindowSlug 当前窗口 slug（例如 btc-updown-15m-1765985400）
	currentWindowSlug string
	// logMu 日志文件切换锁
	logMu sync.Mutex
)

// Config 日志配置
type Config struct {
	Level       string // 日志级别: debug, info, warn, error
	OutputFile  string // 日志文件路径（可选，为空则只输出到控制台）
	MaxSize     int    // 日志文件最大大小（MB）
	MaxBackups  int    // 保留的旧日志文件数量
	MaxAge      int    // 保留旧日志文件的天数
	Compress    bool   // 是否压缩旧日志文件
	LogByWindow bool   // 是否按市场窗口命名日志文件
}

func newFormatter() *logrus.TextFormatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05",
		ForceColors:     true,
	}
}

// windowLogPath 根据窗口 slug 生成日志文件名
func windowLogPath(basePath, slug string) string {
	if slug == "" {
		return basePath
	}
	dir := filepath.Dir(basePath)
	ext := filepath.Ext(basePath)
	if ext == "" {
		ext = ".log"
	}
	name := slug + ext
	if dir == "." || dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

func buildOutput(cfg Config, path string) (io.Writer, error) {
	writers := []io.Writer{os.Stdout}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	}
	return io.MultiWriter(writers...), nil
}

func apply(cfg Config, path string) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	out, err := buildOutput(cfg, path)
	if err != nil {
		return err
	}

	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(newFormatter())
	l.SetOutput(out)

	// 同时设置全局 logrus，策略里 logrus.WithField() 创建的 entry 也能写入文件
	logrus.SetOutput(out)
	logrus.SetLevel(level)
	logrus.SetFormatter(newFormatter())

	Logger = l
	currentLogFile = path
	return nil
}

// Init 初始化日志系统
func Init(cfg Config) error {
	logMu.Lock()
	defer logMu.Unlock()

	savedConfig = cfg
	path := cfg.OutputFile
	if cfg.LogByWindow && path != "" && currentWindowSlug != "" {
		path = windowLogPath(path, currentWindowSlug)
	}
	return apply(cfg, path)
}

// InitDefault 使用默认配置初始化日志系统
func InitDefault() error {
	return Init(Config{
		Level:       "info",
		OutputFile:  "logs/combined.log",
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      7,
		Compress:    true,
		LogByWindow: true,
	})
}

// SetWindowSlug 设置当前窗口 slug 并切换日志文件（窗口切换时由调度器调用）
func SetWindowSlug(slug string) error {
	logMu.Lock()
	defer logMu.Unlock()

	if slug == currentWindowSlug {
		return nil
	}
	currentWindowSlug = slug

	if !savedConfig.LogByWindow || savedConfig.OutputFile == "" {
		return nil
	}
	path := windowLogPath(savedConfig.OutputFile, slug)
	if path == currentLogFile {
		return nil
	}
	if currentLogFile != "" {
		fmt.Printf("[日志切换] %s -> %s\n", currentLogFile, path)
	}
	return apply(savedConfig, path)
}

// GetCurrentLogFile 获取当前日志文件路径
func GetCurrentLogFile() string {
	logMu.Lock()
	defer logMu.Unlock()
	return currentLogFile
}

// Debug 记录 DEBUG 级别日志
func Debug(args ...interface{}) {
	if Logger != nil {
		Logger.Debug(args...)
	}
}

// Debugf 记录格式化的 DEBUG 级别日志
func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

// Info 记录 INFO 级别日志
func Info(args ...interface{}) {
	if Logger != nil {
		Logger.Info(args...)
	}
}

// Infof 记录格式化的 INFO 级别日志
func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Infof(format, args...)
	}
}

// Warn 记录 WARN 级别日志
func Warn(args ...interface{}) {
	if Logger != nil {
		Logger.Warn(args...)
	}
}

// Warnf 记录格式化的 WARN 级别日志
func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

// Error 记录 ERROR 级别日志
func Error(args ...interface{}) {
	if Logger != nil {
		Logger.Error(args...)
	}
}

// Errorf 记录格式化的 ERROR 级别日志
func Errorf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Errorf(format, args...)
	}
}

// WithField 添加字段到日志上下文
func WithField(key string, value interface{}) *logrus.Entry {
	if Logger != nil {
		return Logger.WithField(key, value)
	}
	return logrus.NewEntry(logrus.New())
}

// WithFields 添加多个字段到日志上下文
func WithFields(fields logrus.Fields) *logrus.Entry {
	if Logger != nil {
		return Logger.WithFields(fields)
	}
	return logrus.NewEntry(logrus.New())
}

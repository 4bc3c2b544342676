package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 上游邮箱服务类型
const (
	BackendMailTM = "mailtm"
	BackendMemory = "memory"
)

const defaultTokenSecret = "change-me-in-production"

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host            string        // 监听地址，默认 "0.0.0.0"
	Port            int           // 监听端口，默认 8080
	ReadTimeout     time.Duration // 读取请求超时，默认 15 秒
	WriteTimeout    time.Duration // 写入响应超时，默认 15 秒
	ShutdownTimeout time.Duration // 优雅关闭等待时间，默认 10 秒
}

// ProviderConfig 定义上游邮箱服务配置
type ProviderConfig struct {
	Backend   string        // "mailtm" 或 "memory"
	BaseURL   string        // mail.tm API 地址
	Timeout   time.Duration // 单次 HTTP 请求超时
	RateLimit float64       // 每秒请求数上限，0 表示不限制
	Burst     int           // 突发请求数

	MemoryDomains []string      // 内存后端可用的域名
	MemoryTTL     time.Duration // 内存后端邮箱有效期
	FeedInterval  time.Duration // 内存后端模拟来信间隔，0 表示关闭
}

// InboxConfig 定义收件箱同步参数
type InboxConfig struct {
	Budget           time.Duration // 会话倒计时预算，默认 600 秒
	PollInterval     time.Duration // 轮询间隔，默认 7 秒
	FailureThreshold int           // 连续失败多少次进入降级，默认 3
	PollTimeout      time.Duration // 单次轮询超时
	BodyTimeout      time.Duration // 单次正文加载超时
	TickInterval     time.Duration // 倒计时刷新间隔，默认 1 秒
}

// ViewerConfig 定义查看者（浏览器标签页）配置
type ViewerConfig struct {
	MaxViewers  int           // 同时在线的查看者上限
	IdleTTL     time.Duration // 闲置多久后回收
	TokenSecret string        // 查看者令牌签名密钥，必须至少 32 字符
	TokenIssuer string        // 令牌签发者标识
	TokenExpiry time.Duration // 令牌有效期
	Workers     int           // 后台动作协程数
	QueueSize   int           // 后台动作队列长度
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到控制台
	MaxSize     int    // 单个日志文件大小上限（MB）
	MaxBackups  int    // 保留的旧日志文件数
	MaxAge      int    // 旧日志保留天数
	Compress    bool   // 是否压缩旧日志
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server   ServerConfig
	Provider ProviderConfig
	Inbox    InboxConfig
	Viewer   ViewerConfig
	CORS     CORSConfig
	Log      LogConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. 配置文件（LoadFile 指定时）
//  3. .env 文件（如果存在）
//  4. 默认值
//
// 环境变量前缀: TEMPMAIL_
// 例如: TEMPMAIL_PROVIDER_BACKEND, TEMPMAIL_INBOX_POLL_INTERVAL
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile 在 Load 的基础上额外读取 YAML/JSON/TOML 配置文件
func LoadFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("tempmail")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var errs []error
	dur := func(key string) time.Duration {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
		return d
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			ReadTimeout:     dur("server.read_timeout"),
			WriteTimeout:    dur("server.write_timeout"),
			ShutdownTimeout: dur("server.shutdown_timeout"),
		},
		Provider: ProviderConfig{
			Backend:       strings.ToLower(strings.TrimSpace(v.GetString("provider.backend"))),
			BaseURL:       strings.TrimRight(v.GetString("provider.base_url"), "/"),
			Timeout:       dur("provider.timeout"),
			RateLimit:     v.GetFloat64("provider.rate_limit"),
			Burst:         v.GetInt("provider.burst"),
			MemoryDomains: parseDomains(v.GetString("provider.memory_domains")),
			MemoryTTL:     dur("provider.memory_ttl"),
			FeedInterval:  dur("provider.feed_interval"),
		},
		Inbox: InboxConfig{
			Budget:           dur("inbox.budget"),
			PollInterval:     dur("inbox.poll_interval"),
			FailureThreshold: v.GetInt("inbox.failure_threshold"),
			PollTimeout:      dur("inbox.poll_timeout"),
			BodyTimeout:      dur("inbox.body_timeout"),
			TickInterval:     dur("inbox.tick_interval"),
		},
		Viewer: ViewerConfig{
			MaxViewers:  v.GetInt("viewer.max_viewers"),
			IdleTTL:     dur("viewer.idle_ttl"),
			TokenSecret: v.GetString("viewer.token_secret"),
			TokenIssuer: v.GetString("viewer.token_issuer"),
			TokenExpiry: dur("viewer.token_expiry"),
			Workers:     v.GetInt("viewer.workers"),
			QueueSize:   v.GetInt("viewer.queue_size"),
		},
		CORS: CORSConfig{
			AllowedOrigins: parseList(v.GetString("cors.allowed_origins")),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
			MaxSize:     v.GetInt("log.max_size"),
			MaxBackups:  v.GetInt("log.max_backups"),
			MaxAge:      v.GetInt("log.max_age"),
			Compress:    v.GetBool("log.compress"),
		},
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("provider.backend", BackendMailTM)
	v.SetDefault("provider.base_url", "https://api.mail.tm")
	v.SetDefault("provider.timeout", "15s")
	v.SetDefault("provider.rate_limit", 8)
	v.SetDefault("provider.burst", 4)
	v.SetDefault("provider.memory_domains", "temp.mail")
	v.SetDefault("provider.memory_ttl", "1h")
	v.SetDefault("provider.feed_interval", "0s")

	v.SetDefault("inbox.budget", "600s")
	v.SetDefault("inbox.poll_interval", "7s")
	v.SetDefault("inbox.failure_threshold", 3)
	v.SetDefault("inbox.poll_timeout", "15s")
	v.SetDefault("inbox.body_timeout", "20s")
	v.SetDefault("inbox.tick_interval", "1s")

	v.SetDefault("viewer.max_viewers", 1000)
	v.SetDefault("viewer.idle_ttl", "15m")
	v.SetDefault("viewer.token_secret", defaultTokenSecret)
	v.SetDefault("viewer.token_issuer", "inboxsync")
	v.SetDefault("viewer.token_expiry", "24h")
	v.SetDefault("viewer.workers", 8)
	v.SetDefault("viewer.queue_size", 256)

	v.SetDefault("cors.allowed_origins", "*")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)
}

func (c *Config) validate() error {
	switch c.Provider.Backend {
	case BackendMailTM:
		if c.Provider.BaseURL == "" {
			return fmt.Errorf("provider.base_url must not be empty")
		}
	case BackendMemory:
		if len(c.Provider.MemoryDomains) == 0 {
			return fmt.Errorf("provider.memory_domains must not be empty")
		}
	default:
		return fmt.Errorf("unknown provider.backend %q (want %s or %s)", c.Provider.Backend, BackendMailTM, BackendMemory)
	}

	if c.Inbox.Budget <= 0 {
		return fmt.Errorf("inbox.budget must be positive")
	}
	if c.Inbox.PollInterval <= 0 {
		return fmt.Errorf("inbox.poll_interval must be positive")
	}
	if c.Inbox.FailureThreshold <= 0 {
		return fmt.Errorf("inbox.failure_threshold must be positive")
	}
	if c.Viewer.MaxViewers <= 0 {
		return fmt.Errorf("viewer.max_viewers must be positive")
	}
	return nil
}

// RequireTokenSecret 检查查看者令牌密钥，HTTP 服务启动前调用
func (c *Config) RequireTokenSecret() error {
	// 安全检查：禁止使用默认密钥
	if c.Viewer.TokenSecret == defaultTokenSecret {
		return fmt.Errorf("SECURITY ERROR: viewer token secret cannot be the default value. Please set TEMPMAIL_VIEWER_TOKEN_SECRET environment variable")
	}
	if len(c.Viewer.TokenSecret) < 32 {
		return fmt.Errorf("SECURITY ERROR: viewer token secret must be at least 32 characters long")
	}
	return nil
}

// Addr 返回 HTTP 监听地址
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// parseDomains 将逗号分隔的域名字符串解析为小写域名数组
func parseDomains(value string) []string {
	out := parseList(value)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

// parseList 将逗号分隔的字符串解析为字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env
//
// 文件不存在时静默跳过，已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}

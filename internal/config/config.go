package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/tailscale/hujson"
)

// Config 客户端启动时固定的全部配置，运行期不支持修改
type Config struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	ID        string `json:"id"`        // 本端标识，随 Greeting 发送
	Transport string `json:"transport"` // tcp|websocket
	Codec     string `json:"codec"`     // json|protobuf
	WSPath    string `json:"ws_path"`

	ReconnectDelay         Duration `json:"reconnect_delay"`
	HeartbeatInterval      Duration `json:"heartbeat_interval"`
	HeartbeatTimeoutFactor int      `json:"heartbeat_timeout_multiple"`
	AckTTL                 Duration `json:"ack_ttl"`
	IdleDelay              Duration `json:"idle_delay"`

	Workers      int `json:"workers"`
	MaxFrameSize int `json:"max_frame_size"`

	MetricsAddr string      `json:"metrics_addr"`
	Redis       RedisConfig `json:"redis"`
	LogLevel    string      `json:"log_level"`
}

// RedisConfig Redis Streams 入口，Addr 为空表示不启用
type RedisConfig struct {
	Addr   string `json:"addr"`
	DB     int    `json:"db"`
	Stream string `json:"stream"`
	Group  string `json:"group"`
}

// Duration 支持 "1500ms" / "2s" 字符串或毫秒整数
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("invalid duration %s", string(b))
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

func Default() Config {
	return Config{
		Host:                   "localhost",
		Port:                   12345,
		ID:                     "Athens",
		Transport:              "tcp",
		Codec:                  "json",
		WSPath:                 "/agora",
		ReconnectDelay:         Duration(time.Second),
		HeartbeatInterval:      Duration(time.Second),
		HeartbeatTimeoutFactor: 10,
		AckTTL:                 Duration(2 * time.Second),
		IdleDelay:              Duration(50 * time.Millisecond),
		Workers:                runtime.NumCPU(),
		MaxFrameSize:           1 << 20,
		Redis: RedisConfig{
			Stream: "agora:outbound",
			Group:  "agora",
		},
		LogLevel: "info",
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load 默认值 -> AGORA_CONFIG 指向的 JWCC 文件 -> 环境变量，最后校验
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("AGORA_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config failed: %w", err)
	}
	// 允许注释与尾逗号
	std, err := hujson.Standardize(content)
	if err != nil {
		return fmt.Errorf("parse config failed: %w", err)
	}
	if err := json.Unmarshal(std, c); err != nil {
		return fmt.Errorf("parse config failed: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Host = getEnv("AGORA_HOST", c.Host)
	c.ID = getEnv("AGORA_ID", c.ID)
	c.Transport = strings.ToLower(getEnv("AGORA_TRANSPORT", c.Transport))
	c.Codec = strings.ToLower(getEnv("AGORA_CODEC", c.Codec))
	c.WSPath = getEnv("AGORA_WS_PATH", c.WSPath)
	c.MetricsAddr = getEnv("AGORA_METRICS_ADDR", c.MetricsAddr)
	c.Redis.Addr = getEnv("AGORA_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Stream = getEnv("AGORA_REDIS_STREAM", c.Redis.Stream)
	c.Redis.Group = getEnv("AGORA_REDIS_GROUP", c.Redis.Group)
	c.LogLevel = getEnv("AGORA_LOG_LEVEL", c.LogLevel)

	ints := []struct {
		key string
		dst *int
	}{
		{"AGORA_PORT", &c.Port},
		{"AGORA_HEARTBEAT_TIMEOUT_MULTIPLE", &c.HeartbeatTimeoutFactor},
		{"AGORA_WORKERS", &c.Workers},
		{"AGORA_MAX_FRAME", &c.MaxFrameSize},
		{"AGORA_REDIS_DB", &c.Redis.DB},
	}
	for _, it := range ints {
		v := os.Getenv(it.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", it.key, v, err)
		}
		*it.dst = n
	}

	durations := []struct {
		key string
		dst *Duration
	}{
		{"AGORA_RECONNECT_DELAY", &c.ReconnectDelay},
		{"AGORA_HEARTBEAT_INTERVAL", &c.HeartbeatInterval},
		{"AGORA_ACK_TTL", &c.AckTTL},
		{"AGORA_IDLE_DELAY", &c.IdleDelay},
	}
	for _, it := range durations {
		v := os.Getenv(it.key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", it.key, v, err)
		}
		*it.dst = Duration(d)
	}
	return nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("config: host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("config: id is required")
	}
	switch c.Transport {
	case "tcp", "websocket":
	default:
		return fmt.Errorf("config: unsupported transport %q", c.Transport)
	}
	if c.ReconnectDelay <= 0 || c.HeartbeatInterval <= 0 || c.AckTTL <= 0 || c.IdleDelay <= 0 {
		return fmt.Errorf("config: durations must be positive")
	}
	if c.HeartbeatTimeoutFactor <= 0 {
		return fmt.Errorf("config: heartbeat timeout multiple must be positive")
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = 1 << 20
	}
	if c.WSPath == "" {
		c.WSPath = "/agora"
	}
	return nil
}

// Addr host:port
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// HeartbeatTimeout 超过该时长未收到任何消息视为连接失效
func (c *Config) HeartbeatTimeout() time.Duration {
	return c.HeartbeatInterval.Std() * time.Duration(c.HeartbeatTimeoutFactor)
}

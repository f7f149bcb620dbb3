// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Ollama   OllamaConfig   `mapstructure:"ollama"`
	Chat     ChatConfig     `mapstructure:"chat"`
}

// ServerConfig 存储服务器相关的配置。
// 超时为 0 表示禁用：SSE 长连接不允许被空闲超时切断。
type ServerConfig struct {
	Port           string `mapstructure:"port"`
	Mode           string `mapstructure:"mode"`
	ReadTimeoutSec int    `mapstructure:"read_timeout_sec"`
	IdleTimeoutSec int    `mapstructure:"idle_timeout_sec"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// OllamaConfig 存储本地模型服务相关的配置。
type OllamaConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	// HealthTimeoutSec 仅作用于健康检查请求；流式请求不设读超时。
	HealthTimeoutSec int `mapstructure:"health_timeout_sec"`
}

// ChatConfig 存储对话业务相关的配置。
type ChatConfig struct {
	// MaxActiveChats 每个用户同时持有的活跃会话上限。
	MaxActiveChats int    `mapstructure:"max_active_chats"`
	DefaultTitle   string `mapstructure:"default_title"`
	// DefaultPageSize 消息历史分页的默认每页条数。
	DefaultPageSize int `mapstructure:"default_page_size"`
	// StreamLockTTLSec 每会话流式锁的过期秒数，防止崩溃后锁泄漏。
	StreamLockTTLSec int        `mapstructure:"stream_lock_ttl_sec"`
	SeedUser         SeedConfig `mapstructure:"seed_user"`
}

// SeedConfig 存储启动时写入的默认用户（本系统无认证，所有会话归属该用户）。
type SeedConfig struct {
	Email    string `mapstructure:"email"`
	Name     string `mapstructure:"name"`
	Password string `mapstructure:"password"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	applyDefaults()
}

// applyDefaults 为未配置的业务参数填充默认值。
func applyDefaults() {
	if Conf.Chat.MaxActiveChats <= 0 {
		Conf.Chat.MaxActiveChats = 5
	}
	if Conf.Chat.DefaultTitle == "" {
		Conf.Chat.DefaultTitle = "New Chat"
	}
	if Conf.Chat.DefaultPageSize <= 0 {
		Conf.Chat.DefaultPageSize = 20
	}
	if Conf.Chat.StreamLockTTLSec <= 0 {
		Conf.Chat.StreamLockTTLSec = 300
	}
	if Conf.Ollama.BaseURL == "" {
		Conf.Ollama.BaseURL = "http://127.0.0.1:11434"
	}
	if Conf.Ollama.Model == "" {
		Conf.Ollama.Model = "mistral"
	}
	if Conf.Ollama.HealthTimeoutSec <= 0 {
		Conf.Ollama.HealthTimeoutSec = 5
	}
}

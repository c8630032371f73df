package config

import "time"

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Logging    LoggingConfig    `yaml:"logging"`
	Generation GenerationConfig `yaml:"generation"`
	Security   SecurityConfig   `yaml:"security"`
	Parser     ParserConfig     `yaml:"parser"`
	Renderer   RendererConfig   `yaml:"renderer"`
	Redis      RedisConfig      `yaml:"redis"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	// RateLimit is a human rate such as "60 per minute". Empty disables limiting.
	RateLimit string `yaml:"rate_limit"`
}

type UpstreamConfig struct {
	URL            string            `yaml:"url"`
	APIKey         string            `yaml:"api_key"`
	ConnectTimeout time.Duration     `yaml:"connect_timeout"`
	ReadTimeout    time.Duration     `yaml:"read_timeout"`
	MaxRetries     int               `yaml:"max_retries"`
	PoolSize       int               `yaml:"pool_size"`
	Headers        map[string]string `yaml:"headers,omitempty"`
}

type LoggingConfig struct {
	Directory string `yaml:"directory"`
	MaxFiles  int    `yaml:"max_files"`
	Level     string `yaml:"level"`
}

// GenerationConfig holds the default sampling parameters and the bounds every
// forwarded value is clamped into.
type GenerationConfig struct {
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	TopK        int     `yaml:"top_k"`
	MaxTokens   int     `yaml:"max_tokens"`
	Bounds      Bounds  `yaml:"bounds"`
}

type Bounds struct {
	Temperature FloatRange `yaml:"temperature"`
	TopP        FloatRange `yaml:"top_p"`
	TopK        IntRange   `yaml:"top_k"`
	MaxTokens   IntRange   `yaml:"max_tokens"`
}

type FloatRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

type IntRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

type SecurityConfig struct {
	MaxMessages      int  `yaml:"max_messages"`
	MaxModelLength   int  `yaml:"max_model_length"`
	ValidateRequests bool `yaml:"validate_requests"`
}

type ParserConfig struct {
	Mode         string   `yaml:"mode"`
	IncludeTags  []string `yaml:"include_tags"`
	ExcludeTags  []string `yaml:"exclude_tags"`
	SettingsPath string   `yaml:"settings_path"`
}

type RendererConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Command     []string      `yaml:"command"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             5000,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     0, // streams may run for minutes
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Upstream: UpstreamConfig{
			URL:            "https://openrouter.ai/api/v1/chat/completions",
			ConnectTimeout: 5 * time.Second,
			ReadTimeout:    300 * time.Second,
			MaxRetries:     3,
			PoolSize:       10,
			Headers: map[string]string{
				"Referer": "https://janitorai.com/",
				"X-Title": "JanitorAI-Local-Proxy",
			},
		},
		Logging: LoggingConfig{
			Directory: "var/logs",
			MaxFiles:  1000,
			Level:     "info",
		},
		Generation: GenerationConfig{
			Temperature: 1.0,
			TopP:        1.0,
			TopK:        0,
			MaxTokens:   1024,
			Bounds: Bounds{
				Temperature: FloatRange{Min: 0, Max: 2},
				TopP:        FloatRange{Min: 0, Max: 1},
				TopK:        IntRange{Min: 0, Max: 200},
				MaxTokens:   IntRange{Min: 1, Max: 4096},
			},
		},
		Security: SecurityConfig{
			MaxMessages:      50,
			MaxModelLength:   100,
			ValidateRequests: true,
		},
		Parser: ParserConfig{
			Mode:         "default",
			SettingsPath: "var/state/parser_settings.json",
		},
		Renderer: RendererConfig{
			Enabled:     true,
			Command:     []string{"python3", "parser/parser.py"},
			Timeout:     60 * time.Second,
			Concurrency: 4,
		},
		Redis: RedisConfig{
			PoolSize: 10,
		},
	}
}

package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/xela07ax/approval-gateway/internal/domain"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config — корневая структура конфигурации шлюза.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Slack    SlackConfig    `mapstructure:"slack"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kube     KubeConfig     `mapstructure:"kube"`
	AWS      AWSConfig      `mapstructure:"aws"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Dedup    DedupConfig    `mapstructure:"dedup"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	MCP      MCPConfig      `mapstructure:"mcp"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CallbackPath    string        `mapstructure:"callback_path"` // Request URL интерактивных сообщений Slack
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SlackConfig — общий секрет подписи и канал уведомлений.
type SlackConfig struct {
	SigningSecret     string        `mapstructure:"signing_secret"`
	SigningSecretFile string        `mapstructure:"signing_secret_file"`
	WebhookURL        string        `mapstructure:"webhook_url"`
	Window            time.Duration `mapstructure:"window"`        // Окно свежести подписи
	MaxValueLen       int           `mapstructure:"max_value_len"` // Лимит значения кнопки
}

// AuditConfig: файл JSONL и/или PostgreSQL. Без обоих записи уходят в лог.
type AuditConfig struct {
	File          string        `mapstructure:"file"`
	MaxSizeMB     int           `mapstructure:"max_size_mb"` // Порог ротации, бэкапы не удаляются
	PostgresURL   string        `mapstructure:"postgres_url"`
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// RedisConfig описывает подключение к Redis (маркер однократности и заморозка).
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KubeConfig struct {
	Kubeconfig string        `mapstructure:"kubeconfig"`
	Context    string        `mapstructure:"context"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type AWSConfig struct {
	Region          string `mapstructure:"region"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Endpoint        string `mapstructure:"endpoint"`
}

// ExecutorConfig — защита вызовов исполнителей (rate limit, circuit breaker, таймаут).
type ExecutorConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	RatePerSec  float64       `mapstructure:"rate_per_sec"`
	Burst       int           `mapstructure:"burst"`
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
	Frozen      []string      `mapstructure:"frozen"` // Типы, замороженные со старта ("*" — все)
}

type NotifyConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	Attempts     uint          `mapstructure:"attempts"`
	RatePerSec   float64       `mapstructure:"rate_per_sec"`
	Burst        int           `mapstructure:"burst"`
	MaxRetryWait time.Duration `mapstructure:"max_retry_wait"`
}

// DedupConfig — маркер однократного исполнения подтверждения.
type DedupConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// PolicyConfig перекрывает встроенную таблицу "инструмент -> эффект".
type PolicyConfig struct {
	Actions []domain.ActionPolicy `mapstructure:"actions"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

type MCPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
// path — явный файл (флаг --config), пусто — поиск config.yaml.
func LoadConfig(path string) (*Config, error) {
	v, err := readViper(path)
	if err != nil {
		return nil, err
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Секрет подписи: ENV/файл конфига, иначе файл (Docker/K8s secret mount)
	if cfg.Slack.SigningSecret == "" {
		cfg.Slack.SigningSecret = strings.TrimSpace(string(loadSecretFile(cfg.Slack.SigningSecretFile)))
	}

	return &cfg, nil
}

func readViper(path string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// 2. ENV перекрывает файл: SLACK_SIGNING_SECRET перекроет slack.signing_secret
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}
	return v, nil
}

// WatchPolicy следит за файлом конфигурации и на каждое изменение отдаёт в apply
// свежую таблицу policy.actions. Остальные секции применяются только рестартом.
// Без файла (только ENV и дефолты) следить не за чем: возвращает false.
func WatchPolicy(path string, apply func([]domain.ActionPolicy), onError func(error)) (bool, error) {
	v, err := readViper(path)
	if err != nil {
		return false, err
	}
	file := v.ConfigFileUsed()
	if file == "" {
		return false, nil
	}
	if _, err := os.Stat(file); err != nil {
		return false, nil
	}

	v.OnConfigChange(func(fsnotify.Event) {
		// Редактор может усечь файл перед записью: пустое чтение не сбрасывает правила
		if info, err := os.Stat(file); err != nil || info.Size() == 0 {
			return
		}
		var pc PolicyConfig
		if err := v.UnmarshalKey("policy", &pc); err != nil {
			if onError != nil {
				onError(fmt.Errorf("decode policy: %w", err))
			}
			return
		}
		apply(pc.Actions)
	})
	v.WatchConfig()
	return true, nil
}

// Validate проверяет то, без чего шлюз не может работать безопасно.
func (c *Config) Validate() error {
	var errs []error
	if c.Slack.SigningSecret == "" {
		errs = append(errs, errors.New("slack.signing_secret is required"))
	}
	if c.Slack.WebhookURL == "" {
		errs = append(errs, errors.New("slack.webhook_url is required"))
	}
	if c.Slack.Window <= 0 {
		errs = append(errs, errors.New("slack.window must be positive"))
	}
	if !strings.HasPrefix(c.Server.CallbackPath, "/") {
		errs = append(errs, errors.New("server.callback_path must start with /"))
	}
	if c.MCP.Enabled && !strings.HasPrefix(c.MCP.Path, "/") {
		errs = append(errs, errors.New("mcp.path must start with /"))
	}
	if c.Dedup.Enabled && c.Dedup.TTL <= 0 {
		errs = append(errs, errors.New("dedup.ttl must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.callback_path", "/slack/actions")

	// Ключи без дефолта тоже регистрируем: иначе AutomaticEnv не видит их при Unmarshal
	v.SetDefault("slack.signing_secret", "")
	v.SetDefault("slack.signing_secret_file", "")
	v.SetDefault("slack.webhook_url", "")
	v.SetDefault("slack.window", 5*time.Minute)
	v.SetDefault("slack.max_value_len", 2000)

	v.SetDefault("audit.file", "")
	v.SetDefault("audit.max_size_mb", 100)
	v.SetDefault("audit.postgres_url", "")
	v.SetDefault("audit.buffer_size", 1000)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.flush_interval", 1*time.Second)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kube.kubeconfig", "")
	v.SetDefault("kube.context", "")
	v.SetDefault("kube.timeout", 30*time.Second)

	v.SetDefault("aws.region", "ap-northeast-2")
	v.SetDefault("aws.profile", "")
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("aws.endpoint", "")

	v.SetDefault("executor.timeout", 30*time.Second)
	v.SetDefault("executor.rate_per_sec", 5.0)
	v.SetDefault("executor.burst", 5)
	v.SetDefault("executor.max_failures", 5)
	v.SetDefault("executor.open_timeout", 30*time.Second)
	v.SetDefault("executor.frozen", []string{})

	v.SetDefault("notify.timeout", 10*time.Second)
	v.SetDefault("notify.attempts", 3)
	v.SetDefault("notify.rate_per_sec", 1.0)
	v.SetDefault("notify.burst", 3)
	v.SetDefault("notify.max_retry_wait", 30*time.Second)

	v.SetDefault("dedup.enabled", true)
	v.SetDefault("dedup.ttl", 24*time.Hour)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("mcp.enabled", true)
	v.SetDefault("mcp.path", "/mcp")
}

// loadSecretFile читает секрет, смонтированный файлом. Пустой путь или ошибка — nil.
func loadSecretFile(path string) []byte {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return data
}

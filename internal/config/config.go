// Package config loads the client configuration from defaults, an optional
// JSON file, the environment (including a .env file) and command-line flags,
// in that order of increasing priority, and validates the result.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	env "github.com/caarlos0/env/v6"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds every tunable of the flylink client.
type Config struct {
	// APIURL is the base URL of the remote shortener API.
	APIURL string `env:"FLYLINK_API_URL" validate:"required,url"`

	// RequestTimeout is the overall deadline of a single API call.
	RequestTimeout time.Duration `env:"FLYLINK_REQUEST_TIMEOUT" validate:"gt=0"`

	LogLevel string `env:"LOG_LEVEL" validate:"loglevel"`

	// StoragePath is the JSON file holding the durable session when Redis is not
	// configured. An empty path (-f "") keeps the session in memory only.
	StoragePath string `env:"FLYLINK_STORAGE_PATH" validate:"omitempty,filepath"`

	// RedisAddr switches the durable session storage to Redis when set.
	RedisAddr     string `env:"FLYLINK_REDIS_ADDR" validate:"omitempty,hostname_port"`
	RedisPassword string `env:"FLYLINK_REDIS_PASSWORD"`
	RedisDB       int    `env:"FLYLINK_REDIS_DB" validate:"gte=0"`

	// StorageNamespace separates sessions of different API origins sharing one storage.
	StorageNamespace string `env:"FLYLINK_STORAGE_NAMESPACE" validate:"required"`

	NotifyCoalesceWindow time.Duration `env:"FLYLINK_NOTIFY_COALESCE_WINDOW" validate:"gte=0"`
	CacheStaleTime       time.Duration `env:"FLYLINK_CACHE_STALE_TIME" validate:"gte=0"`

	// RetryDelay is the pause before retrying a failed GET. Zero disables retries.
	RetryDelay time.Duration `env:"FLYLINK_RETRY_DELAY" validate:"gte=0"`

	// ConfigFile is the optional JSON config path, taken from CONFIG or -c.
	ConfigFile string `env:"CONFIG"`

	// Args are the positional arguments left after flag parsing: the command and its own arguments.
	Args []string
}

var defaultConfig = Config{
	APIURL:               "http://localhost:8080",
	RequestTimeout:       10 * time.Second,
	LogLevel:             "warn",
	StoragePath:          defaultStoragePath(),
	StorageNamespace:     "flylink",
	NotifyCoalesceWindow: 2 * time.Second,
	CacheStaleTime:       5 * time.Minute,
	RetryDelay:           time.Second,
}

type fileConfig struct {
	APIURL               string `json:"api_url"`
	RequestTimeout       string `json:"request_timeout"`
	LogLevel             string `json:"log_level"`
	StoragePath          string `json:"storage_path"`
	RedisAddr            string `json:"redis_addr"`
	RedisPassword        string `json:"redis_password"`
	RedisDB              int    `json:"redis_db"`
	StorageNamespace     string `json:"storage_namespace"`
	NotifyCoalesceWindow string `json:"notify_coalesce_window"`
	CacheStaleTime       string `json:"cache_stale_time"`
	RetryDelay           string `json:"retry_delay"`
}

type InitOption func(*initOptions)

type initOptions struct {
	disableFlagsParsing bool
	args                []string
}

// WithDisableFlagsParsing skips command-line parsing entirely.
func WithDisableFlagsParsing(disableFlagsParsing bool) InitOption {
	return func(options *initOptions) {
		options.disableFlagsParsing = disableFlagsParsing
	}
}

// WithArgs parses the given arguments instead of os.Args[1:].
func WithArgs(args []string) InitOption {
	return func(options *initOptions) {
		options.args = args
	}
}

func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flylink-storage.json"
	}

	return filepath.Join(home, ".flylink", "storage.json")
}

func applyDefaults(values *Config, defaults Config) {
	if values.APIURL == "" {
		values.APIURL = defaults.APIURL
	}
	if values.RequestTimeout == 0 {
		values.RequestTimeout = defaults.RequestTimeout
	}
	if values.LogLevel == "" {
		values.LogLevel = defaults.LogLevel
	}
	if values.StoragePath == "" {
		values.StoragePath = defaults.StoragePath
	}
	if values.StorageNamespace == "" {
		values.StorageNamespace = defaults.StorageNamespace
	}
	if values.NotifyCoalesceWindow == 0 {
		values.NotifyCoalesceWindow = defaults.NotifyCoalesceWindow
	}
	if values.CacheStaleTime == 0 {
		values.CacheStaleTime = defaults.CacheStaleTime
	}
	if values.RetryDelay == 0 {
		values.RetryDelay = defaults.RetryDelay
	}
}

const retryDelayEnv = "FLYLINK_RETRY_DELAY"

func validateFilePath(fieldLevel validator.FieldLevel) bool {
	path := fieldLevel.Field().String()
	_, err := os.Stat(path)

	return err == nil || os.IsNotExist(err)
}

func validateLogLevel(fieldLevel validator.FieldLevel) bool {
	value := fieldLevel.Field().String()

	allowedLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}

	return allowedLogLevels[value]
}

func (c *Config) validate() error {
	validate := validator.New()

	err := validate.RegisterValidation("loglevel", validateLogLevel)
	if err != nil {
		return err
	}

	err = validate.RegisterValidation("filepath", validateFilePath)
	if err != nil {
		return err
	}

	return validate.Struct(c)
}

func parseDuration(name, value string, target *time.Duration) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s in config file: %w", name, err)
	}
	*target = d

	return nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file %q: %w", path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("error parsing config file %q: %w", path, err)
	}

	if fc.APIURL != "" {
		c.APIURL = fc.APIURL
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	if fc.StoragePath != "" {
		c.StoragePath = fc.StoragePath
	}
	if fc.RedisAddr != "" {
		c.RedisAddr = fc.RedisAddr
	}
	if fc.RedisPassword != "" {
		c.RedisPassword = fc.RedisPassword
	}
	if fc.RedisDB != 0 {
		c.RedisDB = fc.RedisDB
	}
	if fc.StorageNamespace != "" {
		c.StorageNamespace = fc.StorageNamespace
	}

	if err := parseDuration("request_timeout", fc.RequestTimeout, &c.RequestTimeout); err != nil {
		return err
	}
	if err := parseDuration("notify_coalesce_window", fc.NotifyCoalesceWindow, &c.NotifyCoalesceWindow); err != nil {
		return err
	}
	if err := parseDuration("cache_stale_time", fc.CacheStaleTime, &c.CacheStaleTime); err != nil {
		return err
	}

	return parseDuration("retry_delay", fc.RetryDelay, &c.RetryDelay)
}

func (c *Config) applyEnv(fromEnv Config) {
	if fromEnv.APIURL != "" {
		c.APIURL = fromEnv.APIURL
	}
	if fromEnv.RequestTimeout != 0 {
		c.RequestTimeout = fromEnv.RequestTimeout
	}
	if fromEnv.LogLevel != "" {
		c.LogLevel = fromEnv.LogLevel
	}
	if fromEnv.StoragePath != "" {
		c.StoragePath = fromEnv.StoragePath
	}
	if fromEnv.RedisAddr != "" {
		c.RedisAddr = fromEnv.RedisAddr
	}
	if fromEnv.RedisPassword != "" {
		c.RedisPassword = fromEnv.RedisPassword
	}
	if fromEnv.RedisDB != 0 {
		c.RedisDB = fromEnv.RedisDB
	}
	if fromEnv.StorageNamespace != "" {
		c.StorageNamespace = fromEnv.StorageNamespace
	}
	if fromEnv.NotifyCoalesceWindow != 0 {
		c.NotifyCoalesceWindow = fromEnv.NotifyCoalesceWindow
	}
	if fromEnv.CacheStaleTime != 0 {
		c.CacheStaleTime = fromEnv.CacheStaleTime
	}
	// An explicit zero turns retries off, so presence matters here.
	if value, ok := os.LookupEnv(retryDelayEnv); ok && value != "" {
		c.RetryDelay = fromEnv.RetryDelay
	}
}

// configFileFromArgs finds -c/-config before the flag set is built, since the
// file has to be applied before flags override it.
func configFileFromArgs(args []string) string {
	for i, arg := range args {
		switch arg {
		case "-c", "--c", "-config", "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		}
	}

	return ""
}

func (c *Config) parseFlags(args []string) error {
	flags := flag.NewFlagSet("flylink", flag.ContinueOnError)

	var configFile string
	flags.StringVar(&configFile, "c", c.ConfigFile, "path to a JSON config file")
	flags.StringVar(&c.APIURL, "api", c.APIURL, "base URL of the shortener API")
	flags.DurationVar(&c.RequestTimeout, "timeout", c.RequestTimeout, "overall deadline of one API request")
	flags.StringVar(&c.LogLevel, "l", c.LogLevel, "logger level")
	flags.StringVar(&c.StoragePath, "f", c.StoragePath, "JSON file holding the session")
	flags.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "Redis address (host:port) holding the session")
	flags.StringVar(&c.StorageNamespace, "ns", c.StorageNamespace, "session storage namespace")
	flags.DurationVar(&c.RetryDelay, "retry-delay", c.RetryDelay, "pause before retrying a failed GET, 0 disables retries")

	if err := flags.Parse(args); err != nil {
		return err
	}

	c.ConfigFile = configFile
	c.Args = flags.Args()

	return nil
}

// New builds a validated Config. Priority: flags > env > JSON file > defaults.
func New(optionsProto ...InitOption) (*Config, error) {
	options := &initOptions{
		disableFlagsParsing: false,
		args:                nil,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}
	if options.args == nil && len(os.Args) > 1 {
		options.args = os.Args[1:]
	}

	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Unable to load .env file: %v", err)
	}

	var valuesFromEnv Config
	err = env.Parse(&valuesFromEnv)
	if err != nil {
		return nil, err
	}

	values := &Config{}
	applyDefaults(values, defaultConfig)

	configFile := valuesFromEnv.ConfigFile
	if !options.disableFlagsParsing {
		if fromArgs := configFileFromArgs(options.args); fromArgs != "" {
			configFile = fromArgs
		}
	}
	values.ConfigFile = configFile

	if configFile != "" {
		if err := values.loadFile(configFile); err != nil {
			return nil, err
		}
	}

	values.applyEnv(valuesFromEnv)

	if options.disableFlagsParsing {
		values.Args = options.args
	} else if err := values.parseFlags(options.args); err != nil {
		return nil, err
	}

	if err := values.validate(); err != nil {
		return nil, err
	}

	return values, nil
}

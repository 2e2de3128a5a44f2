package env

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"insights/internal/errmsg"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DeploymentDev  = "dev"
	DeploymentTest = "test"
	DeploymentProd = "prod"
)

// MemoryStoreURI selects the in-process store instead of MongoDB. Data does
// not survive a restart; production deployments reject it.
const MemoryStoreURI = "memory://"

// DefaultRESTTimeout bounds every outbound GitHub REST call.
const DefaultRESTTimeout = 10 * time.Second

// Config is the process configuration. It is built once by Load and treated
// as read-only afterwards.
type Config struct {
	Deployment string `yaml:"deployment"`
	Version    string `yaml:"version"`

	GitHub   GitHub   `yaml:"github"`
	Mongo    Mongo    `yaml:"mongodb"`
	Redis    Redis    `yaml:"redis"`
	EventLog EventLog `yaml:"events"`

	StaticDir string `yaml:"static_dir"`
	Debug     bool   `yaml:"debug"`
	LogFile   string `yaml:"log_file"`
}

type GitHub struct {
	AppID          int64         `yaml:"app_id"`
	PrivateKeyPath string        `yaml:"private_key_path"`
	WebhookSecret  string        `yaml:"webhook_secret"`
	RESTTimeout    time.Duration `yaml:"rest_timeout"`
	// BaseURL points the REST client at GitHub Enterprise; empty means api.github.com.
	BaseURL string `yaml:"base_url"`
}

type Mongo struct {
	URI      string `yaml:"uri"`
	Address  string `yaml:"address"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EventLog selects where the audit trail goes and which categories are kept.
type EventLog struct {
	Path    string `yaml:"path"`
	Backend string `yaml:"backend"`

	LogWebhook       bool `yaml:"log_webhook"`
	LogWebhookErrors bool `yaml:"log_webhook_errors"`
	LogREST          bool `yaml:"log_rest"`
	LogRESTErrors    bool `yaml:"log_rest_errors"`
}

const (
	EventLogBackendFS    = "fs"
	EventLogBackendMongo = "mongo"
)

// Load reads <envRoot>/.env (if present), then the YAML file named by
// INSIGHTS_CONFIG (if set), then applies environment overrides.
func Load(envRoot string) (*Config, error) {
	if err := loadEnv(envRoot); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if path := strings.TrimSpace(os.Getenv("INSIGHTS_CONFIG")); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyOverrides(cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults(envRoot)

	return cfg, nil
}

func loadEnv(envRoot string) error {
	if envRoot == "" {
		envRoot = "."
	}

	path := filepath.Join(envRoot, ".env")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("%w: failed to load env file %s: %v", errmsg.ErrConfig, path, err)
	}

	return nil
}

func loadFile(path string, cfg *Config) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: config does not exist at path '%s'", errmsg.ErrConfig, path)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", errmsg.ErrConfig, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: config is not a file at path '%s'", errmsg.ErrConfig, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", errmsg.ErrConfig, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: unable to parse config %s: %v", errmsg.ErrConfig, path, err)
	}

	return nil
}

func applyOverrides(cfg *Config) error {
	setString(&cfg.Deployment, "DEPLOYMENT")
	setString(&cfg.Version, "VERSION")
	setString(&cfg.GitHub.PrivateKeyPath, "GITHUB_PRIVATE_KEY_PATH")
	setString(&cfg.GitHub.WebhookSecret, "GITHUB_WEBHOOK_SECRET")
	setString(&cfg.GitHub.BaseURL, "GITHUB_BASE_URL")
	setString(&cfg.Mongo.URI, "MONGO_URI")
	setString(&cfg.Mongo.Address, "MONGO_ADDRESS")
	setString(&cfg.Mongo.Username, "MONGO_USERNAME")
	setString(&cfg.Mongo.Password, "MONGO_PASSWORD")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.EventLog.Path, "EVENTLOG_PATH")
	setString(&cfg.EventLog.Backend, "EVENTLOG_BACKEND")
	setString(&cfg.StaticDir, "STATIC_DIR")
	setString(&cfg.LogFile, "INSIGHTS_LOG_FILE")

	if v, ok := lookup("GITHUB_APP_ID"); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: GITHUB_APP_ID: %v", errmsg.ErrConfig, err)
		}
		cfg.GitHub.AppID = id
	}

	if v, ok := lookup("GITHUB_REST_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: GITHUB_REST_TIMEOUT: %v", errmsg.ErrConfig, err)
		}
		cfg.GitHub.RESTTimeout = d
	}

	if v, ok := lookup("MONGO_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: MONGO_PORT: %v", errmsg.ErrConfig, err)
		}
		cfg.Mongo.Port = port
	}

	if v, ok := lookup("REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: REDIS_DB: %v", errmsg.ErrConfig, err)
		}
		cfg.Redis.DB = n
	}

	for name, dst := range map[string]*bool{
		"INSIGHTS_DEBUG":          &cfg.Debug,
		"EVENTLOG_WEBHOOK":        &cfg.EventLog.LogWebhook,
		"EVENTLOG_WEBHOOK_ERRORS": &cfg.EventLog.LogWebhookErrors,
		"EVENTLOG_REST":           &cfg.EventLog.LogREST,
		"EVENTLOG_REST_ERRORS":    &cfg.EventLog.LogRESTErrors,
	} {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", errmsg.ErrConfig, name, err)
		}
		*dst = b
	}

	return nil
}

func (c *Config) setDefaults(envRoot string) {
	if c.Deployment == "" {
		c.Deployment = DeploymentDev
	}
	if c.GitHub.RESTTimeout <= 0 {
		c.GitHub.RESTTimeout = DefaultRESTTimeout
	}
	if c.EventLog.Backend == "" {
		c.EventLog.Backend = EventLogBackendFS
	}
	if c.Mongo.Port == 0 {
		c.Mongo.Port = 27017
	}
	if c.Version == "" {
		c.Version = loadVersion(envRoot)
	}
}

// loadVersion reads the VERSION file next to the .env file.
func loadVersion(envRoot string) string {
	if envRoot == "" {
		envRoot = "."
	}

	data, err := os.ReadFile(filepath.Join(envRoot, "VERSION"))
	if err != nil {
		return "unknown"
	}

	if trimmed := strings.TrimSpace(string(data)); trimmed != "" {
		return trimmed
	}
	return "unknown"
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c.GitHub.AppID <= 0 {
		return fmt.Errorf("%w: github app id is required", errmsg.ErrConfig)
	}

	path := strings.TrimSpace(c.GitHub.PrivateKeyPath)
	if path == "" {
		return fmt.Errorf("%w: github private key path is required", errmsg.ErrConfig)
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("%w: bad GitHub App key file at '%s'", errmsg.ErrConfig, path)
	}

	if c.Mongo.URI == "" && c.Mongo.Address == "" {
		return fmt.Errorf("%w: mongodb uri or address is required", errmsg.ErrConfig)
	}
	if c.IsProduction() && c.Mongo.URI == MemoryStoreURI {
		return fmt.Errorf("%w: %s store is not allowed in production", errmsg.ErrConfig, MemoryStoreURI)
	}

	switch c.EventLog.Backend {
	case EventLogBackendFS, EventLogBackendMongo:
	default:
		return fmt.Errorf("%w: unknown event log backend %q", errmsg.ErrConfig, c.EventLog.Backend)
	}

	return nil
}

func (c *Config) IsTest() bool {
	return c.Deployment == DeploymentTest
}

func (c *Config) IsProduction() bool {
	return c.Deployment == DeploymentProd
}

// ConnectionURI returns the explicit URI when set, otherwise it assembles one
// from the address and credentials.
func (m Mongo) ConnectionURI() string {
	if m.URI != "" {
		return m.URI
	}

	host := fmt.Sprintf("%s:%d", m.Address, m.Port)
	if m.Username == "" {
		return "mongodb://" + host
	}

	return fmt.Sprintf(
		"mongodb://%s:%s@%s",
		url.QueryEscape(m.Username),
		url.QueryEscape(m.Password),
		host,
	)
}

// Enabled reports whether any category of the event log is switched on.
func (e EventLog) Enabled() bool {
	if e.Backend == EventLogBackendFS && e.Path == "" {
		return false
	}
	return e.LogWebhook || e.LogWebhookErrors || e.LogREST || e.LogRESTErrors
}

func setString(dst *string, name string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

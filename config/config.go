package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/slighter12/go-lib/database/postgres"
)

const (
	defaultPath               = "."
	defaultMaxRequestBodySize = "64KB"

	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"

	PubSubProviderNoop   = "noop"
	PubSubProviderLocal  = "local"
	PubSubProviderGoogle = "google"
	PubSubProviderNATS   = "nats"

	AuditSinkLog   = "log"
	AuditSinkRedis = "redis"
)

type Config struct {
	Env struct {
		Env         string `json:"env" yaml:"env"`
		ServiceName string `json:"serviceName" yaml:"serviceName"`
		Debug       bool   `json:"debug" yaml:"debug"`
		Log         Log    `json:"log" yaml:"log"`
	} `json:"env" yaml:"env"`

	HTTP struct {
		Port               int    `json:"port" yaml:"port"`
		MaxRequestBodySize string `json:"maxRequestBodySize" yaml:"maxRequestBodySize"`
		Timeouts           struct {
			ReadTimeout       time.Duration `json:"readTimeout" yaml:"readTimeout"`
			ReadHeaderTimeout time.Duration `json:"readHeaderTimeout" yaml:"readHeaderTimeout"`
			WriteTimeout      time.Duration `json:"writeTimeout" yaml:"writeTimeout"`
			IdleTimeout       time.Duration `json:"idleTimeout" yaml:"idleTimeout"`
		} `json:"timeouts" yaml:"timeouts"`
	} `json:"http" yaml:"http"`

	Storage StorageConfig `json:"storage" yaml:"storage"`

	Postgres *postgres.DBConn `json:"postgres" yaml:"postgres" mapstructure:"postgres"`

	// Redis holds the warm-connection flag shared between instances
	Redis *RedisConfig `json:"redis" yaml:"redis"`

	SecretKey SecretKeyConfig `json:"secretKey" yaml:"secretKey"`

	Token *TokenConfig `json:"token" yaml:"token"`

	Auth *AuthConfig `json:"auth" yaml:"auth"`

	PasswordStrength *PasswordStrengthConfig `json:"passwordStrength" yaml:"passwordStrength"`

	Authorizer *AuthorizerConfig `json:"authorizer" yaml:"authorizer"`

	// PubSub configuration for security event publishing
	PubSub *PubSubConfig `json:"pubsub" yaml:"pubsub"`

	// Worker configures the audit worker that consumes security events
	Worker *WorkerConfig `json:"worker" yaml:"worker"`
}

// StorageConfig selects the identity store
type StorageConfig struct {
	// Driver is "postgres" or "memory"
	Driver      string `json:"driver" yaml:"driver"`
	AutoMigrate bool   `json:"autoMigrate" yaml:"autoMigrate"`
}

type RedisConfig struct {
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	Addr        string        `json:"addr" yaml:"addr"`
	Password    string        `json:"password" yaml:"password"`
	DB          int           `json:"db" yaml:"db"`
	DialTimeout time.Duration `json:"dialTimeout" yaml:"dialTimeout"`
	WarmKey     string        `json:"warmKey" yaml:"warmKey"`
	WarmTTL     time.Duration `json:"warmTTL" yaml:"warmTTL"`
}

// SecretKeyConfig holds the two independent signing secrets
type SecretKeyConfig struct {
	Access  string `json:"access" yaml:"access"`
	Refresh string `json:"refresh" yaml:"refresh"`
}

type TokenConfig struct {
	Issuer     string        `json:"issuer" yaml:"issuer"`
	Audience   string        `json:"audience" yaml:"audience"`
	AccessTTL  time.Duration `json:"accessTTL" yaml:"accessTTL"`
	RefreshTTL time.Duration `json:"refreshTTL" yaml:"refreshTTL"`
}

// AuthConfig defines authentication-related configuration
type AuthConfig struct {
	BcryptCost       int           `json:"bcryptCost" yaml:"bcryptCost"`
	MaxRefreshTokens int           `json:"maxRefreshTokens" yaml:"maxRefreshTokens"`
	MaxLoginAttempts int           `json:"maxLoginAttempts" yaml:"maxLoginAttempts"`
	LockDuration     time.Duration `json:"lockDuration" yaml:"lockDuration"`
	ResetTokenTTL    time.Duration `json:"resetTokenTTL" yaml:"resetTokenTTL"`

	// RepositoryTimeout bounds every storage call made by a use case
	RepositoryTimeout time.Duration `json:"repositoryTimeout" yaml:"repositoryTimeout"`

	// RotateRefreshTokens issues a new refresh token on every refresh and revokes the old one
	RotateRefreshTokens bool `json:"rotateRefreshTokens" yaml:"rotateRefreshTokens"`

	// ExposeResetToken returns the password reset token in the HTTP response.
	// Only for deployments without an out-of-band delivery channel.
	ExposeResetToken bool `json:"exposeResetToken" yaml:"exposeResetToken"`
}

// PasswordStrengthConfig defines password strength requirements
type PasswordStrengthConfig struct {
	MinLength        int  `json:"minLength" yaml:"minLength"`
	RequireUppercase bool `json:"requireUppercase" yaml:"requireUppercase"`
	RequireLowercase bool `json:"requireLowercase" yaml:"requireLowercase"`
	RequireNumbers   bool `json:"requireNumbers" yaml:"requireNumbers"`
	RequireSpecial   bool `json:"requireSpecial" yaml:"requireSpecial"`
	MaxLength        int  `json:"maxLength" yaml:"maxLength"`
}

// AuthorizerConfig lists where a bearer credential may arrive, highest priority first
type AuthorizerConfig struct {
	IdentityHeaders []string `json:"identityHeaders" yaml:"identityHeaders"`
	LegacyHeader    string   `json:"legacyHeader" yaml:"legacyHeader"`
}

type Log struct {
	Pretty bool   `json:"pretty" yaml:"pretty"`
	Level  string `json:"level" yaml:"level"`
}

// PubSubConfig defines Pub/Sub configuration for security event publishing
type PubSubConfig struct {
	// Provider type: "noop", "local", "google" or "nats"
	Provider string `json:"provider" yaml:"provider"`

	// Google Cloud project ID (for google provider)
	ProjectID string `json:"projectId" yaml:"projectId"`

	// Pub/Sub topic ID (for google provider)
	TopicID string `json:"topicId" yaml:"topicId"`

	// Local HTTP endpoint for development (for local provider)
	LocalEndpoint string `json:"localEndpoint" yaml:"localEndpoint"`

	// NATS server URL and subject (for nats provider)
	NATSURL     string `json:"natsUrl" yaml:"natsUrl"`
	NATSSubject string `json:"natsSubject" yaml:"natsSubject"`
}

// WorkerConfig defines the audit worker
type WorkerConfig struct {
	Port int `json:"port" yaml:"port"`

	// VerifyPushAuth validates the Google-signed OIDC token on push requests
	VerifyPushAuth bool `json:"verifyPushAuth" yaml:"verifyPushAuth"`
	// PushAudience overrides the audience derived from the request URL
	PushAudience string `json:"pushAudience" yaml:"pushAudience"`

	// Sink is "log" or "redis"
	Sink              string `json:"sink" yaml:"sink"`
	AuditStream       string `json:"auditStream" yaml:"auditStream"`
	AuditStreamMaxLen int64  `json:"auditStreamMaxLen" yaml:"auditStreamMaxLen"`
}

// LoadWithEnv loads .yaml files through koanf.
func LoadWithEnv[T any](currEnv string, configPath ...string) (*T, error) {
	cfg := new(T)
	koanfInstance := koanf.New(".")

	searchPaths := []string{defaultPath}
	if len(configPath) != 0 {
		pwd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "os.Getwd")
		}
		for _, path := range configPath {
			searchPaths = append(searchPaths, filepath.Join(pwd, path))
		}
	}

	var configFile string
	for _, path := range searchPaths {
		candidate := filepath.Join(path, currEnv+".yaml")
		if _, err := os.Stat(candidate); err == nil {
			configFile = candidate

			break
		}
	}

	if configFile == "" {
		return nil, errors.Errorf("config file %s.yaml not found in any search path", currEnv)
	}

	if err := koanfInstance.Load(file.Provider(configFile), yaml.Parser()); err != nil {
		return nil, errors.Wrapf(err, "read %s config failed", currEnv)
	}

	existingConfigMap := koanfInstance.Raw()

	// ENV_VAR_NAME is mapped onto the existing YAML key casing,
	// e.g. AUTH_LOCKDURATION -> auth.lockDuration.
	if err := koanfInstance.Load(env.Provider(".", env.Opt{
		TransformFunc: func(k, v string) (string, any) {
			return canonicalizeEnvKey(k, existingConfigMap), v
		},
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load env variables failed")
	}

	if err := koanfInstance.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			MatchName: func(mapKey, fieldName string) bool {
				return strings.EqualFold(mapKey, fieldName)
			},
		},
	}); err != nil {
		return nil, errors.Wrapf(err, "unmarshal %s config failed", currEnv)
	}

	return cfg, nil
}

// New loads config.yaml, overlaid with the process environment and an optional .env file.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := LoadWithEnv[Config]("config", "config", "../config", "../../config")
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if cfg.Postgres != nil {
		cfg.Postgres.Replicas = buildReplicasFromEnv()
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.HTTP.MaxRequestBodySize) == "" {
		c.HTTP.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageDriverPostgres
	}

	if c.Token == nil {
		c.Token = &TokenConfig{}
	}
	c.Token.applyDefaults()

	if c.Auth == nil {
		c.Auth = &AuthConfig{}
	}
	c.Auth.applyDefaults()

	if c.Authorizer == nil {
		c.Authorizer = &AuthorizerConfig{}
	}
	if len(c.Authorizer.IdentityHeaders) == 0 {
		c.Authorizer.IdentityHeaders = []string{"Authorization"}
	}

	if c.PubSub == nil {
		c.PubSub = &PubSubConfig{Provider: PubSubProviderNoop}
	}

	if c.Worker == nil {
		c.Worker = &WorkerConfig{}
	}
	c.Worker.applyDefaults()
}

func (w *WorkerConfig) applyDefaults() {
	if w.Port == 0 {
		w.Port = 8081
	}
	if w.Sink == "" {
		w.Sink = AuditSinkLog
	}
	if w.AuditStream == "" {
		w.AuditStream = "gatekeeper:audit"
	}
	if w.AuditStreamMaxLen <= 0 {
		w.AuditStreamMaxLen = 100000
	}
}

func (t *TokenConfig) applyDefaults() {
	if t.Issuer == "" {
		t.Issuer = "gatekeeper"
	}
	if t.Audience == "" {
		t.Audience = "gatekeeper-api"
	}
	if t.AccessTTL <= 0 {
		t.AccessTTL = 15 * time.Minute
	}
	if t.RefreshTTL <= 0 {
		t.RefreshTTL = 7 * 24 * time.Hour
	}
}

func (a *AuthConfig) applyDefaults() {
	if a.MaxRefreshTokens <= 0 {
		a.MaxRefreshTokens = 5
	}
	if a.MaxLoginAttempts <= 0 {
		a.MaxLoginAttempts = 5
	}
	if a.LockDuration <= 0 {
		a.LockDuration = 30 * time.Minute
	}
	if a.ResetTokenTTL <= 0 {
		a.ResetTokenTTL = 10 * time.Minute
	}
	if a.RepositoryTimeout <= 0 {
		a.RepositoryTimeout = 3 * time.Second
	}
}

func canonicalizeEnvKey(rawKey string, existing map[string]any) string {
	segments := strings.Split(strings.ToLower(rawKey), "_")
	canonical := make([]string, 0, len(segments))
	current := existing

	for _, segment := range segments {
		if segment == "" {
			continue
		}

		if matched, next, ok := findExistingSegment(current, segment); ok {
			canonical = append(canonical, matched)
			current = next
		} else {
			canonical = append(canonical, segment)
			current = nil
		}
	}

	return strings.Join(canonical, ".")
}

func findExistingSegment(current map[string]any, segment string) (matched string, next map[string]any, ok bool) {
	if len(current) == 0 {
		return "", nil, false
	}

	needle := normalizeToken(segment)
	for key, value := range current {
		if normalizeToken(key) != needle {
			continue
		}

		child, _ := value.(map[string]any)

		return key, child, true
	}

	return "", nil, false
}

func normalizeToken(s string) string {
	var normalized strings.Builder
	normalized.Grow(len(s))

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		normalized.WriteRune(unicode.ToLower(r))
	}

	return normalized.String()
}

// buildReplicasFromEnv reads POSTGRES_REPLICAS_{index}_{HOST,PORT,USERNAME,PASSWORD}.
func buildReplicasFromEnv() []postgres.ConnectionConfig {
	var replicas []postgres.ConnectionConfig

	for i := 0; ; i++ {
		prefix := "POSTGRES_REPLICAS_" + strconv.Itoa(i) + "_"

		host := os.Getenv(prefix + "HOST")
		port := os.Getenv(prefix + "PORT")
		if host == "" || port == "" {
			break
		}

		replicas = append(replicas, postgres.ConnectionConfig{
			Host:     host,
			Port:     port,
			UserName: os.Getenv(prefix + "USERNAME"),
			Password: os.Getenv(prefix + "PASSWORD"),
		})
	}

	return replicas
}

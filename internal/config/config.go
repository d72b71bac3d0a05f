package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Repository host providers.
const (
	RepoHostGitHub = "github"
	RepoHostLocal  = "local"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName        string
	AppEnv         string
	AppPort        string
	PublicBaseURL  string
	DatabaseURL    string
	RedisURL       string
	NatsURL        string
	JWTSecret      string
	StatusCacheTTL time.Duration

	RepoHost             string
	RepoPrefix           string
	RepoPrivate          bool
	RepoBranch           string
	LocalRepoRoot        string
	GitHubToken          string
	GitHubOwner          string
	GitHubOrganization   bool
	GitHubAppID          int64
	GitHubInstallationID int64
	GitHubAppKeyPath     string
	GitHubBaseURL        string

	GradingBaseURL       string
	GradingWorkers       int
	GradingRetries       int
	GradingBrowsers      []string
	GradingRetentionDays int
	GradingNodeVersion   string
	GradingStartCommand  string
	GradingWebhookURL    string
	GradingWebhookSecret string
	MaterializeTimeout   time.Duration
	WebhookRateLimit     int
	SubmissionRateLimit  int
	RateLimitWindow      time.Duration

	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	CloudinaryFolder    string

	MailEndpoint        string
	MailAPIKey          string
	MailFrom            string
	NotificationQueue   int
	NotificationWorkers int
	NotificationSubject string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// AccessLink returns the candidate-facing URL for an assignment access token.
func (c Config) AccessLink(token string) string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/assessment/" + token
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ASSESS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Assessment API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("public.base_url", "http://localhost:3000")
	v.SetDefault("status.cache_ttl", "30s")
	v.SetDefault("repo.host", RepoHostLocal)
	v.SetDefault("repo.prefix", "grading")
	v.SetDefault("repo.private", true)
	v.SetDefault("repo.branch", "main")
	v.SetDefault("repo.local_root", "./data/repositories")
	v.SetDefault("grading.base_url", "http://localhost:3000")
	v.SetDefault("grading.workers", 1)
	v.SetDefault("grading.retries", 1)
	v.SetDefault("grading.browsers", "chromium")
	v.SetDefault("grading.retention_days", 7)
	v.SetDefault("grading.node_version", "20")
	v.SetDefault("grading.start_command", "npm start")
	v.SetDefault("grading.materialize_timeout", "2m")
	v.SetDefault("ratelimit.webhook", 120)
	v.SetDefault("ratelimit.submission", 10)
	v.SetDefault("ratelimit.window", "1m")
	v.SetDefault("cloudinary.folder", "assessment/screenshots")
	v.SetDefault("notification.queue", 64)
	v.SetDefault("notification.workers", 2)
	v.SetDefault("notification.subject", "assessment.notifications")

	cacheTTL, err := parseDuration(v, "status.cache_ttl", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	materializeTimeout, err := parseDuration(v, "grading.materialize_timeout", 2*time.Minute)
	if err != nil {
		return Config{}, err
	}
	rateWindow, err := parseDuration(v, "ratelimit.window", time.Minute)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:        v.GetString("app.name"),
		AppEnv:         v.GetString("app.env"),
		AppPort:        v.GetString("app.port"),
		PublicBaseURL:  v.GetString("public.base_url"),
		DatabaseURL:    v.GetString("database.url"),
		RedisURL:       v.GetString("redis.url"),
		NatsURL:        v.GetString("nats.url"),
		JWTSecret:      v.GetString("jwt.secret"),
		StatusCacheTTL: cacheTTL,

		RepoHost:             strings.ToLower(v.GetString("repo.host")),
		RepoPrefix:           v.GetString("repo.prefix"),
		RepoPrivate:          v.GetBool("repo.private"),
		RepoBranch:           v.GetString("repo.branch"),
		LocalRepoRoot:        v.GetString("repo.local_root"),
		GitHubToken:          v.GetString("github.token"),
		GitHubOwner:          v.GetString("github.owner"),
		GitHubOrganization:   v.GetBool("github.organization"),
		GitHubAppID:          v.GetInt64("github.app_id"),
		GitHubInstallationID: v.GetInt64("github.installation_id"),
		GitHubAppKeyPath:     v.GetString("github.app_key_path"),
		GitHubBaseURL:        v.GetString("github.base_url"),

		GradingBaseURL:       v.GetString("grading.base_url"),
		GradingWorkers:       v.GetInt("grading.workers"),
		GradingRetries:       v.GetInt("grading.retries"),
		GradingBrowsers:      splitList(v.GetString("grading.browsers")),
		GradingRetentionDays: v.GetInt("grading.retention_days"),
		GradingNodeVersion:   v.GetString("grading.node_version"),
		GradingStartCommand:  v.GetString("grading.start_command"),
		GradingWebhookURL:    v.GetString("grading.webhook_url"),
		GradingWebhookSecret: v.GetString("grading.webhook_secret"),
		MaterializeTimeout:   materializeTimeout,
		WebhookRateLimit:     v.GetInt("ratelimit.webhook"),
		SubmissionRateLimit:  v.GetInt("ratelimit.submission"),
		RateLimitWindow:      rateWindow,

		CloudinaryCloudName: v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:    v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret: v.GetString("cloudinary.api_secret"),
		CloudinaryFolder:    v.GetString("cloudinary.folder"),

		MailEndpoint:        v.GetString("mail.endpoint"),
		MailAPIKey:          v.GetString("mail.api_key"),
		MailFrom:            v.GetString("mail.from"),
		NotificationQueue:   v.GetInt("notification.queue"),
		NotificationWorkers: v.GetInt("notification.workers"),
		NotificationSubject: v.GetString("notification.subject"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.RepoHost {
	case RepoHostLocal:
	case RepoHostGitHub:
		if cfg.GitHubOwner == "" {
			return Config{}, fmt.Errorf("github owner must be provided when repo host is github")
		}
	default:
		return Config{}, fmt.Errorf("unsupported repo host %q", cfg.RepoHost)
	}

	if cfg.GradingWebhookURL == "" {
		cfg.GradingWebhookURL = "http://localhost:" + strings.TrimPrefix(cfg.AppPort, ":") + "/api/v2/webhooks/test-results"
	}

	if cfg.NotificationWorkers <= 0 {
		cfg.NotificationWorkers = 1
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

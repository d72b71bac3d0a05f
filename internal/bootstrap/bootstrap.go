// Package bootstrap builds the grading collaborators shared by the API server and the
// gradectl CLI from configuration.
package bootstrap

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/assessment-api/internal/config"
	"github.com/noah-isme/assessment-api/internal/service"
	"github.com/noah-isme/assessment-api/pkg/cloudinary"
	"github.com/noah-isme/assessment-api/pkg/mailer"
	"github.com/noah-isme/assessment-api/pkg/pipeline"
	"github.com/noah-isme/assessment-api/pkg/repohost"
)

// RepositoryHost returns the configured repository host.
func RepositoryHost(cfg config.Config, logger zerolog.Logger) (service.RepositoryHost, error) {
	switch cfg.RepoHost {
	case config.RepoHostGitHub:
		host, err := repohost.NewGitHub(repohost.GitHubConfig{
			Token:             cfg.GitHubToken,
			Owner:             cfg.GitHubOwner,
			Organization:      cfg.GitHubOrganization,
			AppID:             cfg.GitHubAppID,
			InstallationID:    cfg.GitHubInstallationID,
			AppPrivateKeyPath: cfg.GitHubAppKeyPath,
			BaseURL:           cfg.GitHubBaseURL,
			Private:           cfg.RepoPrivate,
			DefaultBranch:     cfg.RepoBranch,
		}, logger)
		if err != nil {
			return nil, err
		}
		return host, nil
	case config.RepoHostLocal, "":
		host, err := repohost.NewLocal(cfg.LocalRepoRoot, cfg.RepoBranch)
		if err != nil {
			return nil, err
		}
		return host, nil
	default:
		return nil, fmt.Errorf("unsupported repo host %q", cfg.RepoHost)
	}
}

// GradingSettings derives materializer settings from configuration.
func GradingSettings(cfg config.Config) service.GradingSettings {
	return service.GradingSettings{
		RepoPrefix:    cfg.RepoPrefix,
		Branch:        cfg.RepoBranch,
		WebhookSecret: cfg.GradingWebhookSecret,
		Pipeline: pipeline.Params{
			BaseURL:               cfg.GradingBaseURL,
			Workers:               cfg.GradingWorkers,
			Retries:               cfg.GradingRetries,
			Browsers:              cfg.GradingBrowsers,
			ArtifactRetentionDays: cfg.GradingRetentionDays,
			NodeVersion:           cfg.GradingNodeVersion,
			StartCommand:          cfg.GradingStartCommand,
			WebhookURL:            cfg.GradingWebhookURL,
		},
	}
}

// ScreenshotStore returns the Cloudinary store, or nil when no credentials are configured.
func ScreenshotStore(cfg config.Config, logger zerolog.Logger) (service.ScreenshotStore, error) {
	settings := cloudinary.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryFolder,
	}
	if !settings.Configured() {
		logger.Warn().Msg("cloudinary not configured, CI screenshots are not kept")
		return nil, nil
	}
	store, err := cloudinary.New(settings, logger)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// MailSender returns the HTTP email sender when an endpoint is configured and a logging
// sender otherwise.
func MailSender(cfg config.Config, logger zerolog.Logger) (mailer.Sender, error) {
	if strings.TrimSpace(cfg.MailEndpoint) == "" {
		logger.Warn().Msg("mail endpoint not configured, notifications are only logged")
		return mailer.NewLogSender(logger), nil
	}
	sender, err := mailer.NewHTTPSender(mailer.HTTPConfig{
		Endpoint: cfg.MailEndpoint,
		APIKey:   cfg.MailAPIKey,
		From:     cfg.MailFrom,
	})
	if err != nil {
		return nil, err
	}
	return sender, nil
}

package bootstrap

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/assessment-api/internal/config"
	"github.com/noah-isme/assessment-api/pkg/cloudinary"
	"github.com/noah-isme/assessment-api/pkg/mailer"
	"github.com/noah-isme/assessment-api/pkg/repohost"
)

func TestRepositoryHostSelection(t *testing.T) {
	host, err := RepositoryHost(config.Config{RepoHost: config.RepoHostLocal, LocalRepoRoot: t.TempDir(), RepoBranch: "main"}, zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &repohost.Local{}, host)

	host, err = RepositoryHost(config.Config{RepoHost: config.RepoHostGitHub, GitHubOwner: "acme", GitHubToken: "ghp_test"}, zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &repohost.GitHub{}, host)

	_, err = RepositoryHost(config.Config{RepoHost: config.RepoHostGitHub, GitHubOwner: "acme"}, zerolog.Nop())
	require.Error(t, err)

	_, err = RepositoryHost(config.Config{RepoHost: "gitlab"}, zerolog.Nop())
	require.Error(t, err)
}

func TestGradingSettingsCarryPipelineKnobs(t *testing.T) {
	settings := GradingSettings(config.Config{
		RepoPrefix:           "grading",
		RepoBranch:           "main",
		GradingWebhookSecret: "secret",
		GradingBrowsers:      []string{"chromium", "webkit"},
		GradingWorkers:       2,
		GradingWebhookURL:    "https://assess.test/api/v2/webhooks/test-results",
	})
	require.Equal(t, "grading", settings.RepoPrefix)
	require.Equal(t, "secret", settings.WebhookSecret)
	require.Equal(t, []string{"chromium", "webkit"}, settings.Pipeline.Browsers)
	require.Equal(t, 2, settings.Pipeline.Workers)
	require.Equal(t, "https://assess.test/api/v2/webhooks/test-results", settings.Pipeline.WebhookURL)
}

func TestScreenshotStoreRequiresCredentials(t *testing.T) {
	store, err := ScreenshotStore(config.Config{CloudinaryCloudName: "demo"}, zerolog.Nop())
	require.NoError(t, err)
	require.Nil(t, store)

	store, err = ScreenshotStore(config.Config{
		CloudinaryCloudName: "demo",
		CloudinaryAPIKey:    "key",
		CloudinaryAPISecret: "secret",
		CloudinaryFolder:    "assessment/screenshots",
	}, zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &cloudinary.Store{}, store)
}

func TestMailSenderFallsBackToLogging(t *testing.T) {
	sender, err := MailSender(config.Config{}, zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &mailer.LogSender{}, sender)

	sender, err = MailSender(config.Config{MailEndpoint: "https://mail.test/send", MailAPIKey: "key"}, zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &mailer.HTTPSender{}, sender)

	_, err = MailSender(config.Config{MailEndpoint: "https://mail.test/send"}, zerolog.Nop())
	require.Error(t, err)
}

// Package cloudinary re-hosts grading screenshots that only exist on the CI runner.
package cloudinary

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"

	"github.com/noah-isme/assessment-api/pkg/provider"
)

const providerName = "cloudinary"

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	// UploadPrefix overrides the API origin, e.g. for a regional endpoint.
	UploadPrefix string
}

// Configured reports whether enough credentials are present to upload.
func (c Config) Configured() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// Store uploads screenshots and hands back their public URLs.
type Store struct {
	client *cloudinary.Cloudinary
	folder string
	logger zerolog.Logger
}

// New constructs a Cloudinary store.
func New(cfg Config, logger zerolog.Logger) (*Store, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}
	if cfg.UploadPrefix != "" {
		cld.Config.API.UploadPrefix = strings.TrimRight(cfg.UploadPrefix, "/")
	}

	return &Store{
		client: cld,
		folder: strings.Trim(cfg.Folder, "/"),
		logger: logger.With().Str("component", "cloudinary").Logger(),
	}, nil
}

// Upload stores an image under a public id derived from name. Uploading the same name
// again overwrites the asset, so redelivered results do not pile up copies.
func (s *Store) Upload(ctx context.Context, name string, content io.Reader) (string, error) {
	publicID := PublicID(name)

	result, err := s.client.Upload.Upload(ctx, content, uploader.UploadParams{
		Folder:       s.folder,
		PublicID:     publicID,
		ResourceType: "image",
		Overwrite:    api.Bool(true),
	})
	if err != nil {
		return "", provider.Wrap(providerName, "upload", err)
	}
	if result.Error.Message != "" {
		return "", provider.Wrap(providerName, "upload", fmt.Errorf("%s", result.Error.Message))
	}

	s.logger.Debug().Str("public_id", result.PublicID).Msg("screenshot uploaded")
	return result.SecureURL, nil
}

// PublicID strips the extension and replaces everything but ASCII letters and digits.
func PublicID(name string) string {
	base := strings.TrimSuffix(name, path.Ext(name))
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, base)

	base = strings.Trim(base, "-")
	if base == "" {
		return "screenshot"
	}
	return base
}

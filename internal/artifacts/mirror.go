package artifacts

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// MirrorConfig configures the optional S3 mirror for final analysis
// artifacts. An empty bucket disables mirroring.
type MirrorConfig struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // S3-compatible stores
	AccessKeyID     string
	SecretAccessKey string
}

// Mirror uploads analysis artifacts to object storage so reports survive
// volume reclamation.
type Mirror struct {
	client *s3.Client
	bucket string
	prefix string
	log    zerolog.Logger
}

// NewMirror builds an S3 client from the config. Credentials fall back to
// the SDK's default chain when not set explicitly.
func NewMirror(ctx context.Context, cfg MirrorConfig, log zerolog.Logger) (*Mirror, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("mirror bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Mirror{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		log:    log.With().Str("component", "artifact_mirror").Logger(),
	}, nil
}

// Upload puts one local file under the mirror's prefix.
func (m *Mirror) Upload(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %q for mirroring: %w", localPath, err)
	}
	defer f.Close()

	key := path.Join(m.prefix, filepath.Base(localPath))
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("mirroring %q to s3://%s/%s: %w", localPath, m.bucket, key, err)
	}

	m.log.Debug().Str("key", key).Msg("Mirrored artifact")
	return nil
}

// MirrorAnalysis uploads every analysis artifact of the store.
func (m *Mirror) MirrorAnalysis(ctx context.Context, store *Store) error {
	paths, err := store.AnalysisFiles()
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := m.Upload(ctx, p); err != nil {
			return err
		}
	}
	m.log.Info().Int("files", len(paths)).Str("bucket", m.bucket).Msg("Analysis artifacts mirrored")
	return nil
}

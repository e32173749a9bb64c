package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// FolderCards is the S3 prefix of generated card images.
const FolderCards = "cards"

const presignTimeout = 5 * time.Second

// S3Config holds S3 client configuration.
type S3Config struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	CardsBucket          string
	// Public links card images directly instead of signing them.
	Public               bool
	PresignExpireMinutes int
}

// CardImages hands out pre-signed GET URLs for generated card images. URLs are
// cached per file for half their lifetime so repeated renders of the same table
// yield the same src. Expired entries are pruned as new URLs are signed.
type CardImages struct {
	presign *s3.PresignClient
	cfg     S3Config
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	cache     map[string]presigned
	nextPrune time.Time
}

type presigned struct {
	url     string
	renewAt time.Time
}

// NewCardImages creates an S3 presigner using credentials from config or .env (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY).
func NewCardImages(ctx context.Context, cfg S3Config, logger *zap.Logger) (*CardImages, error) {
	if cfg.CardsBucket == "" {
		return nil, fmt.Errorf("cards bucket is not configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
		logger.Info("S3 card images using credentials from .env/config", zap.String("region", cfg.Region), zap.String("bucket", cfg.CardsBucket))
	} else {
		logger.Warn("S3 card images using default credential chain (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &CardImages{
		presign: s3.NewPresignClient(s3.NewFromConfig(awsCfg)),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		cache:   map[string]presigned{},
	}, nil
}

// CardKey returns the S3 object key: cards/{filename}.
func CardKey(filename string) string {
	return path.Join(FolderCards, path.Base(filename))
}

// PresignExpire returns the configured presign duration.
func (s *CardImages) PresignExpire() time.Duration {
	if s.cfg.PresignExpireMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.cfg.PresignExpireMinutes) * time.Minute
}

// CardURL returns a pre-signed GET URL for a card image, or "" when signing
// fails. Signing is local; no request reaches S3. A public bucket gets the
// unsigned object URL.
func (s *CardImages) CardURL(filename string) string {
	if s.cfg.Public {
		return s.PublicObjectURL(filename)
	}
	key := CardKey(filename)
	now := s.now()

	s.mu.Lock()
	if p, ok := s.cache[key]; ok && now.Before(p.renewAt) {
		s.mu.Unlock()
		return p.url
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), presignTimeout)
	defer cancel()
	url, err := s.GeneratePresignedDownloadURL(ctx, key, s.PresignExpire())
	if err != nil {
		s.logger.Warn("presign card image", zap.String("key", key), zap.Error(err))
		return ""
	}

	s.mu.Lock()
	s.pruneLocked(now)
	s.cache[key] = presigned{url: url, renewAt: now.Add(s.PresignExpire() / 2)}
	s.mu.Unlock()
	return url
}

// pruneLocked drops entries past their renewal time, at most once per
// renewal period.
func (s *CardImages) pruneLocked(now time.Time) {
	if now.Before(s.nextPrune) {
		return
	}
	for key, p := range s.cache {
		if !now.Before(p.renewAt) {
			delete(s.cache, key)
		}
	}
	s.nextPrune = now.Add(s.PresignExpire() / 2)
}

// GeneratePresignedDownloadURL returns a pre-signed GET URL for an object in the cards bucket.
func (s *CardImages) GeneratePresignedDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.CardsBucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}

// PublicObjectURL returns the unsigned URL of a card image (use when the bucket is public).
func (s *CardImages) PublicObjectURL(filename string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.CardsBucket, s.cfg.Region, CardKey(filename))
}

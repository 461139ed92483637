package storage

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"casefile/config"
)

// NewS3Client erstellt einen S3-Client für den konfigurierten Endpunkt.
func NewS3Client(cfg *config.Config) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.CaseS3URL,
				SigningRegion:     cfg.CaseS3Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.CaseS3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.CaseS3Key, cfg.CaseS3Secret, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg), nil
}

// ObjectStore ist die schmale Upload-Schnittstelle der Media-Pipeline.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (string, error)
}

// S3Store implementiert ObjectStore über den AWS-SDK-Client.
type S3Store struct {
	Client *s3.Client
	Config *config.Config
}

// NewS3Store erstellt einen S3Store.
func NewS3Store(client *s3.Client, cfg *config.Config) *S3Store {
	return &S3Store{Client: client, Config: cfg}
}

// Upload lädt ein Objekt hoch und gibt die öffentliche URL zurück.
func (s *S3Store) Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (string, error) {
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Config.CaseS3Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata:    metadata,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", s.Config.CaseS3URL, s.Config.CaseS3Bucket, key), nil
}

var keyUnsafe = regexp.MustCompile(`[^a-z0-9-]+`)

// slugify macht aus einem Pfadfragment einen sicheren Key-Bestandteil.
func slugify(fragment string) string {
	s := strings.ToLower(strings.TrimSpace(fragment))
	s = strings.ReplaceAll(s, " ", "-")
	return keyUnsafe.ReplaceAllString(s, "")
}

// DeriveKey leitet den Objekt-Key deterministisch aus Fallkontext, Asset-Typ,
// Zeitstempel, Zufallssuffix und Endung ab.
func DeriveKey(state, county, caseID, assetType, ext string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("cases/%s/%s/%s/%s-%d-%s%s",
		slugify(state), slugify(county), slugify(caseID),
		assetType, time.Now().Unix(), suffix, ext)
}

package infra

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"asset-gateway/middleware/domain"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig controla o backend de object storage compatível com S3.
type MinioConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Insecure        bool
	Transport       http.RoundTripper
}

// MinioObjects implementa domain.ObjectStore e domain.Presigner.
type MinioObjects struct {
	client *minio.Client
	bucket string
}

func NewMinioObjects(cfg MinioConfig) (*MinioObjects, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: STORAGE_BUCKET is required", domain.ErrConfiguration)
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.Region != "" {
			endpoint = fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region)
		} else {
			endpoint = "s3.amazonaws.com"
		}
	}
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")

	var creds *credentials.Credentials
	if cfg.AccessKeyID != "" {
		creds = credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.IAM{},
		})
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:        creds,
		Secure:       !cfg.Insecure,
		Region:       cfg.Region,
		Transport:    cfg.Transport,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	return &MinioObjects{client: client, bucket: cfg.Bucket}, nil
}

// Client expõe o cliente para diagnósticos e testes.
func (m *MinioObjects) Client() *minio.Client { return m.client }

func (m *MinioObjects) GetObject(ctx context.Context, key string) (domain.Object, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return domain.Object{}, fmt.Errorf("s3: get object: %w", err)
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if isNoSuchKey(err) {
			return domain.Object{}, fmt.Errorf("s3: %s: %w", key, domain.ErrAssetNotFound)
		}
		return domain.Object{}, fmt.Errorf("s3: stat object: %w", err)
	}
	return domain.Object{
		Body:         obj,
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}, nil
}

// PresignGet gera a URL temporária nativa do backend, com overrides de
// Content-Disposition/Content-Type aplicados pelo próprio S3.
func (m *MinioObjects) PresignGet(ctx context.Context, key string, opts domain.PresignOptions) (string, error) {
	params := url.Values{}
	if opts.ContentDisposition != "" {
		params.Set("response-content-disposition", opts.ContentDisposition)
	}
	if opts.ContentType != "" {
		params.Set("response-content-type", opts.ContentType)
	}
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, opts.TTL, params)
	if err != nil {
		return "", fmt.Errorf("s3: presign: %w", err)
	}
	return u.String(), nil
}

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
	}
	return false
}

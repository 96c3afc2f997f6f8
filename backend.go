package ecgstore

import (
	"context"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Backend defines the interface for blob storage implementations.
// Documents, attachments and the audit log all live behind this interface,
// so the service runs unchanged on a local filesystem or any S3-compatible
// object store.
type Backend interface {
	// Object operations
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Conditional operations (for optimistic locking).
	// Returns ETag after successful put.
	PutIfMatch(ctx context.Context, key string, data []byte, expectedETag string) (string, error)
	GetWithETag(ctx context.Context, key string) (data []byte, etag string, err error)

	// List operations
	List(ctx context.Context, prefix string) ([]string, error)
	ListPaginated(ctx context.Context, prefix string, handler func(keys []string) error) error

	// Streaming (for exam attachments)
	GetStream(ctx context.Context, key string) (io.ReadCloser, error)
	PutStream(ctx context.Context, key string, reader io.Reader, size int64) error

	// Append operations (for the JSONL audit log).
	// Appends data to existing key, or creates it if absent.
	Append(ctx context.Context, key string, data []byte) error

	// Health check
	Ping(ctx context.Context) error

	// Resource cleanup
	Close() error
}

// BackendConfig holds configuration for any backend
type BackendConfig struct {
	Type     string // "s3" or "filesystem"
	Bucket   string // S3 bucket or base directory
	Region   string // AWS region (S3 only)
	Endpoint string // Custom endpoint for S3-compatible services (MinIO etc.)
}

// Validate checks if the BackendConfig is valid
func (c BackendConfig) Validate() error {
	if c.Type == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Type",
			"reason": "backend type is required",
		})
	}
	if c.Bucket == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Bucket",
			"reason": "bucket/base path is required",
		})
	}

	switch c.Type {
	case "s3":
		if c.Region == "" && c.Endpoint == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "Region/Endpoint",
				"reason": "S3 backend requires either Region or Endpoint",
			})
		}
	case "filesystem":
		// No additional validation needed
	default:
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Type",
			"value":  c.Type,
			"reason": "unknown backend type",
		})
	}

	return nil
}

// NewBackend builds a Backend from configuration.
// For "s3" with a custom Endpoint, path-style addressing is enabled so
// MinIO and other S3-compatible stores work out of the box.
func NewBackend(ctx context.Context, c BackendConfig) (Backend, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	switch c.Type {
	case "filesystem":
		return NewFilesystemBackend(c.Bucket), nil
	case "s3":
		opts := []func(*awsconfig.LoadOptions) error{}
		if c.Region != "" {
			opts = append(opts, awsconfig.WithRegion(c.Region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "s3",
				"reason": err.Error(),
			})
		}
		client := s3.NewFromConfig(cfg, func(o *s3.Options) {
			if c.Endpoint != "" {
				o.BaseEndpoint = &c.Endpoint
				o.UsePathStyle = true
			}
		})
		return NewS3Backend(client, c.Bucket), nil
	}

	return nil, ErrInvalidConfig
}

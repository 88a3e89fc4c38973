package proof

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
)

// MaxSize bounds an uploaded receipt image.
const MaxSize = 10 << 20

// ErrUnsupportedType is returned for uploads that are not images.
var ErrUnsupportedType = errors.New("proof must be a jpeg, png or webp image")

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Store persists receipt images and returns an opaque reference.
type Store interface {
	Put(ctx context.Context, bookingID int64, data []byte) (string, error)
}

// Sniff validates data and returns its content type and file extension.
func Sniff(data []byte) (string, string, error) {
	if len(data) == 0 {
		return "", "", errors.New("proof is empty")
	}
	if len(data) > MaxSize {
		return "", "", fmt.Errorf("proof exceeds %d bytes", MaxSize)
	}
	ct := http.DetectContentType(data)
	ext, ok := extensions[ct]
	if !ok {
		return "", "", ErrUnsupportedType
	}
	return ct, ext, nil
}

func objectName(bookingID int64, ext string) string {
	return fmt.Sprintf("booking_%d_%d_%s%s", bookingID, time.Now().Unix(), uuid.NewString()[:8], ext)
}

// S3Config configures an S3 compatible bucket.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Folder    string
	PublicURL string
}

type putter interface {
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

// S3Store uploads receipts to an S3 compatible object store.
type S3Store struct {
	client putter
	cfg    S3Config
}

// NewS3Store builds a store with static credentials.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("proof: bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	awsCfg := &aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("proof: s3 session: %w", err)
	}
	return &S3Store{client: s3.New(sess), cfg: cfg}, nil
}

// Put uploads data and returns its public URL (or object key when no
// public base URL is configured).
func (s *S3Store) Put(ctx context.Context, bookingID int64, data []byte) (string, error) {
	ct, ext, err := Sniff(data)
	if err != nil {
		return "", err
	}
	key := path.Join(strings.Trim(s.cfg.Folder, "/"), objectName(bookingID, ext))
	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(ct),
	})
	if err != nil {
		return "", fmt.Errorf("proof: upload to s3: %w", err)
	}
	if s.cfg.PublicURL == "" {
		return key, nil
	}
	return strings.TrimRight(s.cfg.PublicURL, "/") + "/" + key, nil
}

// DirStore writes receipts below a local directory.
type DirStore struct {
	root   string
	prefix string
}

// NewDirStore creates a store rooted at root, served under urlPrefix.
func NewDirStore(root, urlPrefix string) *DirStore {
	return &DirStore{root: root, prefix: urlPrefix}
}

// Put writes data to disk and returns its public path.
func (d *DirStore) Put(ctx context.Context, bookingID int64, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	_, ext, err := Sniff(data)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return "", err
	}
	name := objectName(bookingID, ext)
	if err := os.WriteFile(filepath.Join(d.root, name), data, 0o644); err != nil {
		return "", err
	}
	return strings.TrimRight(d.prefix, "/") + "/" + name, nil
}

package proof

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type stubPutter struct {
	input *s3.PutObjectInput
	err   error
}

func (s *stubPutter) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	s.input = in
	return &s3.PutObjectOutput{}, s.err
}

func TestSniff(t *testing.T) {
	ct, ext, err := Sniff(pngHeader)
	if err != nil {
		t.Fatalf("Sniff: %v", err)
	}
	if ct != "image/png" || ext != ".png" {
		t.Fatalf("unexpected type %s %s", ct, ext)
	}
	if _, _, err := Sniff([]byte("plain text")); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected unsupported type, got %v", err)
	}
	if _, _, err := Sniff(nil); err == nil {
		t.Fatal("empty proof must be rejected")
	}
}

func TestS3StorePut(t *testing.T) {
	p := &stubPutter{}
	store := &S3Store{client: p, cfg: S3Config{Bucket: "receipts", Folder: "/proofs/", PublicURL: "https://cdn.example.com/"}}
	ref, err := store.Put(context.Background(), 12, pngHeader)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if aws.StringValue(p.input.Bucket) != "receipts" || aws.StringValue(p.input.ContentType) != "image/png" {
		t.Fatalf("unexpected input %+v", p.input)
	}
	key := aws.StringValue(p.input.Key)
	if !strings.HasPrefix(key, "proofs/booking_12_") || !strings.HasSuffix(key, ".png") {
		t.Fatalf("unexpected key %s", key)
	}
	if ref != "https://cdn.example.com/"+key {
		t.Fatalf("unexpected ref %s", ref)
	}

	p.err = errors.New("denied")
	if _, err := store.Put(context.Background(), 12, pngHeader); err == nil {
		t.Fatal("expected upload error")
	}
}

func TestDirStorePut(t *testing.T) {
	dir := t.TempDir()
	store := NewDirStore(dir, "/uploads/proofs")
	ref, err := store.Put(context.Background(), 3, pngHeader)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(ref, "/uploads/proofs/booking_3_") {
		t.Fatalf("unexpected ref %s", ref)
	}
	data, err := os.ReadFile(filepath.Join(dir, filepath.Base(ref)))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != string(pngHeader) {
		t.Fatal("stored content mismatch")
	}
}

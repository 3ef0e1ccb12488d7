package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store is a Store backed by an S3 bucket. Every object under the prefix is
// one queued request.
type S3Store struct {
	client s3API

	bucket    string
	bucketPtr *string
	prefix    string
}

// NewS3Store returns a Store over bucket. Keys returned by ListKeys keep the
// prefix, so they can be passed back to ReadEntry and DeleteEntry unchanged.
func NewS3Store(client s3API, bucket, prefix string) *S3Store {
	if client == nil {
		panic("s3 client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		panic("bucket is required")
	}

	s := &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.TrimLeft(prefix, "/"),
	}
	s.bucketPtr = &s.bucket
	return s
}

func (s *S3Store) ListKeys(ctx context.Context) ([]string, error) {
	in := &s3.ListObjectsV2Input{Bucket: s.bucketPtr}
	if s.prefix != "" {
		in.Prefix = aws.String(s.prefix)
	}

	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, in)
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3 keys bucket=%q: %w", s.bucket, err)
		}
		for _, obj := range out.Contents {
			k := aws.ToString(obj.Key)
			// "Directory" placeholder objects are not requests.
			if k == "" || strings.HasSuffix(k, "/") {
				continue
			}
			keys = append(keys, k)
		}
	}

	// S3 already lists in UTF-8 binary order; sort anyway so the contract does
	// not depend on the backend.
	sort.Strings(keys)
	return keys, nil
}

func (s *S3Store) ReadEntry(ctx context.Context, key string) (Entry, error) {
	keyVar := key
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: s.bucketPtr,
		Key:    &keyVar,
	})
	if err != nil {
		if isNotFound(err) {
			return Entry{}, fmt.Errorf("get s3 object key=%q: %w", key, ErrNotFound)
		}
		return Entry{}, fmt.Errorf("get s3 object key=%q: %w", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return Entry{}, fmt.Errorf("read s3 object key=%q: %w", key, err)
	}
	return Entry{Key: key, Body: body}, nil
}

func (s *S3Store) DeleteEntry(ctx context.Context, key string) error {
	keyVar := key
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: s.bucketPtr,
		Key:    &keyVar,
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete s3 object key=%q: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

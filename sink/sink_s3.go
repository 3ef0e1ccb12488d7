package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/baldanca/widget-consumer/request"
)

const jsonContentType = "application/json"

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Mirror keeps a JSON copy of every widget in S3 under
// widgets/<normalized-owner>/<widgetId>.
type Mirror struct {
	client s3API

	bucket    string
	bucketPtr *string
	prefix    string
}

func NewMirror(client s3API, bucket, prefix string) *Mirror {
	if client == nil {
		panic("s3 client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		panic("bucket is required")
	}

	s := &Mirror{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
	s.bucketPtr = &s.bucket
	return s
}

func (s *Mirror) Name() string { return "s3-mirror" }

// Key is the full object key for a request, including the sink prefix.
func (s *Mirror) Key(r *request.Request) string {
	key := r.MirrorKey()
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}
	return key
}

// Create stores the request body as it was received. Requests built in code
// are stored in their canonical encoding.
func (s *Mirror) Create(ctx context.Context, r *request.Request) error {
	data := []byte(r.Raw)
	if len(data) == 0 {
		var err error
		if data, err = json.Marshal(r); err != nil {
			return fmt.Errorf("encode widget %s: %w", r.WidgetID, err)
		}
	}
	return s.Write(ctx, WriteRequest{Key: s.Key(r), Data: data, ContentType: jsonContentType})
}

// Update merges r into the stored widget and writes the result back.
func (s *Mirror) Update(ctx context.Context, r *request.Request) error {
	key := s.Key(r)
	current, err := s.read(ctx, key)
	if err != nil {
		return err
	}

	data, err := json.Marshal(request.Merge(current, r))
	if err != nil {
		return fmt.Errorf("encode widget %s: %w", r.WidgetID, err)
	}
	return s.Write(ctx, WriteRequest{Key: key, Data: data, ContentType: jsonContentType})
}

func (s *Mirror) Delete(ctx context.Context, r *request.Request) error {
	key := s.Key(r)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: s.bucketPtr,
		Key:    &key,
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete s3 object key=%q: %w", key, err)
	}
	return nil
}

// Write puts req.Data at req.Key verbatim. The key is not prefixed.
func (s *Mirror) Write(ctx context.Context, req WriteRequest) error {
	if req.Key == "" {
		return fmt.Errorf("empty key")
	}

	keyVar := req.Key
	cl := int64(len(req.Data))

	var body bytes.Reader
	body.Reset(req.Data)

	input := s3.PutObjectInput{
		Bucket:        s.bucketPtr,
		Key:           &keyVar,
		Body:          &body,
		ContentLength: &cl,
	}
	if req.ContentType != "" {
		ct := req.ContentType
		input.ContentType = &ct
	}

	_, err := s.client.PutObject(ctx, &input)
	if err != nil {
		return fmt.Errorf("put s3 object key=%q: %w", req.Key, err)
	}
	return nil
}

func (s *Mirror) read(ctx context.Context, key string) (*request.Request, error) {
	keyVar := key
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: s.bucketPtr,
		Key:    &keyVar,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("get s3 object key=%q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("get s3 object key=%q: %w", key, err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 object key=%q: %w", key, err)
	}
	var r request.Request
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode s3 object key=%q: %w", key, err)
	}
	return &r, nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound")
}

package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//
// Fakes
//

type fakeS3API struct {
	mu sync.Mutex

	objects  map[string][]byte
	pageSize int

	listCalls  int
	lastPrefix string
	deleted    []string

	listErr error
	getErr  error
	delErr  error
}

func newFakeS3API(objects map[string]string) *fakeS3API {
	f := &fakeS3API{objects: make(map[string][]byte)}
	for k, v := range objects {
		f.objects[k] = []byte(v)
	}
	return f
}

func (f *fakeS3API) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls++
	f.lastPrefix = aws.ToString(in.Prefix)
	if f.listErr != nil {
		return nil, f.listErr
	}

	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, f.lastPrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		for i, k := range keys {
			if k > tok {
				start = i
				break
			}
		}
	}
	end := len(keys)
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
	}

	out := &s3.ListObjectsV2Output{}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[end-1])
	}
	return out, nil
}

func (f *fakeS3API) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return nil, f.getErr
	}
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3API) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.delErr != nil {
		return nil, f.delErr
	}
	k := aws.ToString(in.Key)
	f.deleted = append(f.deleted, k)
	delete(f.objects, k)
	return &s3.DeleteObjectOutput{}, nil
}

//
// Tests
//

func TestS3Store_ListKeys_SortedAcrossPages(t *testing.T) {
	f := newFakeS3API(map[string]string{"c": "3", "a": "1", "e": "5", "b": "2", "d": "4"})
	f.pageSize = 2
	s := NewS3Store(f, "requests", "")

	keys, err := s.ListKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, keys)
	assert.Equal(t, 3, f.listCalls)
}

func TestS3Store_ListKeys_EmptyBucketIsNotAnError(t *testing.T) {
	s := NewS3Store(newFakeS3API(nil), "requests", "")

	keys, err := s.ListKeys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestS3Store_ListKeys_PrefixAndPlaceholders(t *testing.T) {
	f := newFakeS3API(map[string]string{
		"in/":       "",
		"in/001":    "x",
		"other/001": "y",
	})
	s := NewS3Store(f, "requests", "/in/")

	keys, err := s.ListKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "in/", f.lastPrefix)
	assert.Equal(t, []string{"in/001"}, keys)
}

func TestS3Store_ListKeys_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	f := newFakeS3API(nil)
	f.listErr = boom

	_, err := NewS3Store(f, "requests", "").ListKeys(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestS3Store_ReadEntry(t *testing.T) {
	f := newFakeS3API(map[string]string{"a": `{"x":1}`, "tomb": ""})
	s := NewS3Store(f, "requests", "")

	e, err := s.ReadEntry(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", e.Key)
	assert.Equal(t, `{"x":1}`, string(e.Body))
	assert.Equal(t, 7, e.Len())

	e, err = s.ReadEntry(context.Background(), "tomb")
	require.NoError(t, err)
	assert.Zero(t, e.Len())
}

func TestS3Store_ReadEntry_MissingKeyIsErrNotFound(t *testing.T) {
	s := NewS3Store(newFakeS3API(nil), "requests", "")

	_, err := s.ReadEntry(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3Store_ReadEntry_OtherErrorsAreNotNotFound(t *testing.T) {
	boom := errors.New("access denied")
	f := newFakeS3API(map[string]string{"a": "1"})
	f.getErr = boom

	_, err := NewS3Store(f, "requests", "").ReadEntry(context.Background(), "a")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestS3Store_DeleteEntry_Idempotent(t *testing.T) {
	f := newFakeS3API(map[string]string{"a": "1"})
	s := NewS3Store(f, "requests", "")

	require.NoError(t, s.DeleteEntry(context.Background(), "a"))
	require.NoError(t, s.DeleteEntry(context.Background(), "a"))
	assert.Equal(t, []string{"a", "a"}, f.deleted)
	assert.Empty(t, f.objects)
}

func TestS3Store_DeleteEntry_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	f := newFakeS3API(nil)
	f.delErr = boom

	err := NewS3Store(f, "requests", "").DeleteEntry(context.Background(), "a")
	assert.ErrorIs(t, err, boom)
}

func TestS3Store_DeleteEntry_NoSuchKeyIgnored(t *testing.T) {
	f := newFakeS3API(nil)
	f.delErr = &s3types.NoSuchKey{}

	assert.NoError(t, NewS3Store(f, "requests", "").DeleteEntry(context.Background(), "a"))
}

func TestNewS3Store_PanicsOnBadArgs(t *testing.T) {
	assert.Panics(t, func() { NewS3Store(nil, "b", "") })
	assert.Panics(t, func() { NewS3Store(newFakeS3API(nil), " ", "") })
}

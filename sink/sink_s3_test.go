package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baldanca/widget-consumer/request"
)

type fakeS3API struct {
	mu sync.Mutex

	objects  map[string][]byte
	putCalls int
	lastIn   *s3.PutObjectInput

	putErr error
	getErr error
	delErr error
}

func newFakeS3API() *fakeS3API { return &fakeS3API{objects: map[string][]byte{}} }

func (f *fakeS3API) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	f.putCalls++
	f.lastIn = in
	putErr := f.putErr
	f.mu.Unlock()

	if putErr != nil {
		return nil, putErr
	}

	b, _ := io.ReadAll(in.Body)
	f.mu.Lock()
	f.objects[aws.ToString(in.Key)] = b
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3API) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return nil, f.getErr
	}
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3API) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.delErr != nil {
		return nil, f.delErr
	}
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

// no-capture fake for benchmarks: minimal overhead, no body reads/copies.
type fakeS3NoCapture struct{ fakeS3API }

func (f *fakeS3NoCapture) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return &s3.PutObjectOutput{}, nil
}

func mustDecode(t testing.TB, body string) *request.Request {
	t.Helper()
	r, err := request.Decode([]byte(body))
	require.NoError(t, err)
	return r
}

const janeCreate = `{"type":"create","requestId":"r-1","widgetId":"w-123","owner":"Jane Doe","label":"blue","otherAttributes":[{"name":"color","value":"blue"}]}`

func TestMirror_CreateWritesDerivedKey(t *testing.T) {
	f := newFakeS3API()
	s := NewMirror(f, "widgets-bkt", "")
	r := mustDecode(t, janeCreate)

	require.NoError(t, s.Create(context.Background(), r))

	require.Equal(t, 1, f.putCalls)
	assert.Equal(t, "widgets-bkt", aws.ToString(f.lastIn.Bucket))
	assert.Equal(t, "widgets/jane-doe/w-123", aws.ToString(f.lastIn.Key))
	assert.Equal(t, "application/json", aws.ToString(f.lastIn.ContentType))
	assert.JSONEq(t, janeCreate, string(f.objects["widgets/jane-doe/w-123"]))
	assert.Equal(t, int64(len(f.objects["widgets/jane-doe/w-123"])), *f.lastIn.ContentLength)
}

func TestMirror_CreateStoresBodyVerbatim(t *testing.T) {
	f := newFakeS3API()
	s := NewMirror(f, "bkt", "")
	body := `{"type":"create","requestId":"r-1","widgetId":"w-7","owner":"Jane Doe","extra":"kept","otherAttributes":[]}`

	require.NoError(t, s.Create(context.Background(), mustDecode(t, body)))
	assert.Equal(t, body, string(f.objects["widgets/jane-doe/w-7"]))
}

func TestMirror_CreateIsIdempotent(t *testing.T) {
	f := newFakeS3API()
	s := NewMirror(f, "bkt", "")
	r := mustDecode(t, janeCreate)

	require.NoError(t, s.Create(context.Background(), r))
	first := append([]byte(nil), f.objects["widgets/jane-doe/w-123"]...)
	require.NoError(t, s.Create(context.Background(), r))

	assert.Len(t, f.objects, 1)
	assert.Equal(t, first, f.objects["widgets/jane-doe/w-123"])
}

func TestMirror_Prefix(t *testing.T) {
	f := newFakeS3API()
	s := NewMirror(f, "bkt", "/mirror/")
	r := mustDecode(t, janeCreate)

	assert.Equal(t, "mirror/widgets/jane-doe/w-123", s.Key(r))
	require.NoError(t, s.Create(context.Background(), r))
	assert.Contains(t, f.objects, "mirror/widgets/jane-doe/w-123")
}

func TestMirror_UpdateMergesStoredWidget(t *testing.T) {
	f := newFakeS3API()
	s := NewMirror(f, "bkt", "")
	require.NoError(t, s.Create(context.Background(), mustDecode(t, janeCreate)))

	upd := mustDecode(t, `{"type":"update","requestId":"r-2","widgetId":"w-123","owner":"Jane Doe","description":"new","otherAttributes":[{"name":"size","value":"L"}]}`)
	require.NoError(t, s.Update(context.Background(), upd))

	var got request.Request
	require.NoError(t, json.Unmarshal(f.objects["widgets/jane-doe/w-123"], &got))
	assert.Equal(t, request.TypeUpdate, got.Type)
	assert.Equal(t, "r-2", got.RequestID)
	assert.Equal(t, "blue", *got.Label)
	assert.Equal(t, "new", *got.Description)
	assert.Equal(t, []request.Attribute{{Name: "color", Value: "blue"}, {Name: "size", Value: "L"}}, got.OtherAttributes)
}

func TestMirror_UpdateMissingWidget(t *testing.T) {
	s := NewMirror(newFakeS3API(), "bkt", "")
	upd := mustDecode(t, `{"type":"update","requestId":"r-2","widgetId":"w-9","owner":"Bob"}`)

	assert.ErrorIs(t, s.Update(context.Background(), upd), ErrNotFound)
}

func TestMirror_UpdatePropagatesGetError(t *testing.T) {
	boom := errors.New("boom")
	f := newFakeS3API()
	f.getErr = boom

	err := NewMirror(f, "bkt", "").Update(context.Background(), mustDecode(t, janeCreate))
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestMirror_DeleteIsIdempotent(t *testing.T) {
	f := newFakeS3API()
	s := NewMirror(f, "bkt", "")
	r := mustDecode(t, janeCreate)
	require.NoError(t, s.Create(context.Background(), r))

	require.NoError(t, s.Delete(context.Background(), r))
	require.NoError(t, s.Delete(context.Background(), r))
	assert.Empty(t, f.objects)
}

func TestMirror_Write_EmptyKeyReturnsError(t *testing.T) {
	s := NewMirror(newFakeS3API(), "bkt", "")
	assert.Error(t, s.Write(context.Background(), WriteRequest{Key: ""}))
}

func TestMirror_Write_PropagatesPutError(t *testing.T) {
	boom := errors.New("boom")
	f := newFakeS3API()
	f.putErr = boom
	s := NewMirror(f, "bkt", "p")

	assert.ErrorIs(t, s.Write(context.Background(), WriteRequest{Key: "x", Data: []byte("1")}), boom)
	assert.ErrorIs(t, s.Create(context.Background(), mustDecode(t, janeCreate)), boom)
}

func TestNewMirror_Panics(t *testing.T) {
	assert.Panics(t, func() { NewMirror(nil, "b", "") })
	assert.Panics(t, func() { NewMirror(newFakeS3API(), "", "") })
}

func BenchmarkMirror_Write_NoCapture(b *testing.B) {
	for _, size := range []int{0, 128, 1024, 16 * 1024} {
		b.Run(fmt.Sprintf("size=%s", strconv.Itoa(size)), func(b *testing.B) {
			s := NewMirror(&fakeS3NoCapture{}, "bkt", "pfx")
			req := WriteRequest{Key: "widgets/a/b", Data: make([]byte, size), ContentType: jsonContentType}
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := s.Write(ctx, req); err != nil {
					b.Fatalf("write: %v", err)
				}
			}
		})
	}
}

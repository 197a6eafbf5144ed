package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aristath/fundsync/internal/domain"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves objects from memory.
type fakeS3 struct {
	objects map[string][]byte
	headErr error
	getErr  error
	gets    int
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "Not Found"}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	data := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func newStore(f *fakeS3, maxBytes int64) *S3Store {
	return NewS3StoreWithClient(f, Config{MaxObjectBytes: maxBytes}, zerolog.New(nil).Level(zerolog.Disabled))
}

func TestFetch_Success(t *testing.T) {
	body := []byte("trade_date,stock,ticker,col_code,value\n2024-01-31,A,B,C,1\n")
	f := &fakeS3{objects: map[string][]byte{"exports/daily/a.csv": body}}

	got, err := newStore(f, 1<<20).Fetch(context.Background(), domain.ObjectRef{Container: "exports", Key: "daily/a.csv"})
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestFetch_TooLarge(t *testing.T) {
	f := &fakeS3{objects: map[string][]byte{"b/k": bytes.Repeat([]byte("x"), 100)}}

	_, err := newStore(f, 10).Fetch(context.Background(), domain.ObjectRef{Container: "b", Key: "k"})
	assert.ErrorIs(t, err, ErrObjectTooLarge)
	assert.False(t, domain.IsTransient(err))
	assert.Equal(t, 0, f.gets)
}

func TestFetch_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		store     *fakeS3
		wantErr   error
		transient bool
	}{
		{
			name:    "missing object",
			store:   &fakeS3{objects: map[string][]byte{}},
			wantErr: ErrObjectNotFound,
		},
		{
			name:    "access denied",
			store:   &fakeS3{headErr: &smithy.GenericAPIError{Code: "AccessDenied"}},
			wantErr: ErrAccessDenied,
		},
		{
			name:      "network failure on head",
			store:     &fakeS3{headErr: errors.New("dial tcp: connection refused")},
			transient: true,
		},
		{
			name:      "throttled download",
			store:     &fakeS3{objects: map[string][]byte{"b/k": []byte("x")}, getErr: &smithy.GenericAPIError{Code: "SlowDown"}},
			transient: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newStore(tt.store, 0).Fetch(context.Background(), domain.ObjectRef{Container: "b", Key: "k"})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.transient, domain.IsTransient(err))
		})
	}
}

func TestFetch_InvalidRef(t *testing.T) {
	_, err := newStore(&fakeS3{}, 0).Fetch(context.Background(), domain.ObjectRef{Container: "b"})
	assert.Error(t, err)
}

package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

type fakePutter struct {
	bucket string
	key    string
	body   []byte
	opts   minio.PutObjectOptions
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if int64(len(body)) != size {
		return minio.UploadInfo{}, errors.New("size mismatch")
	}
	f.bucket, f.key, f.body, f.opts = bucket, key, body, opts
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, nil
}

func TestStore_Archive(t *testing.T) {
	fake := &fakePutter{}
	s := newStore(fake, "reports", "/rivalscope/sessions/", "https://s3.example.com/")

	session := core.NewAnalysisSession([]string{"Acme"}, []string{"openai"}, "")
	session.Status = core.SessionCompleted

	location, err := s.Archive(context.Background(), session)
	require.NoError(t, err)

	wantKey := "rivalscope/sessions/" + string(session.ID) + ".json"
	assert.Equal(t, "reports", fake.bucket)
	assert.Equal(t, wantKey, fake.key)
	assert.Equal(t, "https://s3.example.com/reports/"+wantKey, location)
	assert.Equal(t, "application/json", fake.opts.ContentType)
	assert.Equal(t, "completed", fake.opts.UserMetadata["session-status"])

	var decoded core.AnalysisSession
	require.NoError(t, json.Unmarshal(fake.body, &decoded))
	assert.Equal(t, session.ID, decoded.ID)
	assert.Equal(t, []string{"Acme"}, decoded.Targets)
}

func TestStore_DefaultPrefix(t *testing.T) {
	s := newStore(&fakePutter{}, "b", "", "http://localhost:9000")
	assert.Equal(t, "sessions/as-1.json", s.Key("as-1"))
}

func TestStore_ArchiveErrors(t *testing.T) {
	s := newStore(&fakePutter{err: errors.New("access denied")}, "b", "", "http://localhost:9000")

	_, err := s.Archive(context.Background(), core.NewAnalysisSession([]string{"Acme"}, nil, ""))
	assert.ErrorContains(t, err, "access denied")

	_, err = s.Archive(context.Background(), nil)
	assert.Error(t, err)
}

func TestNew_RequiresEndpointAndBucket(t *testing.T) {
	_, err := New(context.Background(), Options{Bucket: "b"})
	assert.Error(t, err)
	_, err = New(context.Background(), Options{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}

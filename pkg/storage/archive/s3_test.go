package archive

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/trellis/pkg/softdelete"
)

var _ softdelete.Archiver = (*S3Archiver)(nil)

type fakeS3 struct {
	puts      []*s3.PutObjectInput
	bodies    []string
	putErr    error
	headErr   error
	createErr error
	created   bool
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts = append(f.puts, in)
	f.bodies = append(f.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.created = true
	return &s3.CreateBucketOutput{}, f.createErr
}

func TestArchive_WritesNDJSON(t *testing.T) {
	fake := &fakeS3{}
	a := New(fake, "trash", "purged")
	a.now = func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) }

	err := a.Archive(context.Background(), "issues", []map[string]interface{}{
		{"id": int64(1), "title": []byte("One")},
		{"id": int64(2), "title": "Two"},
	})
	require.NoError(t, err)
	require.Len(t, fake.puts, 1)

	put := fake.puts[0]
	assert.Equal(t, "trash", *put.Bucket)
	assert.True(t, strings.HasPrefix(*put.Key, "purged/issues/2026/03/04/"), *put.Key)
	assert.True(t, strings.HasSuffix(*put.Key, ".jsonl"))
	assert.Equal(t, "2", put.Metadata["rows"])
	assert.Len(t, put.Metadata["checksum-sha256"], 64)

	scanner := bufio.NewScanner(strings.NewReader(fake.bodies[0]))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"id":1,"title":"One"}`, lines[0])
	assert.JSONEq(t, `{"id":2,"title":"Two"}`, lines[1])
}

func TestArchive_SameBatchSameKey(t *testing.T) {
	fake := &fakeS3{}
	a := New(fake, "trash", "purged")
	rows := []map[string]interface{}{{"id": int64(7)}}

	require.NoError(t, a.Archive(context.Background(), "sprints", rows))
	require.NoError(t, a.Archive(context.Background(), "sprints", rows))
	assert.Equal(t, *fake.puts[0].Key, *fake.puts[1].Key)
}

func TestArchive_UploadError(t *testing.T) {
	a := New(&fakeS3{putErr: errors.New("access denied")}, "trash", "")
	err := a.Archive(context.Background(), "issues", []map[string]interface{}{{"id": 1}})
	assert.ErrorContains(t, err, "failed to upload archive")
}

func TestEnsureBucket(t *testing.T) {
	ctx := context.Background()

	t.Run("exists", func(t *testing.T) {
		fake := &fakeS3{}
		require.NoError(t, New(fake, "b", "").ensureBucket(ctx))
		assert.False(t, fake.created)
	})

	t.Run("created", func(t *testing.T) {
		fake := &fakeS3{headErr: errors.New("NotFound")}
		require.NoError(t, New(fake, "b", "").ensureBucket(ctx))
		assert.True(t, fake.created)
	})

	t.Run("race with another creator", func(t *testing.T) {
		fake := &fakeS3{headErr: errors.New("NotFound"), createErr: &types.BucketAlreadyOwnedByYou{}}
		assert.NoError(t, New(fake, "b", "").ensureBucket(ctx))
	})

	t.Run("create fails", func(t *testing.T) {
		fake := &fakeS3{headErr: errors.New("NotFound"), createErr: errors.New("forbidden")}
		assert.ErrorContains(t, New(fake, "b", "").ensureBucket(ctx), "failed to create bucket")
	})
}

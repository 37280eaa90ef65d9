//go:build cloudintegration

package s3_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/snapbridge/pkg/provider"
	"github.com/3leaps/snapbridge/pkg/provider/s3"
	"github.com/3leaps/snapbridge/test/cloudtest"
)

func newMotoProvider(t *testing.T, ctx context.Context, bucket string) *s3.Provider {
	t.Helper()
	p, err := s3.New(ctx, s3.Config{
		Bucket:          bucket,
		Endpoint:        cloudtest.Endpoint,
		Region:          cloudtest.Region,
		AccessKeyID:     cloudtest.TestAccessKeyID,
		SecretAccessKey: cloudtest.TestSecretAccessKey,
		ForcePathStyle:  true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestProvider_ListPaginates_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	cloudtest.PutObjects(t, ctx, bucket, []string{"data/a", "data/b", "data/c", "other/d"})
	p := newMotoProvider(t, ctx, bucket)

	var keys []string
	token := ""
	for {
		page, err := p.List(ctx, provider.ListOptions{Prefix: "data/", MaxKeys: 2, ContinuationToken: token})
		require.NoError(t, err)
		for _, obj := range page.Objects {
			keys = append(keys, obj.Key)
		}
		if !page.IsTruncated {
			break
		}
		token = page.ContinuationToken
	}
	assert.Equal(t, []string{"data/a", "data/b", "data/c"}, keys)
}

func TestProvider_PutGetWithMetadata_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	bucket := cloudtest.CreateBucket(t, ctx)
	p := newMotoProvider(t, ctx, bucket)

	body := "restored content"
	err := p.PutObject(ctx, "docs/readme.txt", strings.NewReader(body), int64(len(body)), provider.PutOptions{
		ContentType: "text/plain",
		Metadata:    map[string]string{"origin": "bridge"},
	})
	require.NoError(t, err)

	meta, err := p.Head(ctx, "docs/readme.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), meta.Size)
	assert.Equal(t, "text/plain", meta.ContentType)
	assert.Equal(t, "bridge", meta.Metadata["origin"])

	rc, n, err := p.GetObject(ctx, "docs/readme.txt")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), n)
	assert.Equal(t, body, string(data))
}

func TestProvider_MissingBucket_CloudIntegration(t *testing.T) {
	cloudtest.SkipIfUnavailable(t)
	ctx := context.Background()

	p := newMotoProvider(t, ctx, "snapbridge-does-not-exist")
	_, err := p.List(ctx, provider.ListOptions{MaxKeys: 1})
	require.Error(t, err)
	assert.True(t, provider.IsBucketNotFound(err) || provider.IsNotFound(err))
}

package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	blobs := NewBlobStore()
	payload := []byte("date,url")
	uri, err := blobs.PutObject(context.Background(), "exports/a.csv", "text/csv", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://exports/a.csv", uri)

	payload[0] = 'D'
	data, contentType, ok := blobs.Object("exports/a.csv")
	require.True(t, ok)
	require.Equal(t, "date,url", string(data))
	require.Equal(t, "text/csv", contentType)

	_, _, ok = blobs.Object("missing")
	require.False(t, ok)
}

package s3blob

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ValidatesConfig(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{AccessKey: "only-key"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket is required")
	assert.Contains(t, err.Error(), "region is required")
	assert.Contains(t, err.Error(), "must be set together")
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "https://minio.local:9000", endpointURL("https://minio.local:9000", false))
	assert.Equal(t, "https://minio.local:9000", endpointURL("minio.local:9000", true))
	assert.Equal(t, "http://minio.local:9000", endpointURL("minio.local:9000", false))
}

func TestClient_Health(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	paths := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.Method + " " + r.URL.Path
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	c, err := New(context.Background(), ClientConfig{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "walletlink-archive",
		AccessKey:      "key",
		SecretKey:      "secret",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "walletlink-archive", c.Bucket())

	require.NoError(t, c.Health(context.Background()))
	assert.Equal(t, "HEAD /walletlink-archive", <-paths)

	status.Store(http.StatusNotFound)
	assert.Error(t, c.Health(context.Background()))
}

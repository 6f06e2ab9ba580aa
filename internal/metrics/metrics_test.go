package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/docs", "/docs"},
		{"/docs/", "/docs"},
		{"/docs/something", "/docs"},
		{"/metrics", "/metrics"},
		{"/openapi.json", "/openapi.json"},
		{"/", "/"},
		{"", "/"},
		{"/v1/", "/v1"},
		{"/v1/main", "/v1/{store}"},
		{"/v1/main/", "/v1/{store}"},
		{"/v1/main/a", "/v1/{store}/{path}"},
		{"/v1/main/a/b/c.bin", "/v1/{store}/{path}"},
		{"/favicon.ico", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePath(tt.path))
		})
	}
}

func TestMetricsRegistered(t *testing.T) {
	Register()
	Register()

	HTTPRequestsTotal.WithLabelValues("GET", "/health", "200").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/health").Observe(0.001)
	HTTPResponseSize.WithLabelValues("GET", "/v1/{store}/{path}").Observe(2048)
	BlobOperationsTotal.WithLabelValues("put", "success").Inc()
	BytesUploadedTotal.Add(1024)
	BytesDownloadedTotal.Add(2048)
	MultipartAbortsTotal.Inc()
	DeleteFailuresTotal.Add(2)

	before := testutil.ToFloat64(MultipartPartsTotal.WithLabelValues("copy"))
	MultipartPartsTotal.WithLabelValues("copy").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(MultipartPartsTotal.WithLabelValues("copy")))
}

package usage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moguard-inc/moguard/internal/shared/config"
	"github.com/moguard-inc/moguard/internal/shared/logger"
)

// captureTransport records outgoing report requests and answers with a
// fixed status.
type captureTransport struct {
	status int
	urls   []string
	bodies [][]byte
}

func (t *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	t.urls = append(t.urls, req.URL.String())
	t.bodies = append(t.bodies, body)
	return &http.Response{
		StatusCode: t.status,
		Body:       io.NopCloser(strings.NewReader("{}")),
		Header:     http.Header{},
	}, nil
}

func newReportJob(transport *captureTransport) *Job {
	return &Job{
		cfg:    config.ReportingConfig{LicenseKey: "lic", SecretKey: "sec"},
		logger: logger.NewNop(),
		http:   &http.Client{Transport: transport},
		failed: make(map[string]int64),
	}
}

func TestReportPostsUsernameUsageArray(t *testing.T) {
	transport := &captureTransport{status: http.StatusOK}
	j := newReportJob(transport)

	deltas := map[uint]int64{1: 100, 2: 250}
	usernames := map[uint]string{1: "alice", 2: "bob"}
	j.report(context.Background(), deltas, usernames)

	require.Len(t, transport.urls, 1)
	assert.Equal(t, "https://lic.morebot.top/api/subscriptions/sec/usages", transport.urls[0])

	var entries []reportEntry
	require.NoError(t, json.Unmarshal(transport.bodies[0], &entries))
	assert.ElementsMatch(t, []reportEntry{
		{Username: "alice", Usage: 100},
		{Username: "bob", Usage: 250},
	}, entries)
	assert.Empty(t, j.failed)
}

func TestReportRetriesFailedDeliveries(t *testing.T) {
	transport := &captureTransport{status: http.StatusBadGateway}
	j := newReportJob(transport)

	j.report(context.Background(), map[uint]int64{1: 100}, map[uint]string{1: "alice"})
	assert.Equal(t, map[string]int64{"alice": 100}, j.failed)

	// next cycle merges the stuck delta with the fresh one
	transport.status = http.StatusOK
	j.report(context.Background(), map[uint]int64{1: 50, 2: 30}, map[uint]string{1: "alice", 2: "bob"})

	require.Len(t, transport.bodies, 2)
	var entries []reportEntry
	require.NoError(t, json.Unmarshal(transport.bodies[1], &entries))
	assert.ElementsMatch(t, []reportEntry{
		{Username: "alice", Usage: 150},
		{Username: "bob", Usage: 30},
	}, entries)
	assert.Empty(t, j.failed)
}

func TestReportDisabledWithoutKeys(t *testing.T) {
	transport := &captureTransport{status: http.StatusOK}
	j := newReportJob(transport)
	j.cfg.SecretKey = ""

	j.report(context.Background(), map[uint]int64{1: 100}, map[uint]string{1: "alice"})
	assert.Empty(t, transport.urls)
}

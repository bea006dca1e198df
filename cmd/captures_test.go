package cmd

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagelift/pagelift/internal/config"
	"github.com/pagelift/pagelift/internal/store"
)

func runCapturesCmd(t *testing.T, provider *fakeProvider, args ...string) (string, error) {
	t.Helper()
	capturesCmd := newCapturesCmd(provider)
	buf := new(bytes.Buffer)
	capturesCmd.SetOut(buf)
	capturesCmd.SetErr(buf)
	capturesCmd.SetArgs(args)
	err := capturesCmd.ExecuteContext(contextWithConfig(config.NewDefaultConfig()))
	return buf.String(), err
}

func TestCapturesCmdListsArchive(t *testing.T) {
	silenceLogger(t)

	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	fake := &fakeProvider{archive: &fakeArchive{
		summaries: []store.CaptureSummary{
			{ID: "cap-1", URL: "https://example.com", Title: "Example Domain", CapturedAt: now},
			{ID: "cap-2", URL: "https://blog.example.com", CapturedAt: now.Add(-time.Hour)},
		},
	}}

	out, err := runCapturesCmd(t, fake)
	require.NoError(t, err)

	assert.Contains(t, out, "cap-1")
	assert.Contains(t, out, "Example Domain")
	assert.Contains(t, out, "cap-2")
	assert.Contains(t, out, "(untitled)")
	assert.Contains(t, out, "https://blog.example.com")
	assert.Equal(t, 1, fake.cleanups)
}

func TestCapturesCmdEmptyArchive(t *testing.T) {
	silenceLogger(t)

	out, err := runCapturesCmd(t, &fakeProvider{archive: &fakeArchive{}})
	require.NoError(t, err)
	assert.Contains(t, out, "No archived captures.")
}

func TestCapturesCmdHonorsLimit(t *testing.T) {
	silenceLogger(t)

	now := time.Now()
	fake := &fakeProvider{archive: &fakeArchive{
		summaries: []store.CaptureSummary{
			{ID: "cap-1", URL: "https://a.example.com", CapturedAt: now},
			{ID: "cap-2", URL: "https://b.example.com", CapturedAt: now},
			{ID: "cap-3", URL: "https://c.example.com", CapturedAt: now},
		},
	}}

	out, err := runCapturesCmd(t, fake, "--limit", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "cap-1")
	assert.Contains(t, out, "cap-2")
	assert.NotContains(t, out, "cap-3")
}

func TestCapturesCmdProviderFailure(t *testing.T) {
	silenceLogger(t)

	fake := &fakeProvider{err: errors.New("database URL is not configured")}
	_, err := runCapturesCmd(t, fake)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize store")
}

package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/pagelift/pagelift/internal/config"
)

func TestSplitArg(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		arg       string
		wantName  string
		wantValue interface{}
	}{
		{name: "bare flag", arg: "--disable-foo", wantName: "disable-foo", wantValue: true},
		{name: "valued flag", arg: "--lang=en-US", wantName: "lang", wantValue: "en-US"},
		{name: "single dash", arg: "-incognito", wantName: "incognito", wantValue: true},
		{name: "no dashes", arg: "mute-audio", wantName: "mute-audio", wantValue: true},
		{name: "value with equals", arg: "--proxy-server=http://h:1", wantName: "proxy-server", wantValue: "http://h:1"},
		{name: "empty", arg: "", wantName: "", wantValue: nil},
		{name: "dashes only", arg: "--", wantName: "", wantValue: nil},
	}
	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			name, value := splitArg(tt.arg)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantValue, value)
		})
	}
}

func TestAllocatorOptionsGrowWithConfig(t *testing.T) {
	t.Parallel()

	base := config.BrowserConfig{
		Headless: true,
		Viewport: config.ViewportConfig{Width: 1280, Height: 800},
	}
	baseline := len(AllocatorOptions(base))

	full := base
	full.UserAgent = "pagelift-test"
	full.IgnoreTLSErrors = true
	full.Args = []string{"--lang=en-US", "--mute-audio"}

	assert.Equal(t, baseline+4, len(AllocatorOptions(full)))
}

func TestManagerCloseWithoutLaunch(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewManager(config.NewDefaultConfig().Browser(), zap.NewNop())
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, _, err := m.NewTab()
	assert.ErrorIs(t, err, ErrClosed)
}

package vconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/voluta-fs/voluta/pkg/elog"
)

type nullLogger struct{}

func (nullLogger) Debugf(string, ...interface{})   {}
func (nullLogger) Infof(string, ...interface{})    {}
func (nullLogger) Warnf(string, ...interface{})    {}
func (nullLogger) Errorf(string, ...interface{})   {}
func (nullLogger) Printf(string, ...interface{})   {}
func (nullLogger) IsInfoEnabled() bool             { return false }
func (nullLogger) IsDebugEnabled() bool            { return false }
func (nullLogger) NewProgress(string, string, int64) elog.Progress { return nil }

var _ elog.View = nullLogger{}

func TestParseBytes(t *testing.T) {
	cases := map[string]Bytes{
		"":      0,
		"512":   512,
		"4Ki":   4 * KiB,
		"1Mi":   1 * MiB,
		"2Gi":   2 * GiB,
		"3gi":   3 * GiB,
		"10k":   10 * KiB,
		"0x400": 1024,
	}
	for in, want := range cases {
		got, err := ParseBytes(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseBytesRejectsNegative(t *testing.T) {
	_, err := ParseBytes("-1")
	assert.Error(t, err)
}

func TestBytesStringRoundTrip(t *testing.T) {
	b := 4 * MiB
	parsed, err := ParseBytes(b.String())
	assert.NoError(t, err)
	assert.Equal(t, b, parsed)
}

func TestWithDefaults(t *testing.T) {
	c := &Config{}
	assert.NoError(t, WithDefaults(c, nullLogger{}))
	assert.Equal(t, LogInfo, c.Log.Level)
	assert.Equal(t, 4096, c.Cache.VNodeEntries)
	assert.Equal(t, BackingFile, c.Backing.Type)
}

func TestLogLevelValidate(t *testing.T) {
	assert.NoError(t, LogLevel("").Validate())
	assert.NoError(t, LogDebug.Validate())
	assert.Error(t, LogLevel("nonsense").Validate())
}

func TestMergeOverridesAndUnions(t *testing.T) {
	base := &Config{
		Mount: MountSettings{Options: []string{"ro"}},
		Log:   LogSettings{Level: LogInfo},
		Cache: CacheSettings{VNodeEntries: 100},
	}
	overlay := &Config{
		Mount:   MountSettings{AllowOther: true, Options: []string{"noatime"}},
		Log:     LogSettings{Level: LogDebug},
		Backing: BackingSettings{Type: BackingQCOW2},
	}

	merged, err := Merge(base, overlay)
	assert.NoError(t, err)
	assert.True(t, merged.Mount.AllowOther)
	assert.ElementsMatch(t, []string{"ro", "noatime"}, merged.Mount.Options)
	assert.Equal(t, LogDebug, merged.Log.Level)
	assert.Equal(t, 100, merged.Cache.VNodeEntries)
	assert.Equal(t, BackingQCOW2, merged.Backing.Type)
}

func TestLoadTOML(t *testing.T) {
	data := []byte(`
[mount]
readonly = true

[log]
level = "debug"

[cache]
vnode-entries = 8192
`)
	c, err := Load(data)
	assert.NoError(t, err)
	assert.True(t, c.Mount.ReadOnly)
	assert.Equal(t, LogDebug, c.Log.Level)
	assert.Equal(t, 8192, c.Cache.VNodeEntries)
}

package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel("verbose"), "неизвестный уровень даёт INFO")
}

func TestConsoleLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger("combat", &buf, WARN)

	l.Info("не видно")
	l.Warn("удар %d", 7)

	out := buf.String()
	assert.NotContains(t, out, "не видно")
	assert.Contains(t, out, "удар 7")
	assert.Contains(t, out, "combat")
}

func TestSetDefaultLevelReachesComponents(t *testing.T) {
	l := GetComponentLogger("level-early")
	t.Cleanup(func() { SetDefaultLevel(INFO) })

	SetDefaultLevel(ERROR)
	assert.Equal(t, ERROR, l.level())
	assert.Equal(t, ERROR, GetComponentLogger("level-late").level())
}

func TestLogProtocolErrorDumpsAtDebug(t *testing.T) {
	var buf bytes.Buffer
	LogProtocolError(NewConsoleLogger("network", &buf, DEBUG), "peer-1", errors.New("bad frame"), []byte{0xde, 0xad})

	out := buf.String()
	assert.Contains(t, out, "peer-1")
	assert.Contains(t, out, "de ad")
	assert.Equal(t, "No data", HexDump(nil))
}

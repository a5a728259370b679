package logging

import (
	"bytes"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	flags := log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetFlags(flags)
		SetDebug(false)
	})
	return &buf
}

func TestDebugGated(t *testing.T) {
	buf := captureLog(t)

	Debug("router", "hidden %d", 1)
	assert.Empty(t, buf.String())

	SetDebug(true)
	Debug("router", "shown %d", 2)
	assert.Equal(t, "[router] shown 2\n", buf.String())
}

func TestInfoAndWarnPrefix(t *testing.T) {
	buf := captureLog(t)
	Info("agent", "route=%s", "list")
	Warn("invoker", "slow")
	assert.Equal(t, "[agent] route=list\n[invoker] WARN slow\n", buf.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "a b", Truncate("a\nb", 10))
	assert.Equal(t, "abc...", Truncate("abcdef", 3))
}

package utils

import (
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWithKeepsComponent(t *testing.T) {
	hook := test.NewLocal(root())
	t.Cleanup(hook.Reset)

	logger := NewLogger("scanner")
	logger.With("host", "10.0.0.5").Info("开放端口 %d 个", 3)
	logger.Info("扫描完成")

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "开放端口 3 个", entries[0].Message)
	assert.Equal(t, "scanner", entries[0].Data["component"])
	assert.Equal(t, "10.0.0.5", entries[0].Data["host"])
	assert.NotContains(t, entries[1].Data, "host")
}

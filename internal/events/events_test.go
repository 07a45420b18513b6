package events

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	a := New(MessageDeleted, 3, "work", "INBOX", 7)
	b := New(MessageDeleted, 3, "work", "INBOX", 7)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, []uint32{7}, a.UIDs)
	assert.False(t, a.At.IsZero())
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	NewLogSink(logger).Dispatch(context.Background(), New(MessagesSynchronized, 1, "work", "INBOX", 1, 2, 3))

	assert.Contains(t, buf.String(), `"event":"messages.synchronized"`)
	assert.Contains(t, buf.String(), `"count":3`)
}

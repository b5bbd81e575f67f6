package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := zap.New(core)

	ctx := WithContext(context.Background(), l)
	FromContext(ctx).Info("✅ ok", zap.String("order_id", "o-1"))

	assert.Equal(t, 1, logs.Len())
	assert.Equal(t, "o-1", logs.All()[0].ContextMap()["order_id"])
}

func TestFromContextFallback(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
	assert.Equal(t, context.Background(), WithContext(context.Background(), nil))
}

func TestNewWithLogFile(t *testing.T) {
	t.Setenv("LOG_FILE", t.TempDir()+"/logs/app.log")
	l, err := New("marketplace", "test")
	assert.NoError(t, err)
	assert.NotNil(t, l)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanShutdown(t *testing.T) {
	assert.True(t, cleanShutdown(context.Canceled))
	assert.True(t, cleanShutdown(fmt.Errorf("app: run feed mode: %w", context.Canceled)))

	assert.False(t, cleanShutdown(nil))
	assert.False(t, cleanShutdown(errors.New("store unavailable")))
	assert.False(t, cleanShutdown(context.DeadlineExceeded))
}

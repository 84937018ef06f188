package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/0x9900/FT8Commander/wsjtx"
)

func TestConsoleVersion(t *testing.T) {
	cv := NewConsoleVersion()
	assert.Empty(t, cv.Current())
	assert.True(t, cv.Supported())

	cv.Observe(&wsjtx.Heartbeat{Version: "2.6.1", Revision: "0d9b96"})
	assert.Equal(t, "2.6.1", cv.Current())
	assert.True(t, cv.Supported())

	cv.Observe(&wsjtx.Heartbeat{Version: "2.2.2"})
	assert.Equal(t, "2.2.2", cv.Current())
	assert.False(t, cv.Supported())

	// the minimum itself is fine
	cv.Observe(&wsjtx.Heartbeat{Version: "2.3.0"})
	assert.True(t, cv.Supported())
}

func TestConsoleVersionUnparseable(t *testing.T) {
	cv := NewConsoleVersion()
	cv.Observe(&wsjtx.Heartbeat{Version: "nightly"})
	assert.Equal(t, "nightly", cv.Current())
	assert.True(t, cv.Supported())

	// empty announcements are ignored
	cv.Observe(&wsjtx.Heartbeat{})
	assert.Equal(t, "nightly", cv.Current())
}

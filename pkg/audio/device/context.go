// Package device drives the host microphone and speaker through miniaudio
// (malgo). It produces and consumes 16-bit PCM as [audio.AudioFrame] values.
package device

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
)

// Context owns the miniaudio backend context shared by capture and playback
// devices. Close it after every device built from it has been closed.
type Context struct {
	ctx  *malgo.AllocatedContext
	once sync.Once
}

// Open initialises the default miniaudio backend.
func Open() (*Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("device: init context: %w", err)
	}
	return &Context{ctx: ctx}, nil
}

// Close releases the backend context. Safe to call more than once.
func (c *Context) Close() error {
	c.once.Do(func() {
		_ = c.ctx.Uninit()
		c.ctx.Free()
	})
	return nil
}

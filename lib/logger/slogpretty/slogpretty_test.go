package slogpretty

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/immxrtalbeast/marketcall/lib/logger/sl"
	"github.com/stretchr/testify/assert"
)

func TestPrettyHandlerPrintsMessageAndAttrs(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	opts := PrettyHandlerOptions{SlogOpts: &slog.HandlerOptions{Level: slog.LevelDebug}}
	log := slog.New(opts.NewPrettyHandler(&buf)).With(slog.String("conversation_id", "c1"))

	log.Warn("failed to delete call session", sl.Err(errors.New("store down")))

	out := buf.String()
	assert.Contains(t, out, "WARN:")
	assert.Contains(t, out, "failed to delete call session")
	assert.Contains(t, out, `"conversation_id": "c1"`)
	assert.Contains(t, out, `"error": "store down"`)
}

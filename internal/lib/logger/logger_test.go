package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWithWriter_Levels(t *testing.T) {
	tests := []struct {
		env       string
		wantDebug bool
		wantJSON  bool
	}{
		{env: "local", wantDebug: true, wantJSON: false},
		{env: "dev", wantDebug: true, wantJSON: true},
		{env: "prod", wantDebug: false, wantJSON: true},
		{env: "unknown", wantDebug: false, wantJSON: true},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			var buf bytes.Buffer
			log := SetupWithWriter(tt.env, &buf)

			assert.Equal(t, tt.wantDebug, log.Enabled(context.Background(), slog.LevelDebug))

			log.Info("hello", slog.String("k", "v"))
			if tt.wantJSON {
				var got map[string]any
				require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
				assert.Equal(t, "hello", got["msg"])
				assert.Equal(t, "v", got["k"])
			} else {
				assert.Contains(t, buf.String(), "msg=hello")
			}
		})
	}
}

func TestNoop(t *testing.T) {
	log := Noop()
	assert.NotPanics(t, func() { log.Error("ignored") })
}

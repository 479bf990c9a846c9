package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	got, err := Static("  reviewed PR  ").Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "reviewed PR", got)

	_, err = Static("   ").Capture(context.Background())
	assert.True(t, errors.Is(err, ErrNothingCaptured))
}

func TestLineReader(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"trimmed line", "  fixed flaky test \nrest", "fixed flaky test", nil},
		{"no trailing newline", "last words", "last words", nil},
		{"blank line", "\n", "", ErrNothingCaptured},
		{"empty input", "", "", ErrNothingCaptured},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var prompt bytes.Buffer
			lr := NewLineReader(strings.NewReader(tt.input), &prompt, "Summary: ")

			got, err := lr.Capture(context.Background())
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "Summary: ", prompt.String())
		})
	}
}

func TestLineReader_CancelAbandonsRead(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	lr := NewLineReader(pr, nil, "")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := lr.Capture(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

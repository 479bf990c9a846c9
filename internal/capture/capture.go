// Package capture obtains free-form worklog summaries from the user.
package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNothingCaptured is returned when the source produced no text.
var ErrNothingCaptured = errors.New("nothing captured")

// Source asynchronously produces one piece of text, e.g. a transcribed
// utterance or a typed line.
type Source interface {
	Capture(ctx context.Context) (string, error)
}

// Static is a Source that always yields the same text.
type Static string

// Capture returns the text, or ErrNothingCaptured when it is blank.
func (s Static) Capture(ctx context.Context) (string, error) {
	text := strings.TrimSpace(string(s))
	if text == "" {
		return "", ErrNothingCaptured
	}
	return text, nil
}

// LineReader captures a single line from r, optionally after writing a prompt.
type LineReader struct {
	r      *bufio.Reader
	prompt io.Writer
	label  string
}

// NewLineReader creates a LineReader. prompt may be nil.
func NewLineReader(r io.Reader, prompt io.Writer, label string) *LineReader {
	return &LineReader{r: bufio.NewReader(r), prompt: prompt, label: label}
}

type lineResult struct {
	line string
	err  error
}

// Capture reads the next line. It returns when a line arrives or ctx is done;
// in the latter case the pending read is abandoned.
func (l *LineReader) Capture(ctx context.Context) (string, error) {
	if l.prompt != nil && l.label != "" {
		fmt.Fprint(l.prompt, l.label)
	}

	ch := make(chan lineResult, 1)
	go func() {
		line, err := l.r.ReadString('\n')
		ch <- lineResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.err != nil && !errors.Is(res.err, io.EOF) {
			return "", fmt.Errorf("failed to read summary: %w", res.err)
		}
		text := strings.TrimSpace(res.line)
		if text == "" {
			return "", ErrNothingCaptured
		}
		return text, nil
	}
}

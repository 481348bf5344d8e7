package ai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Stream is a pull-based sequence of response fragments from one streaming
// completion call. It is finite and not restartable; a fresh SendStream call
// must be issued to retry. Close aborts the underlying transport, so a
// consumer abandoning the stream early does not leak the connection.
type Stream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	cancel context.CancelFunc
	done   bool
}

// Recv returns the next non-empty text fragment. It returns io.EOF once the
// provider terminates the stream, after which the stream is exhausted.
func (s *Stream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.finish()
			if err == io.EOF {
				return "", io.EOF
			}
			return "", fmt.Errorf("failed to read stream: %w", err)
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			s.finish()
			return "", io.EOF
		}

		var chunk completionResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks
			continue
		}

		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil {
			continue
		}
		if fragment := chunk.Choices[0].Delta.Content; fragment != "" {
			return fragment, nil
		}
	}
}

// Close aborts the stream. Safe to call more than once and after exhaustion.
func (s *Stream) Close() error {
	if s.done {
		return nil
	}
	s.finish()
	return nil
}

func (s *Stream) finish() {
	s.done = true
	s.cancel()
	s.body.Close()
}

package sink_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"peer-chat/domain"
	"peer-chat/sink"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var linePattern = regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] \S+ -> \S+: .*$`)

func readLines(t *testing.T, path string) []string {
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

func TestFileTranscript_Append(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "log_file.txt")
	transcript := sink.NewFileTranscript(path)
	at := time.Date(2024, time.March, 7, 9, 5, 3, 0, time.Local)

	// When two events are appended
	req.NoError(transcript.Append(context.Background(), domain.NewMessageEvent("A", "self", "hello", at)))
	req.NoError(transcript.Append(context.Background(), domain.NewMessageEvent("B", "self", "hi: there", at.Add(time.Second))))

	// Then the file holds one formatted line per event, in order
	lines := readLines(t, path)
	req.Equal([]string{
		"[2024-03-07 09:05:03] A -> self: hello",
		"[2024-03-07 09:05:04] B -> self: hi: there",
	}, lines)
	for _, line := range lines {
		req.Regexp(linePattern, line)
	}
}

func TestFileTranscript_Append_KeepsExistingContent(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "log_file.txt")
	req.NoError(os.WriteFile(path, []byte("previous line\n"), 0o644))
	transcript := sink.NewFileTranscript(path)

	req.NoError(transcript.Append(context.Background(), domain.NewMessageEvent("A", "self", "hello", time.Now())))

	lines := readLines(t, path)
	req.Len(lines, 2)
	req.Equal("previous line", lines[0])
}

func TestFileTranscript_Append_ConcurrentLinesDoNotInterleave(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "log_file.txt")
	transcript := sink.NewFileTranscript(path)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = transcript.Append(context.Background(), domain.NewMessageEvent("A", "self", fmt.Sprintf("message %d", i), time.Now()))
		}(i)
	}
	wg.Wait()

	lines := readLines(t, path)
	req.Len(lines, 50)
	for _, line := range lines {
		req.Regexp(linePattern, line)
	}
}

func TestFileTranscript_Append_Failure(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "missing", "log_file.txt")
	transcript := sink.NewFileTranscript(path)

	err := transcript.Append(context.Background(), domain.NewMessageEvent("A", "self", "hello", time.Now()))

	req.Error(err)
	req.Contains(err.Error(), "open transcript")
}

func TestFileTranscript_Append_MultiLineContentStaysOnOneLine(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "log_file.txt")
	transcript := sink.NewFileTranscript(path)
	at := time.Date(2024, time.March, 7, 9, 5, 3, 0, time.Local)

	// When the content carries line breaks
	req.NoError(transcript.Append(context.Background(), domain.NewMessageEvent("A", "self", "first\nsecond\r\nthird", at)))

	// Then the event still takes exactly one line
	lines := readLines(t, path)
	req.Equal([]string{`[2024-03-07 09:05:03] A -> self: first\nsecond\nthird`}, lines)
	req.Regexp(linePattern, lines[0])
}

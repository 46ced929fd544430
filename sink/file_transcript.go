package sink

import (
	"context"
	"fmt"
	"os"
	"peer-chat/contract"
	"peer-chat/domain"
	goruntime "runtime"
	"sync"
)

var _ contract.TranscriptSink = (*FileTranscript)(nil)

var newline = func() string {
	if goruntime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}()

// FileTranscript appends one line per event to a text file:
// "[<timestamp>] <sender> -> <receiver>: <content>".
// Appends from several goroutines, or several agents sharing the file, are
// serialized so lines never interleave.
type FileTranscript struct {
	mu   sync.Mutex
	path string
}

func NewFileTranscript(path string) *FileTranscript {
	return &FileTranscript{path: path}
}

func (f *FileTranscript) Name() string { return "file:" + f.path }

func (f *FileTranscript) Append(_ context.Context, evt domain.MessageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript %s: %w", f.path, err)
	}
	if _, err = file.WriteString(evt.TranscriptLine() + newline); err != nil {
		_ = file.Close()
		return fmt.Errorf("write transcript %s: %w", f.path, err)
	}
	return file.Close()
}

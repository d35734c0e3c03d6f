package logging

import (
	"encoding/json"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileWriter receives zerolog JSON lines and writes them as plain text
// into a size-rotated log file.
type FileWriter struct {
	mu   sync.Mutex
	file *lumberjack.Logger
}

// NewFileWriter creates a rotating file writer at path.
func NewFileWriter(path string) *FileWriter {
	return &FileWriter{
		file: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		},
	}
}

// Write implements io.Writer for zerolog.
// Format: timestamp [LEVEL] phase/component: message key=value...
func (w *FileWriter) Write(p []byte) (int, error) {
	n := len(p)

	w.mu.Lock()
	defer w.mu.Unlock()

	var fields map[string]interface{}
	if err := json.Unmarshal(p, &fields); err != nil {
		_, err := w.file.Write(p)
		return n, err
	}

	if _, err := w.file.Write([]byte(FormatEntry(time.Now(), fields))); err != nil {
		return n, err
	}
	return n, nil
}

// Close closes the underlying rotating file.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

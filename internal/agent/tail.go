package agent

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/EternisAI/silo-fleet/internal/api/http/dto"
)

const (
	maxTailLineLength = 500
	codeAnomaly       = "OUTPUT_ANOMALY"
)

var (
	levelPattern   = regexp.MustCompile(`(?i)\b(ERROR|CRITICAL|FATAL|WARN(?:ING)?|INFO|DEBUG)\b`)
	anomalyPattern = regexp.MustCompile(`(?i)(\bnan\b|-?\binf\b|\binfinity\b|threshold exceeded|drift detected)`)
	codePattern    = regexp.MustCompile(`[\[(]([A-Z_]{3,}\d*(?:_[A-Z_\d]+)*)[\])]`)
)

// LogSource yields new log entries each time it is polled.
type LogSource interface {
	Collect() []dto.LogEntry
}

// Tailer follows a set of files from their current end and keeps warning and
// error lines. A file that shrinks is read again from the start.
type Tailer struct {
	mu      sync.Mutex
	paths   []string
	offsets map[string]int64
	now     func() time.Time
}

func NewTailer(paths []string) *Tailer {
	t := &Tailer{
		offsets: make(map[string]int64),
		now:     time.Now,
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		t.paths = append(t.paths, p)
		if info, err := os.Stat(p); err == nil {
			t.offsets[p] = info.Size()
		}
	}
	return t
}

func (t *Tailer) Collect() []dto.LogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var entries []dto.LogEntry
	for _, p := range t.paths {
		got, err := t.readFile(p)
		if err != nil {
			slog.Warn("Failed to read watched log file", "path", p, "error", err)
			continue
		}
		entries = append(entries, got...)
	}
	return entries
}

func (t *Tailer) readFile(path string) ([]dto.LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	offset := t.offsets[path]
	if info.Size() < offset {
		offset = 0
	}
	if info.Size() == offset {
		return nil, nil
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}

	var entries []dto.LogEntry
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			// The writer is mid-line; pick the line up once it is complete.
			break
		}
		if err != nil {
			t.offsets[path] = offset
			return entries, err
		}
		offset += int64(len(line))
		entries = append(entries, t.parseLine(path, line)...)
	}
	t.offsets[path] = offset
	return entries, nil
}

func (t *Tailer) parseLine(path, raw string) []dto.LogEntry {
	line := strings.TrimSpace(cleanText(raw))
	if line == "" {
		return nil
	}

	level := "INFO"
	if m := levelPattern.FindStringSubmatch(line); m != nil {
		level = normalizeTailLevel(m[1])
	}

	msg := truncate(line, maxTailLineLength)

	switch level {
	case "ERROR", "WARN", "CRITICAL":
		return []dto.LogEntry{{
			Timestamp: t.now().UTC(),
			Level:     level,
			Code:      extractCode(line),
			Message:   msg,
			Meta:      map[string]any{"file": path},
		}}
	}

	if m := anomalyPattern.FindStringSubmatch(line); m != nil {
		return []dto.LogEntry{{
			Timestamp: t.now().UTC(),
			Level:     "WARN",
			Code:      codeAnomaly,
			Message:   msg,
			Meta:      map[string]any{"file": path, "anomaly": m[1]},
		}}
	}
	return nil
}

func normalizeTailLevel(level string) string {
	level = strings.ToUpper(level)
	switch {
	case strings.HasPrefix(level, "WARN"):
		return "WARN"
	case level == "FATAL":
		return "CRITICAL"
	}
	return level
}

func extractCode(line string) string {
	if m := codePattern.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	return ""
}

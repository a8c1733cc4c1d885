package collector

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// LogFiles locates and stores the per-server game logs
type LogFiles struct {
	dir string
}

// NewLogFiles creates the log directory if needed
func NewLogFiles(dir string) (*LogFiles, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	return &LogFiles{dir: dir}, nil
}

// Path returns the log file for a server
func (l *LogFiles) Path(serverID int64) string {
	return filepath.Join(l.dir, fmt.Sprintf("server_%d.log", serverID))
}

// Store replaces a server's log with the uploaded contents. Uploads are
// complete snapshots of a growing file, so a missing final newline is
// added to keep the last line countable.
func (l *LogFiles) Store(serverID int64, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(l.dir, fmt.Sprintf(".server_%d.*.upload", serverID))
	if err != nil {
		return 0, fmt.Errorf("creating upload temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	tw := &trailingNewlineWriter{w: tmp}
	n, err := io.Copy(tw, r)
	if err == nil {
		err = tw.finish()
	}
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("writing upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing upload: %w", err)
	}
	if err := os.Rename(tmpName, l.Path(serverID)); err != nil {
		return 0, fmt.Errorf("replacing log file: %w", err)
	}
	return n, nil
}

type trailingNewlineWriter struct {
	w    io.Writer
	last byte
	any  bool
}

func (t *trailingNewlineWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		t.last = p[len(p)-1]
		t.any = true
	}
	return t.w.Write(p)
}

func (t *trailingNewlineWriter) finish() error {
	if t.any && t.last != '\n' {
		_, err := t.w.Write([]byte{'\n'})
		return err
	}
	return nil
}

// LogInfo describes a log file on disk
type LogInfo struct {
	Exists     bool
	Size       int64
	ModifiedAt time.Time
	Lines      int
}

// Info stats and counts a server's log
func (l *LogFiles) Info(serverID int64) (LogInfo, error) {
	path := l.Path(serverID)
	stat, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return LogInfo{}, nil
	}
	if err != nil {
		return LogInfo{}, fmt.Errorf("stat log file: %w", err)
	}
	lines, err := CountLines(path)
	if err != nil {
		return LogInfo{}, err
	}
	return LogInfo{Exists: true, Size: stat.Size(), ModifiedAt: stat.ModTime(), Lines: lines}, nil
}

// ReadLines returns every complete line of the file. A final line without
// a newline is still being written and is left for the next read.
func ReadLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			// Partial line - don't consume it
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading line: %w", err)
		}
		lines = append(lines, strings.TrimRight(line, "\r\n"))
	}
	return lines, nil
}

// CountLines counts complete lines without holding them in memory
func CountLines(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	buf := make([]byte, 32*1024)
	count := 0
	for {
		n, err := file.Read(buf)
		for _, b := range buf[:n] {
			if b == '\n' {
				count++
			}
		}
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return 0, fmt.Errorf("counting lines: %w", err)
		}
	}
}

// ReadLastNLines returns the last n complete lines of a file, matching the
// tail of what ReadLines returns: blank lines count, and an unterminated
// final line is left out because ingestion has not seen it yet. Blocks are
// read backwards from the end until enough line breaks have been found.
func ReadLastNLines(path string, n int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if n <= 0 {
		return []string{}, nil
	}

	const blockSize = 4096
	var blocks [][]byte
	breaks := 0
	// n lines need n breaks, plus the one ending the line before them
	for pos := stat.Size(); pos > 0 && breaks <= n; {
		readSize := min(int64(blockSize), pos)
		pos -= readSize

		buf := make([]byte, readSize)
		if _, err := file.ReadAt(buf, pos); err != nil && err != io.EOF {
			return nil, fmt.Errorf("reading block: %w", err)
		}
		breaks += bytes.Count(buf, []byte{'\n'})
		blocks = append(blocks, buf)
	}
	slices.Reverse(blocks)
	tail := bytes.Join(blocks, nil)

	last := bytes.LastIndexByte(tail, '\n')
	if last < 0 {
		return []string{}, nil
	}
	lines := strings.Split(string(tail[:last]), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	return lines, nil
}

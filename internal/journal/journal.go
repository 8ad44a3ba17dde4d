package journal

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Keys stamped onto every journaled frame. They are stripped again on read.
const (
	seqKey        = "_seq"
	receivedAtKey = "_received_at"
)

var ErrInvalidFrame = errors.New("frame is not a JSON object")

// Entry is one journaled inbound frame.
type Entry struct {
	Seq        int64
	ReceivedAt time.Time
	Frame      []byte
}

// Journal appends raw inbound frames to a JSONL file and keeps at most
// maxSize of them, compacting the file when the limit is exceeded.
type Journal struct {
	path    string
	maxSize int
	mu      sync.Mutex
	append  *os.File
	lines   int
	seq     int64
	now     func() time.Time
}

func Open(path string, maxSize int) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	j := &Journal{
		path:    path,
		maxSize: maxSize,
		now:     time.Now,
	}

	entries, err := ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	j.lines = len(entries)
	if n := len(entries); n > 0 {
		j.seq = entries[n-1].Seq
	}

	if err := j.openAppend(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) openAppend() error {
	if j.append != nil {
		return nil
	}
	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal for append: %w", err)
	}
	j.append = file
	return nil
}

// Record appends one frame. Frames that are not JSON objects are refused.
func (j *Journal) Record(frame []byte) error {
	if !gjson.ValidBytes(frame) || !gjson.ParseBytes(frame).IsObject() {
		return ErrInvalidFrame
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	line, err := sjson.SetBytes(bytes.Clone(frame), seqKey, j.seq)
	if err != nil {
		return fmt.Errorf("failed to stamp frame: %w", err)
	}
	line, err = sjson.SetBytes(line, receivedAtKey, j.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to stamp frame: %w", err)
	}

	if err := j.openAppend(); err != nil {
		return err
	}
	if _, err := j.append.Write(append(line, '\n')); err != nil {
		return err
	}
	j.lines++

	if j.maxSize > 0 && j.lines > j.maxSize {
		return j.compact()
	}
	return nil
}

// compact rewrites the file with the newest maxSize lines.
func (j *Journal) compact() error {
	entries, err := ReadFile(j.path)
	if err != nil {
		return err
	}
	if len(entries) > j.maxSize {
		entries = entries[len(entries)-j.maxSize:]
	}

	tmpPath := j.path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create journal file: %w", err)
	}
	w := bufio.NewWriter(file)
	for _, e := range entries {
		if _, err := w.Write(append(e.line(), '\n')); err != nil {
			file.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	if j.append != nil {
		_ = j.append.Close()
		j.append = nil
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		return err
	}
	j.lines = len(entries)
	return j.openAppend()
}

func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lines
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.append == nil {
		return nil
	}
	err := j.append.Close()
	j.append = nil
	return err
}

func (e Entry) line() []byte {
	line, _ := sjson.SetBytes(bytes.Clone(e.Frame), seqKey, e.Seq)
	line, _ = sjson.SetBytes(line, receivedAtKey, e.ReceivedAt.UTC().Format(time.RFC3339Nano))
	return line
}

// ReadFile loads every valid entry of a journal file in order.
func ReadFile(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Read(file)
}

// Read parses journal lines. Invalid lines are skipped.
func Read(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if !gjson.ValidBytes(raw) {
			continue // Skip torn writes
		}
		meta := gjson.GetManyBytes(raw, seqKey, receivedAtKey)
		frame, err := sjson.DeleteBytes(bytes.Clone(raw), seqKey)
		if err != nil {
			continue
		}
		frame, err = sjson.DeleteBytes(frame, receivedAtKey)
		if err != nil {
			continue
		}
		entry := Entry{Seq: meta[0].Int(), Frame: frame}
		if ts, err := time.Parse(time.RFC3339Nano, meta[1].String()); err == nil {
			entry.ReceivedAt = ts
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

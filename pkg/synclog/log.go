package synclog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/helixsync/helixsync/pkg/errorkind"
	"github.com/helixsync/helixsync/pkg/fsoverlay"
)

const (
	// temporaryNamePrefix is used for the intermediate file created during
	// an atomic rewrite.
	temporaryNamePrefix = ".helix-synclog-"
)

// Log is an ordered, append-only sequence of Entry records with a
// secondary index by DecrFileName returning the most recent entry for
// that name.
type Log struct {
	path    string
	entries []*Entry
	index   map[string]*Entry
}

// Open loads a Log from path, creating an empty one if the file doesn't
// exist yet.
func Open(path string) (*Log, error) {
	l := &Log{path: path, index: make(map[string]*Entry)}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload re-reads the log from disk and rebuilds both the ordered list and
// the decr_file_name index, with the index taking the last occurrence per
// name.
func (l *Log) Reload() error {
	file, err := os.Open(l.path)
	if os.IsNotExist(err) {
		l.entries = nil
		l.index = make(map[string]*Entry)
		return nil
	} else if err != nil {
		return errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to open sync log: %w", err))
	}
	defer file.Close()

	var entries []*Entry
	index := make(map[string]*Entry)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		entry, err := decodeLine(line)
		if err != nil {
			return errorkind.Wrap(errorkind.Integrity, fmt.Errorf("corrupt sync log line: %w", err))
		}
		entries = append(entries, entry)
		index[entry.DecrFileName] = entry
	}
	if err := scanner.Err(); err != nil {
		return errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to read sync log: %w", err))
	}

	l.entries = entries
	l.index = index
	return nil
}

// Add appends entry to both the in-memory log and the persisted file
// (append, then fsync).
func (l *Log) Add(entry *Entry) error {
	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to open sync log for append: %w", err))
	}
	defer file.Close()

	if _, err := file.WriteString(encodeLine(entry) + "\n"); err != nil {
		return errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to append sync log entry: %w", err))
	}
	if err := file.Sync(); err != nil {
		return errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to fsync sync log: %w", err))
	}

	l.entries = append(l.entries, entry)
	l.index[entry.DecrFileName] = entry
	return nil
}

// FindByDecrFileName returns the most recent entry recorded for name, or
// nil if there is none.
func (l *Log) FindByDecrFileName(name string) *Entry {
	return l.index[name]
}

// Entries returns the full ordered history. Callers must not mutate the
// returned slice or its elements.
func (l *Log) Entries() []*Entry {
	return l.entries
}

// Latest returns one entry per distinct DecrFileName: the most recent
// entry recorded for that name. Order is unspecified.
func (l *Log) Latest() []*Entry {
	result := make([]*Entry, 0, len(l.index))
	for _, entry := range l.index {
		result = append(result, entry)
	}
	return result
}

// Compact rewrites the log to disk containing only the most recent entry
// per DecrFileName, using an atomic replace (write temp, rename). This is
// an optional maintenance operation; Reload after compaction still yields
// the same index, just from a shorter file.
func (l *Log) Compact() error {
	latest := make([]*Entry, 0, len(l.index))
	for _, entry := range l.index {
		latest = append(latest, entry)
	}

	var builder strings.Builder
	for _, entry := range latest {
		builder.WriteString(encodeLine(entry))
		builder.WriteByte('\n')
	}

	dir := filepath.Dir(l.path)
	temp, err := os.CreateTemp(dir, temporaryNamePrefix)
	if err != nil {
		return errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to create temporary log file: %w", err))
	}
	tempPath := temp.Name()
	if _, err := temp.WriteString(builder.String()); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to write temporary log file: %w", err))
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to close temporary log file: %w", err))
	}
	if err := os.Rename(tempPath, l.path); err != nil {
		os.Remove(tempPath)
		return errorkind.Wrap(errorkind.FilesystemTransient, fmt.Errorf("unable to replace log file: %w", err))
	}

	return l.Reload()
}

// encodeLine serializes an entry as a single tab-separated, quote-escaped
// line. Quoting (rather than a stricter format) keeps arbitrary path
// characters, including embedded tabs or newlines, round-trippable.
func encodeLine(e *Entry) string {
	fields := []string{
		strconv.Itoa(int(e.EntryType)),
		strconv.Quote(e.DecrFileName),
		strconv.FormatInt(e.DecrModifiedUTC.UTC().UnixNano(), 10),
		strconv.Quote(e.EncrFileName),
		strconv.FormatInt(e.EncrModifiedUTC.UTC().UnixNano(), 10),
	}
	return strings.Join(fields, "\t")
}

func decodeLine(line string) (*Entry, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 5 {
		return nil, fmt.Errorf("expected 5 fields, got %d", len(fields))
	}

	kindValue, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("invalid entry type: %w", err)
	}

	decrName, err := strconv.Unquote(fields[1])
	if err != nil {
		return nil, fmt.Errorf("invalid decrypted file name: %w", err)
	}
	decrNanos, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid decrypted modification time: %w", err)
	}
	encrName, err := strconv.Unquote(fields[3])
	if err != nil {
		return nil, fmt.Errorf("invalid encrypted file name: %w", err)
	}
	encrNanos, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid encrypted modification time: %w", err)
	}

	return &Entry{
		EntryType:       fsoverlay.Kind(kindValue),
		DecrFileName:    decrName,
		DecrModifiedUTC: time.Unix(0, decrNanos).UTC(),
		EncrFileName:    encrName,
		EncrModifiedUTC: time.Unix(0, encrNanos).UTC(),
	}, nil
}

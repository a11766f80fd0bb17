package collector

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/havenclimb/coursecup/internal/domain"
)

// Line is one complete log line together with the cursor that becomes
// durable once the line has been merged.
type Line struct {
	Text   string
	Cursor domain.IngestCursor
	ReadAt time.Time
}

// Tailer streams complete lines from an externally-owned, append-only log
// file. It resumes from a stored cursor, detects rotation by file identity
// change (and copytruncate by size shrink), and never emits partial lines.
// Delivery blocks rather than drops: the consumer persists the cursor
// after merging, which gives at-least-once semantics.
type Tailer struct {
	path         string
	pollInterval time.Duration
	retryBackoff time.Duration

	file     *os.File
	position int64
	identity string
	seeded   bool // true once a start position has been established

	Lines  chan Line
	Errors chan error
	done   chan struct{}
}

// NewTailer creates a tailer resuming from cursor. A nil cursor means
// first run: tailing starts at the current end of file, so historical
// events are not replayed.
func NewTailer(path string, cursor *domain.IngestCursor, pollInterval, retryBackoff time.Duration) *Tailer {
	t := &Tailer{
		path:         path,
		pollInterval: pollInterval,
		retryBackoff: retryBackoff,
		Lines:        make(chan Line, 100),
		Errors:       make(chan error, 10),
		done:         make(chan struct{}),
	}
	if cursor != nil {
		t.position = cursor.Offset
		t.identity = cursor.Identity
		t.seeded = true
	}
	return t
}

// Start begins tailing. The file not existing yet is not an error; the
// loop keeps retrying with backoff until it appears.
func (t *Tailer) Start() {
	go t.tailLoop()
}

// Stop stops the tailer
func (t *Tailer) Stop() {
	close(t.done)
}

// tailLoop polls for new content until stopped
func (t *Tailer) tailLoop() {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()
	defer func() {
		if t.file != nil {
			t.file.Close()
		}
	}()

	var retryUntil time.Time

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if time.Now().Before(retryUntil) {
				continue
			}
			if err := t.readNewContent(); err != nil {
				if os.IsNotExist(err) {
					// Log not there yet (or mid-rotation); back off quietly
					retryUntil = time.Now().Add(t.retryBackoff)
					continue
				}
				retryUntil = time.Now().Add(t.retryBackoff)
				select {
				case t.Errors <- err:
				default:
				}
			}
		}
	}
}

// ensureOpen opens the log file and positions the read offset, handling
// first run, resume, and rotation since last open.
func (t *Tailer) ensureOpen() error {
	if t.file != nil {
		return nil
	}

	file, err := os.Open(t.path)
	if err != nil {
		return err
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat file: %w", err)
	}
	ident := fileIdentity(stat)

	switch {
	case !t.seeded:
		// First run ever: only new events matter
		t.position = stat.Size()
	case t.identity != "" && ident != t.identity:
		// Rotated while we were closed: re-ingest the new file in full.
		// Safe because finish merges are idempotent.
		t.position = 0
	case stat.Size() < t.position:
		// Truncated in place
		t.position = 0
	}

	if _, err := file.Seek(t.position, io.SeekStart); err != nil {
		file.Close()
		return fmt.Errorf("seeking to %d: %w", t.position, err)
	}

	t.file = file
	t.identity = ident
	t.seeded = true
	return nil
}

// readNewContent reads any complete lines appended since the last read
func (t *Tailer) readNewContent() error {
	if err := t.ensureOpen(); err != nil {
		return err
	}

	// Rotation check: the path may now point at a different file than the
	// one we hold open (rename+create rotation)
	if stat, err := os.Stat(t.path); err == nil {
		if ident := fileIdentity(stat); ident != t.identity {
			t.file.Close()
			t.file = nil
			t.position = 0
			t.identity = ident
			return t.readNewContent()
		}
	}

	stat, err := t.file.Stat()
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}

	// Handle copytruncate: file size smaller than position
	if stat.Size() < t.position {
		t.position = 0
		if _, err := t.file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("seeking to start after truncate: %w", err)
		}
	}

	// No new content
	if stat.Size() == t.position {
		return nil
	}

	reader := bufio.NewReader(t.file)
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			// Partial line - don't advance position past it; re-seek so
			// the buffered remainder is re-read once complete
			if _, serr := t.file.Seek(t.position, io.SeekStart); serr != nil {
				return fmt.Errorf("rewinding partial line: %w", serr)
			}
			break
		}
		if err != nil {
			return fmt.Errorf("reading line: %w", err)
		}

		t.position += int64(len(line))

		text := line[:len(line)-1]
		if len(text) > 0 && text[len(text)-1] == '\r' {
			text = text[:len(text)-1]
		}
		if text == "" {
			continue
		}

		out := Line{
			Text: text,
			Cursor: domain.IngestCursor{
				FilePath: t.path,
				Offset:   t.position,
				Identity: t.identity,
			},
			ReadAt: time.Now().UTC(),
		}
		select {
		case t.Lines <- out:
		case <-t.done:
			return nil
		}
	}

	return nil
}

// fileIdentity derives a stable identity for rotation detection from the
// underlying inode. Returns "" where the platform stat is unavailable, in
// which case only copytruncate rotation is detected.
func fileIdentity(fi os.FileInfo) string {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return fmt.Sprintf("%d:%d", st.Dev, st.Ino)
	}
	return ""
}

// Package journal persists wire messages to rolling files named by the time
// they were opened, and reads them back in order.
package journal

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/wire"
)

// TimeLayout is the timestamp embedded in every journal file name.
const TimeLayout = "2006-01-02-15:04:05"

var ErrClosed = errors.New("journal closed")

type WriterOptions struct {
	Dir    string
	Prefix string
	// Suffix is the file extension without the dot. Default "journal".
	Suffix string
	// RollInterval is how long a file receives appends before the next one is
	// opened. Default 1h.
	RollInterval time.Duration
	Log          *slog.Logger
}

// Writer appends wire envelopes back to back to the current journal file.
type Writer struct {
	dir, prefix, suffix string
	roll                time.Duration
	log                 *slog.Logger
	now                 func() time.Time

	mu     sync.Mutex
	file   *os.File
	opened time.Time
	closed bool
}

func NewWriter(opts WriterOptions) (*Writer, error) {
	if opts.Dir == "" {
		return nil, errors.New("journal: dir is required")
	}
	if opts.Prefix == "" {
		return nil, errors.New("journal: prefix is required")
	}
	if opts.Suffix == "" {
		opts.Suffix = "journal"
	}
	if opts.RollInterval <= 0 {
		opts.RollInterval = time.Hour
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}
	return &Writer{
		dir:    opts.Dir,
		prefix: opts.Prefix,
		suffix: strings.TrimPrefix(opts.Suffix, "."),
		roll:   opts.RollInterval,
		log:    opts.Log.With(slog.String("journal", opts.Prefix)),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// FileName returns the name of the file opened at t.
func FileName(prefix, suffix string, t time.Time) string {
	return fmt.Sprintf("%s-%s.%s", prefix, t.UTC().Format(TimeLayout), suffix)
}

// Append writes msg to the current file, rolling first when it is due.
func (w *Writer) Append(msg wire.Message) error {
	b, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("journal: encode: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.rollLocked(); err != nil {
		return err
	}
	if _, err := w.file.Write(b); err != nil {
		return fmt.Errorf("journal: write %s: %w", w.file.Name(), err)
	}
	return nil
}

func (w *Writer) rollLocked() error {
	now := w.now()
	if w.file != nil && now.Sub(w.opened) < w.roll {
		return nil
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			w.log.Warn("close journal file failed", slog.String("file", w.file.Name()), slog.Any("error", err))
		}
		w.file = nil
	}

	path := filepath.Join(w.dir, FileName(w.prefix, w.suffix, now))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open %s: %w", path, err)
	}
	w.file = f
	w.opened = now
	w.log.Debug("journal file opened", slog.String("file", path))
	return nil
}

// Sync flushes the current file to stable storage.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

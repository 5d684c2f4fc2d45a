package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// rotationLimits is RotationConfig with sizes and ages parsed.
type rotationLimits struct {
	bytes   int64
	keepFor time.Duration
	keep    int
}

func limitsFrom(cfg *RotationConfig) (rotationLimits, error) {
	l := rotationLimits{
		bytes:   100 << 20,
		keepFor: 7 * 24 * time.Hour,
		keep:    3,
	}
	if cfg == nil {
		return l, nil
	}

	if cfg.MaxSize != "" {
		n, err := parseSize(cfg.MaxSize)
		if err != nil {
			return l, fmt.Errorf("invalid max_size: %w", err)
		}
		l.bytes = n
	}
	if cfg.MaxAge != "" {
		d, err := parseAge(cfg.MaxAge)
		if err != nil {
			return l, fmt.Errorf("invalid max_age: %w", err)
		}
		l.keepFor = d
	}
	if cfg.MaxBackups > 0 {
		l.keep = cfg.MaxBackups
	}
	return l, nil
}

// rotatingWriter appends to path until a write would push it past the
// size limit, then renames the file to a timestamped backup and starts
// a fresh one. Backups are swept by age and count.
type rotatingWriter struct {
	path   string
	limits rotationLimits

	mu      sync.Mutex
	out     *os.File
	written int64
}

func newRotatingWriter(path string, cfg *RotationConfig) (io.Writer, error) {
	limits, err := limitsFrom(cfg)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &rotatingWriter{path: path, limits: limits}
	if err := w.reopen(); err != nil {
		return nil, err
	}

	go w.sweepBackups()

	return w, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.out == nil {
		if err := w.reopen(); err != nil {
			return 0, err
		}
	}

	if w.written+int64(len(p)) > w.limits.bytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.out.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *rotatingWriter) reopen() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	w.out = f
	w.written = info.Size()
	return nil
}

// rotate moves the live file aside under a timestamped name and opens
// a fresh one. Missing live file is fine, someone may have removed it.
func (w *rotatingWriter) rotate() error {
	if w.out != nil {
		_ = w.out.Close()
		w.out = nil
	}

	if err := os.Rename(w.path, w.backupName(time.Now())); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	if err := w.reopen(); err != nil {
		return err
	}

	go w.sweepBackups()

	return nil
}

func (w *rotatingWriter) backupName(at time.Time) string {
	ext := filepath.Ext(w.path)
	return fmt.Sprintf("%s.%s%s", strings.TrimSuffix(w.path, ext), at.Format("20060102-150405"), ext)
}

// sweepBackups drops backups older than the age limit, then trims the
// survivors oldest-first down to the count limit.
func (w *rotatingWriter) sweepBackups() {
	ext := filepath.Ext(w.path)
	matches, err := filepath.Glob(strings.TrimSuffix(w.path, ext) + ".*" + ext)
	if err != nil {
		return
	}

	type backup struct {
		path string
		mod  time.Time
	}
	var kept []backup

	cutoff := time.Now().Add(-w.limits.keepFor)
	for _, m := range matches {
		if m == w.path {
			continue
		}
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(m)
			continue
		}
		kept = append(kept, backup{path: m, mod: info.ModTime()})
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].mod.Before(kept[j].mod) })

	for len(kept) > w.limits.keep {
		_ = os.Remove(kept[0].path)
		kept = kept[1:]
	}
}

var sizeSuffixes = []struct {
	suffix string
	mult   int64
}{
	{"KB", 1 << 10},
	{"MB", 1 << 20},
	{"GB", 1 << 30},
	{"B", 1},
}

// parseSize converts "100MB" style strings to bytes. A bare number is
// taken as bytes.
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))

	var mult int64 = 1
	for _, ss := range sizeSuffixes {
		if strings.HasSuffix(s, ss.suffix) {
			mult = ss.mult
			s = strings.TrimSuffix(s, ss.suffix)
			break
		}
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	return n * mult, nil
}

// parseAge converts "7d" style strings to a duration, falling back to
// time.ParseDuration for s/m/h forms.
func parseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))

	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}

	return time.ParseDuration(s)
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.out == nil {
		return nil
	}
	err := w.out.Close()
	w.out = nil
	return err
}

// Package dropdir picks up an export file that another process writes into
// a directory.
//
// A fetch optionally starts a trigger command (for example a browser
// automation script that clicks "export"), then waits for a .csv or .json
// file to appear, waits for its size to settle, decodes it and removes or
// archives it.
package dropdir

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yndnr/rowcache/internal/source"
)

// Defaults.
const (
	DefaultPollInterval   = 5 * time.Second
	DefaultWaitTimeout    = 300 * time.Second
	DefaultSettleInterval = time.Second
)

// DirEnv is set in the trigger command's environment to the drop directory.
const DirEnv = "ROWCACHE_DROP_DIR"

// RejectedSuffix is appended to files that fail to decode so they are not
// picked up again.
const RejectedSuffix = ".rejected"

// ErrNoFile is returned when no export appears before the wait timeout.
var ErrNoFile = errors.New("dropdir: no export file appeared")

// Config describes the drop directory.
type Config struct {
	Dir string

	// TriggerCommand is run at the start of every fetch when set. argv[0]
	// is resolved through PATH.
	TriggerCommand []string

	// PollInterval is the rescan period. It also covers filesystems where
	// fsnotify is unavailable.
	PollInterval time.Duration

	// WaitTimeout bounds the wait for a file to appear.
	WaitTimeout time.Duration

	// SettleInterval is the gap between the two size checks that decide a
	// file is complete.
	SettleInterval time.Duration

	// ArchiveDir receives processed files. Empty removes them instead.
	ArchiveDir string

	Format source.Format
}

// Source is a FetchSource backed by a drop directory.
type Source struct {
	cfg    Config
	logger *slog.Logger
}

var _ source.FetchSource = (*Source)(nil)

// New validates cfg. The directory must exist.
func New(cfg Config, logger *slog.Logger) (*Source, error) {
	if cfg.Dir == "" {
		return nil, errors.New("dropdir: dir is required")
	}
	fi, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("dropdir: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("dropdir: %s is not a directory", cfg.Dir)
	}
	if cfg.ArchiveDir != "" {
		if err := os.MkdirAll(cfg.ArchiveDir, 0o750); err != nil {
			return nil, fmt.Errorf("dropdir: create archive dir: %w", err)
		}
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.SettleInterval <= 0 {
		cfg.SettleInterval = DefaultSettleInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Source{
		cfg:    cfg,
		logger: logger.With("component", "dropdir", "dir", cfg.Dir),
	}, nil
}

// Name identifies the directory.
func (s *Source) Name() string {
	return "dropdir:" + s.cfg.Dir
}

// Fetch runs the trigger, waits for an export and decodes it. A file that
// is already waiting in the directory is used without running the trigger.
func (s *Source) Fetch(ctx context.Context) (*source.Result, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.WaitTimeout)
	defer cancel()

	path, err := s.findExport()
	if err != nil {
		return nil, err
	}

	if path == "" {
		var cmdDone <-chan error
		if len(s.cfg.TriggerCommand) > 0 {
			if cmdDone, err = s.startTrigger(waitCtx); err != nil {
				return nil, err
			}
		}
		if path, err = s.waitForExport(waitCtx, cmdDone); err != nil {
			return nil, err
		}
	}

	if err := s.waitStable(waitCtx, path); err != nil {
		return nil, err
	}
	return s.consume(path)
}

// startTrigger launches the trigger command. The returned channel yields
// the command's exit status once.
func (s *Source) startTrigger(ctx context.Context) (<-chan error, error) {
	argv := s.cfg.TriggerCommand
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), DirEnv+"="+s.cfg.Dir)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("dropdir: start trigger %q: %w", argv[0], err)
	}
	s.logger.Info("export trigger started", "command", argv[0], "pid", cmd.Process.Pid)

	done := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		if err != nil {
			err = fmt.Errorf("dropdir: trigger %q: %w: %s", argv[0], err, lastLine(output.String()))
		}
		done <- err
	}()
	return done, nil
}

// waitForExport blocks until an export file exists. It reacts to fsnotify
// events and rescans every PollInterval regardless.
func (s *Source) waitForExport(ctx context.Context, cmdDone <-chan error) (string, error) {
	var events <-chan fsnotify.Event
	if w, err := fsnotify.NewWatcher(); err != nil {
		s.logger.Warn("fsnotify unavailable, polling only", "error", err)
	} else {
		defer w.Close()
		if err := w.Add(s.cfg.Dir); err != nil {
			s.logger.Warn("watch drop dir failed, polling only", "error", err)
		} else {
			events = w.Events
		}
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("%w within %s", ErrNoFile, s.cfg.WaitTimeout)
			}
			return "", ctx.Err()

		case err := <-cmdDone:
			cmdDone = nil
			if err != nil {
				return "", err
			}
			s.logger.Debug("export trigger exited, waiting for file")

		case ev := <-events:
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}

		case <-ticker.C:
		}

		path, err := s.findExport()
		if err != nil {
			return "", err
		}
		if path != "" {
			return path, nil
		}
	}
}

// findExport returns the oldest .csv or .json file in the directory, or "".
func (s *Source) findExport() (string, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return "", fmt.Errorf("dropdir: scan: %w", err)
	}

	type candidate struct {
		path string
		mod  time.Time
	}
	var found []candidate
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") {
			continue
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".csv", ".json":
		default:
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, candidate{path: filepath.Join(s.cfg.Dir, name), mod: info.ModTime()})
	}
	if len(found) == 0 {
		return "", nil
	}

	sort.Slice(found, func(i, j int) bool { return found[i].mod.Before(found[j].mod) })
	return found[0].path, nil
}

// waitStable returns once the file's size is unchanged across one
// SettleInterval.
func (s *Source) waitStable(ctx context.Context, path string) error {
	prev := int64(-1)
	for {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("dropdir: stat export: %w", err)
		}
		if info.Size() == prev {
			return nil
		}
		prev = info.Size()

		select {
		case <-ctx.Done():
			return fmt.Errorf("dropdir: export %s still growing: %w", filepath.Base(path), ctx.Err())
		case <-time.After(s.cfg.SettleInterval):
		}
	}
}

// consume decodes path and disposes of it. A file that fails to decode is
// renamed with RejectedSuffix and left in place.
func (s *Source) consume(path string) (*source.Result, error) {
	format, err := source.DetectFormat(s.cfg.Format, "", path)
	if err != nil {
		return nil, fmt.Errorf("dropdir: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dropdir: open export: %w", err)
	}
	res, err := source.Decode(f, format)
	f.Close()

	if err != nil {
		if rerr := os.Rename(path, path+RejectedSuffix); rerr != nil {
			s.logger.Warn("could not set aside rejected export", "file", path, "error", rerr)
		}
		return nil, fmt.Errorf("dropdir: decode %s: %w", filepath.Base(path), err)
	}

	if err := s.dispose(path); err != nil {
		// A leftover file is consumed again by the next fetch.
		s.logger.Warn("could not dispose of export", "file", path, "error", err)
	}

	s.logger.Info("export consumed",
		"file", filepath.Base(path),
		"format", format,
		"records", len(res.Records))
	return res, nil
}

func (s *Source) dispose(path string) error {
	if s.cfg.ArchiveDir == "" {
		return os.Remove(path)
	}
	name := time.Now().UTC().Format("20060102T150405Z") + "-" + filepath.Base(path)
	return os.Rename(path, filepath.Join(s.cfg.ArchiveDir, name))
}

func lastLine(out string) string {
	out = strings.TrimSpace(out)
	if i := strings.LastIndexByte(out, '\n'); i >= 0 {
		return out[i+1:]
	}
	return out
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/agentworkforce/relaydiff/internal/httpapi"
	"github.com/agentworkforce/relaydiff/internal/relaydiff"
)

const (
	devNull            = "/dev/null"
	shutdownTimeout    = 5 * time.Second
	defaultIdleTimeout = 2 * time.Minute
	diffContextLines   = 3
	// closeGrace lets the close event reach the browser before the listener
	// goes away.
	closeGrace = 300 * time.Millisecond
)

var (
	openDiffFile       string
	openAddr           string
	openNoBrowser      bool
	openForeground     bool
	openIdleTimeout    time.Duration
	openTimestamp      int64
	openRemoveDiffFile bool
)

var openCmd = &cobra.Command{
	Use:   "open <from> [to [merged]]",
	Short: "Register one file diff and serve it in a browser tab",
	Long: `open is the difftool entry point. The diff is computed from the two files
unless --diff-file names a rendered diff ("-" reads stdin). Paths equal to
/dev/null mark added or removed files.

The viewer runs in the background so the difftool can move on to the next
file; --foreground keeps it attached to the terminal.`,
	Args: cobra.RangeArgs(1, 3),
	RunE: runOpen,
}

func init() {
	openCmd.Flags().StringVar(&openDiffFile, "diff-file", "", `read the rendered diff from this file ("-" for stdin)`)
	openCmd.Flags().StringVar(&openAddr, "addr", "", "listen address (default RELAYDIFF_ADDR or 127.0.0.1:0)")
	openCmd.Flags().BoolVar(&openNoBrowser, "no-browser", false, "print the viewer URL instead of opening a browser")
	openCmd.Flags().BoolVar(&openForeground, "foreground", false, "serve the viewer from this process instead of the background")
	openCmd.Flags().DurationVar(&openIdleTimeout, "idle-timeout", defaultIdleTimeout, "stop a settled viewer once no browser has been connected for this long (0 keeps it)")
	openCmd.Flags().Int64Var(&openTimestamp, "timestamp", 0, "batch timestamp in unix milliseconds")
	openCmd.Flags().BoolVar(&openRemoveDiffFile, "remove-diff-file", false, "delete --diff-file after reading it")
	_ = openCmd.Flags().MarkHidden("timestamp")
	_ = openCmd.Flags().MarkHidden("remove-diff-file")
	rootCmd.AddCommand(openCmd)
}

func runOpen(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	ts := openTimestamp
	if ts <= 0 {
		ts = relaydiff.UnixMillis(time.Now())
	}
	// difftools delete their temporary copies once the tool returns, so the
	// diff is taken before detaching.
	var diff string
	if openDiffFile != "" {
		diff, err = readDiffPayload(openDiffFile, openRemoveDiffFile, cmd.InOrStdin())
	} else {
		diff, err = fileDiff(args, wd, os.TempDir())
	}
	if err != nil {
		return err
	}
	if !openForeground {
		return detachViewer(args, diff, ts)
	}
	return serveViewer(cmd, buildMetadata(args, wd, os.TempDir(), diff, ts), diff)
}

func serveViewer(cmd *cobra.Command, meta relaydiff.SessionMetadata, diff string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	if openAddr != "" {
		s.Addr = openAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, store, err := openService(ctx, s)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := svc.Close(); closeErr != nil {
			logger.Warn().Err(closeErr).Msg("close entry store")
		}
	}()

	server := httpapi.NewServerWithConfig(httpapi.ServerConfig{Logger: &logger})
	opts := relaydiff.ControllerOptions{
		Surface: server,
		Host:    server,
		Logger:  &logger,
	}
	watcher, err := relaydiff.WatchStore(store, &logger)
	if err != nil {
		logger.Warn().Err(err).Msg("store watch unavailable, polling only")
	}
	if watcher != nil {
		defer watcher.Close()
		opts.Notifier = watcher
	}
	ctl, err := relaydiff.NewController(svc, meta, diff, opts)
	if err != nil {
		return err
	}
	server.Attach(ctl)

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	addr := ln.Addr().String()
	if err := publishViewerAddr(addr); err != nil {
		logger.Warn().Err(err).Msg("record viewer address")
	}
	defer withdrawViewerAddr(addr)

	url := "http://" + addr + "/"
	logger.Info().
		Str("url", url).
		Str("entry", meta.EntryID()).
		Str("path", meta.DisplayPath()).
		Msg("viewer listening")
	if openNoBrowser {
		fmt.Fprintln(cmd.OutOrStdout(), url)
	} else if err := browser.OpenURL(url); err != nil {
		logger.Warn().Err(err).Str("url", url).Msg("open browser failed")
	}

	state := ctl.Run(ctx)
	logger.Info().Str("state", state.String()).Msg("poll finished")
	var exitErr error
	if state == relaydiff.StateClosing {
		time.Sleep(closeGrace)
	} else {
		exitErr = awaitViewerExit(ctx, server, openIdleTimeout, serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("viewer shutdown")
	}
	return exitErr
}

// awaitViewerExit blocks a settled viewer until it is signalled, superseded,
// its listener fails or no browser has been connected for idleTimeout.
func awaitViewerExit(ctx context.Context, server *httpapi.Server, idleTimeout time.Duration, serveErr <-chan error) error {
	interval := idleTimeout / 4
	if interval <= 0 || interval > time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	idleSince := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-server.Closed():
			return nil
		case err := <-serveErr:
			return err
		case <-ticker.C:
			if server.Subscribers() > 0 {
				idleSince = time.Now()
				continue
			}
			if idleTimeout > 0 && time.Since(idleSince) >= idleTimeout {
				logger.Info().Dur("idle", idleTimeout).Msg("no browser connected, stopping viewer")
				return nil
			}
		}
	}
}

func openService(ctx context.Context, s settings) (*relaydiff.Service, relaydiff.EntryStore, error) {
	store, err := relaydiff.BuildEntryStoreFromDSN(s.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open entry store %s: %w", s.DSN, err)
	}
	svc, err := relaydiff.OpenService(ctx, store, relaydiff.ServiceOptions{
		Config: s.Config,
		Logger: &logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	sweep := svc.InitialSweep()
	logger.Debug().
		Int("scanned", sweep.Scanned).
		Int("removedMetadata", sweep.RemovedMetadata).
		Int("removedBlobs", sweep.RemovedBlobs).
		Int("failed", sweep.Failed).
		Msg("initial sweep")
	return svc, store, nil
}

// readDiffPayload reads a rendered diff from path, or from stdin when path
// is "-".
func readDiffPayload(path string, remove bool, stdin io.Reader) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if remove {
		if err := os.Remove(path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("remove diff payload")
		}
	}
	return string(data), nil
}

// fileDiff renders a unified diff of the two sides named by args.
func fileDiff(args []string, wd, tempDir string) (string, error) {
	fromSide, toSide, _ := comparisonSides(args)
	fromLabel, toLabel, _ := comparisonPaths(args, wd, tempDir)
	a, err := readSide(fromSide)
	if err != nil {
		return "", err
	}
	b, err := readSide(toSide)
	if err != nil {
		return "", err
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(a),
		B:        splitLines(b),
		FromFile: diffLabel("a/", fromLabel),
		ToFile:   diffLabel("b/", toLabel),
		Context:  diffContextLines,
	})
}

// splitLines keeps line endings and, unlike difflib.SplitLines, adds no
// phantom empty line after a final newline.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if last := len(lines) - 1; lines[last] == "" {
		lines = lines[:last]
	} else {
		lines[last] += "\n"
	}
	return lines
}

func readSide(path string) (string, error) {
	if path == "" || path == devNull {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func diffLabel(prefix, path string) string {
	if path == devNull {
		return path
	}
	return prefix + strings.TrimPrefix(path, "/")
}

// comparisonSides splits difftool arguments into from, to and merged. A
// single path stands for both sides.
func comparisonSides(args []string) (string, string, string) {
	from, to, merged := args[0], args[0], ""
	if len(args) > 1 {
		to = args[1]
	}
	if len(args) > 2 {
		merged = args[2]
	}
	return from, to, merged
}

// comparisonPaths returns the paths an entry is listed under. Difftools hand
// over one side as a temporary copy; that side takes the path of the other so
// the entry is listed under the real file.
func comparisonPaths(args []string, wd, tempDir string) (string, string, string) {
	from, to, merged := comparisonSides(args)
	from, to = normalizeTempPaths(from, to, tempDir)
	return relativePath(from, wd), relativePath(to, wd), relativePath(merged, wd)
}

// buildMetadata describes the comparison named by args as seen from wd.
func buildMetadata(args []string, wd, tempDir, diff string, ts int64) relaydiff.SessionMetadata {
	from, to, merged := comparisonPaths(args, wd, tempDir)
	change := relaydiff.ChangeFromPaths(from, to)
	if change == relaydiff.ChangeModified && merged == "" && from != to {
		change = relaydiff.ChangeRenamed
	}
	return relaydiff.SessionMetadata{
		DirectoryHash:  relaydiff.HashString(wd),
		DirectoryPath:  wd,
		BatchTimestamp: ts,
		ContentHash:    contentHash(from, to, merged, diff),
		MergedPath:     merged,
		FromPath:       from,
		ToPath:         to,
		Change:         change,
		RegisteredAt:   ts,
	}
}

// contentHash identifies one file pair: equal diffs of different files, such
// as two empty diffs, still get distinct keys.
func contentHash(from, to, merged, diff string) string {
	return relaydiff.HashString(strings.Join([]string{from, to, merged, diff}, "\x00"))
}

func normalizeTempPaths(from, to, tempDir string) (string, string) {
	fromTemp := isTempPath(from, tempDir)
	toTemp := isTempPath(to, tempDir)
	switch {
	case fromTemp && !toTemp && to != devNull:
		return to, to
	case toTemp && !fromTemp && from != devNull:
		return from, from
	default:
		return from, to
	}
}

func isTempPath(path, tempDir string) bool {
	if path == "" || path == devNull || tempDir == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(tempDir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// relativePath rewrites absolute paths under wd relative to it, slash separated.
func relativePath(path, wd string) string {
	if path == "" || path == devNull {
		return path
	}
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(wd, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return filepath.ToSlash(path)
		}
		path = rel
	}
	return filepath.ToSlash(filepath.Clean(path))
}

package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// detachViewer hands the diff to a background `open --foreground` process
// and returns as soon as it has started.
func detachViewer(args []string, diff string, ts int64) error {
	dir, err := stateDir()
	if err != nil {
		return err
	}
	payload, err := os.CreateTemp(dir, "payload-*.diff")
	if err != nil {
		return err
	}
	if _, err := payload.WriteString(diff); err != nil {
		_ = payload.Close()
		_ = os.Remove(payload.Name())
		return err
	}
	if err := payload.Close(); err != nil {
		_ = os.Remove(payload.Name())
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		_ = os.Remove(payload.Name())
		return err
	}
	logFile, err := os.OpenFile(filepath.Join(dir, "viewer.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		_ = os.Remove(payload.Name())
		return err
	}
	defer logFile.Close()

	child := exec.Command(exe, detachedArgs(args, payload.Name(), ts)...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.SysProcAttr = detachedProcAttr()
	if err := child.Start(); err != nil {
		_ = os.Remove(payload.Name())
		return err
	}
	logger.Debug().Int("pid", child.Process.Pid).Str("log", logFile.Name()).Msg("viewer started in background")
	return child.Process.Release()
}

// detachedArgs rebuilds the command line for the background viewer,
// carrying over every setting given on this one.
func detachedArgs(args []string, payloadPath string, ts int64) []string {
	out := []string{
		"open", "--foreground",
		"--diff-file", payloadPath,
		"--remove-diff-file",
		"--timestamp", strconv.FormatInt(ts, 10),
		"--idle-timeout", openIdleTimeout.String(),
	}
	for _, flag := range []struct{ name, value string }{
		{"--store", storeFlag},
		{"--config", configFlag},
		{"--log-level", logLevelFlag},
		{"--addr", openAddr},
	} {
		if flag.value != "" {
			out = append(out, flag.name, flag.value)
		}
	}
	if openNoBrowser {
		out = append(out, "--no-browser")
	}
	out = append(out, "--")
	return append(out, args...)
}

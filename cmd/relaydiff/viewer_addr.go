package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const viewerAddrFile = "viewer.addr"

// publishViewerAddr records addr as the latest viewer so nav and watch can
// find it without --addr.
func publishViewerAddr(addr string) error {
	dir, err := stateDir()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, viewerAddrFile+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(addr + "\n"); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, viewerAddrFile))
}

// withdrawViewerAddr removes the record if it still names addr; a newer
// viewer may have replaced it.
func withdrawViewerAddr(addr string) {
	dir, err := stateDir()
	if err != nil {
		return
	}
	path := filepath.Join(dir, viewerAddrFile)
	data, err := os.ReadFile(path)
	if err != nil || strings.TrimSpace(string(data)) != addr {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Str("path", path).Msg("remove viewer address")
	}
}

func readViewerAddr() (string, error) {
	dir, err := stateDir()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(dir, viewerAddrFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("no running viewer found; pass --addr or set RELAYDIFF_ADDR")
		}
		return "", err
	}
	addr := strings.TrimSpace(string(data))
	if addr == "" {
		return "", fmt.Errorf("no running viewer found; pass --addr or set RELAYDIFF_ADDR")
	}
	return addr, nil
}

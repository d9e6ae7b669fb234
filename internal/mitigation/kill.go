package mitigation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PeerPIDs reads the process IDs recorded in files matching glob, skipping exclude.
func PeerPIDs(glob string, exclude ...int) ([]int, error) {
	if strings.TrimSpace(glob) == "" {
		return nil, nil
	}
	paths, err := filepath.Glob(glob)
	if err != nil {
		return nil, fmt.Errorf("match pid files: %w", err)
	}
	skip := make(map[int]struct{}, len(exclude))
	for _, pid := range exclude {
		skip[pid] = struct{}{}
	}
	pids := make([]int, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil || pid <= 0 {
			continue
		}
		if _, ok := skip[pid]; ok {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// PeerKiller returns a kill function terminating every process recorded under glob,
// except the processes excluded at call time by self().
func PeerKiller(logger *slog.Logger, glob string, self func() []int) func(ctx context.Context) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) {
		var exclude []int
		if self != nil {
			exclude = self()
		}
		pids, err := PeerPIDs(glob, exclude...)
		if err != nil {
			logger.Warn("list peer processes failed", slog.Any("error", err))
			return
		}
		for _, pid := range pids {
			if err := terminate(pid); err != nil {
				logger.Warn("kill peer process failed", slog.Int("pid", pid), slog.Any("error", err))
				continue
			}
			logger.Info("killed peer process", slog.Int("pid", pid))
		}
	}
}

package scheduler

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
)

// Maintenance runs the low-frequency background jobs on a cron runner: the
// periodic discovery sweep and garbage collection of generated audio files.
type Maintenance struct {
	cron   *cron.Cron
	logger *log.Logger
}

// NewMaintenance creates an empty maintenance runner.
func NewMaintenance(logger *log.Logger) *Maintenance {
	if logger == nil {
		logger = log.Default()
	}
	return &Maintenance{cron: cron.New(), logger: logger}
}

// AddDiscoverySweep schedules sweep every ten minutes.
func (m *Maintenance) AddDiscoverySweep(sweep func()) error {
	_, err := m.cron.AddFunc("@every 10m", sweep)
	return err
}

// AddTempFileGC schedules hourly cleanup of dir, removing files older than
// maxAge.
func (m *Maintenance) AddTempFileGC(dir string, maxAge time.Duration) error {
	_, err := m.cron.AddFunc("@every 1h", func() {
		removed, err := SweepTempFiles(dir, maxAge, time.Now())
		if err != nil {
			m.logger.Printf("SCHED: temp file gc in %s: %v", dir, err)
			return
		}
		if removed > 0 {
			m.logger.Printf("SCHED: temp file gc removed %d files from %s", removed, dir)
		}
	})
	return err
}

// Start begins running the scheduled jobs.
func (m *Maintenance) Start() { m.cron.Start() }

// Stop stops the runner and waits for running jobs.
func (m *Maintenance) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}

// SweepTempFiles removes regular files in dir whose modification time lies
// more than maxAge before now. Subdirectories are left alone.
func SweepTempFiles(dir string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	cutoff := now.Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

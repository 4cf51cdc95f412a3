package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	SpoolDir           = filepath.Join(os.TempDir(), "iam-audit-spool")
	MaxSpoolSize int64 = 1024 * 1024 * 1024 // 1GB

	// SpoolDropHook, if set, is called once for every replay file evicted
	// by rotateSpool so the owning service can increment its
	// iam_audit_spool_drops_total counter, per §5's "on overflow, drop
	// oldest with a counter increment" requirement.
	SpoolDropHook func()
)

func ConfigureFailover(dir string, maxMB int64) {
	if dir != "" {
		SpoolDir = dir
	}
	if maxMB > 0 {
		MaxSpoolSize = maxMB * 1024 * 1024
	}
	_ = os.MkdirAll(SpoolDir, 0750)
}

// SpoolEvent writes evt to the local failover log. If the spool has hit
// its size bound, the oldest rotated file is dropped to make room; if
// rotation itself fails the event is lost and the caller is told so.
func SpoolEvent(evt AuditEvent) error {
	if isSpoolFull() {
		if err := rotateSpool(); err != nil {
			return fmt.Errorf("spool full and rotation failed: %v", err)
		}
	}

	payload := FailoverEvent{
		EventID:   evt.EventID.String(),
		Payload:   evt,
		Timestamp: time.Now(),
	}

	line, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	// File Rotation by Name (hourly or by size?)
	// Simple strategy: current.log. append.
	filename := filepath.Join(SpoolDir, "audit_spool.log")

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}

	return nil
}

func isSpoolFull() bool {
	var size int64
	filepath.Walk(SpoolDir, func(_ string, info fs.FileInfo, err error) error {
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size >= MaxSpoolSize
}

// rotateSpool drops the oldest replay_*.log file to make room for new
// writes once the spool directory hits MaxSpoolSize. The active
// audit_spool.log is never touched here; only files already queued for
// replay are eligible.
func rotateSpool() error {
	entries, err := os.ReadDir(SpoolDir)
	if err != nil {
		return err
	}

	var oldest string
	var oldestMod time.Time
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "replay_") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if oldest == "" || info.ModTime().Before(oldestMod) {
			oldest = e.Name()
			oldestMod = info.ModTime()
		}
	}
	if oldest == "" {
		return fmt.Errorf("spool full and no replay file to evict")
	}
	if err := os.Remove(filepath.Join(SpoolDir, oldest)); err != nil {
		return err
	}
	if SpoolDropHook != nil {
		SpoolDropHook()
	}
	return nil
}

// Replayer (Background Worker)
func (s *Service) StartReplayer(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ReplaySpool(ctx)
			}
		}
	}()
}

var replayLock sync.Mutex

func (s *Service) ReplaySpool(ctx context.Context) {
	replayLock.Lock()
	defer replayLock.Unlock()

	filename := filepath.Join(SpoolDir, "audit_spool.log")
	info, err := os.Stat(filename)
	if os.IsNotExist(err) || info.Size() == 0 {
		return
	}

	// Rename to replay
	replayFile := filepath.Join(SpoolDir, fmt.Sprintf("replay_%d.log", time.Now().UnixNano()))
	if err := os.Rename(filename, replayFile); err != nil {
		log.Printf("Failed to rotate spool for replay: %v", err)
		return
	}

	f, err := os.Open(replayFile)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var succeeded, failed int

	for scanner.Scan() {
		var fe FailoverEvent
		if err := json.Unmarshal(scanner.Bytes(), &fe); err != nil {
			failed++
			continue
		}

		// WriteEvent re-spools to audit_spool.log on failure, so a still-down
		// database just moves the event back to the active spool file.
		if err := s.WriteEvent(ctx, fe.Payload); err == nil {
			succeeded++
		}
	}

	f.Close()
	os.Remove(replayFile)

	if succeeded > 0 {
		log.Printf("Audit Replay: %d events flushed", succeeded)
	}
}

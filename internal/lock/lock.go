// Package lock implements the advisory per-spec lock and PID files. They
// are liveness hints for detecting abandoned work; the status machine is
// what actually rejects a second start.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrLocked = errors.New("spec is locked by another process")

// Info is written into a held lock file.
type Info struct {
	SpecID     string `json:"spec_id"`
	PID        int    `json:"pid"`
	Owner      string `json:"owner"`
	AcquiredAt string `json:"acquired_at"`
}

// Manager owns the locks/ and pids/ directories under Dir.
type Manager struct {
	Dir string
	Now func() time.Time
}

func (m Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m Manager) LockPath(id string) string {
	return filepath.Join(m.Dir, "locks", id+".lock")
}

func (m Manager) PIDPath(id string) string {
	return filepath.Join(m.Dir, "pids", id+".pid")
}

// Handle is a held lock.
type Handle struct {
	Info Info
	f    *os.File
	path string
}

// Acquire takes the lock for id without blocking.
func (m Manager) Acquire(id string) (*Handle, error) {
	path := m.LockPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := openLocked(id, path)
	if err != nil {
		return nil, err
	}
	info := Info{
		SpecID:     id,
		PID:        os.Getpid(),
		Owner:      uuid.NewString(),
		AcquiredAt: m.now().UTC().Format(time.RFC3339),
	}
	h := &Handle{Info: info, f: f, path: path}
	data, err := json.Marshal(info)
	if err == nil {
		err = f.Truncate(0)
	}
	if err == nil {
		_, err = f.WriteAt(data, 0)
	}
	if err != nil {
		h.Release()
		return nil, fmt.Errorf("lock %s: write info: %w", id, err)
	}
	return h, nil
}

// openLocked opens and flocks path, retrying when the file was replaced
// between open and flock so the held inode is the one at path.
func openLocked(id, path string) (*os.File, error) {
	for attempt := 0; attempt < 3; attempt++ {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, err
		}
		if err := flockExclusive(f); err != nil {
			f.Close()
			if errors.Is(err, errWouldBlock) {
				return nil, fmt.Errorf("%s: %w", id, ErrLocked)
			}
			return nil, fmt.Errorf("lock %s: %w", id, err)
		}
		held, err := f.Stat()
		if err != nil {
			funlock(f)
			f.Close()
			return nil, fmt.Errorf("lock %s: %w", id, err)
		}
		current, err := os.Stat(path)
		if err == nil && os.SameFile(held, current) {
			return f, nil
		}
		funlock(f)
		f.Close()
	}
	return nil, fmt.Errorf("%s: lock file keeps changing: %w", id, ErrLocked)
}

// Release unlocks and closes the lock file. The file stays in place so every
// contender locks the same inode.
func (h *Handle) Release() error {
	if h == nil || h.f == nil {
		return nil
	}
	unlockErr := funlock(h.f)
	closeErr := h.f.Close()
	h.f = nil
	return errors.Join(unlockErr, closeErr)
}

// ReadLock returns the info recorded by the last holder.
func (m Manager) ReadLock(id string) (Info, error) {
	var info Info
	data, err := os.ReadFile(m.LockPath(id))
	if err != nil {
		return info, err
	}
	err = json.Unmarshal(data, &info)
	return info, err
}

// IsLocked reports whether another open file currently holds the lock.
func (m Manager) IsLocked(id string) bool {
	f, err := os.OpenFile(m.LockPath(id), os.O_RDWR, 0)
	if err != nil {
		return false
	}
	defer f.Close()
	if err := flockExclusive(f); err != nil {
		return errors.Is(err, errWouldBlock)
	}
	funlock(f)
	return false
}

// WritePID records the worker process for an in-progress spec.
func (m Manager) WritePID(id string, pid int) error {
	path := m.PIDPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

func (m Manager) ReadPID(id string) (int, error) {
	data, err := os.ReadFile(m.PIDPath(id))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("pid file for %s: %w", id, err)
	}
	return pid, nil
}

// RemovePID deletes the PID file; a missing file is not an error.
func (m Manager) RemovePID(id string) error {
	err := os.Remove(m.PIDPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// PIDs maps spec id to recorded pid for every PID file.
func (m Manager) PIDs() (map[string]int, error) {
	entries, err := os.ReadDir(filepath.Join(m.Dir, "pids"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]int{}, nil
		}
		return nil, err
	}
	out := make(map[string]int, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pid") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".pid")
		pid, err := m.ReadPID(id)
		if err != nil {
			out[id] = 0
			continue
		}
		out[id] = pid
	}
	return out, nil
}

// Stale returns, sorted, the ids whose PID file names a process that is no
// longer running. Unreadable PID files count as stale.
func (m Manager) Stale() ([]string, error) {
	pids, err := m.PIDs()
	if err != nil {
		return nil, err
	}
	var out []string
	for id, pid := range pids {
		if !ProcessRunning(pid) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

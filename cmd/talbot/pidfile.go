package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// pidFile records the running server's process ID in the data directory.
type pidFile string

func newPIDFile(dataDir string) pidFile {
	return pidFile(filepath.Join(dataDir, "talbot.pid"))
}

func (p pidFile) read() (int, error) {
	data, err := os.ReadFile(string(p))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed PID file %s", p)
	}
	return pid, nil
}

// owner returns the recorded PID when that process is still alive.
func (p pidFile) owner() (int, bool) {
	pid, err := p.read()
	if err != nil {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	// Signal 0 checks existence without delivering anything.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	return pid, true
}

// acquire records this process, replacing a file left behind by a crash.
func (p pidFile) acquire() error {
	if pid, alive := p.owner(); alive && pid != os.Getpid() {
		return fmt.Errorf("server already running (PID %d)", pid)
	}
	if err := os.MkdirAll(filepath.Dir(string(p)), 0o700); err != nil {
		return err
	}
	return os.WriteFile(string(p), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600)
}

// release removes the file if this process still owns it.
func (p pidFile) release() {
	if pid, err := p.read(); err == nil && pid == os.Getpid() {
		os.Remove(string(p))
	}
}

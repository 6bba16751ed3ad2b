package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"grimm.is/appredirect/internal/brand"
	"grimm.is/appredirect/internal/recovery"
)

// PIDFile is where the daemon records its PID.
func PIDFile() string {
	return brand.PIDPath()
}

// writePIDFile records the current PID. The cleanup removes the file only if
// it still names this process.
func writePIDFile(path string) (cleanup func(), err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(path, []byte(pid), 0644); err != nil {
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}
	return func() {
		if data, err := os.ReadFile(path); err == nil && strings.TrimSpace(string(data)) == pid {
			os.Remove(path)
		}
	}, nil
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("no PID file found at %s (is the daemon running?)", path)
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

func signalDaemon(path string, sig syscall.Signal) (int, error) {
	pid, err := readPID(path)
	if err != nil {
		return 0, err
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return pid, fmt.Errorf("process not found: %w", err)
	}
	if err := process.Signal(sig); err != nil {
		return pid, fmt.Errorf("failed to send %v: %w", sig, err)
	}
	return pid, nil
}

// RunNotify forwards a user_present or user_unlocked trigger to the running
// daemon.
func RunNotify(pidFile, triggerName string) error {
	trigger, err := recovery.ParseTrigger(triggerName)
	if err != nil {
		return err
	}
	var sig syscall.Signal
	switch trigger {
	case recovery.UserPresent:
		sig = syscall.SIGUSR1
	case recovery.UserUnlocked:
		sig = syscall.SIGUSR2
	default:
		return fmt.Errorf("%s is raised by the daemon itself on start", trigger)
	}

	pid, err := signalDaemon(pidFile, sig)
	if err != nil {
		return err
	}
	Printer.Printf("Sent %s to %s (PID: %d)\n", trigger, brand.Name, pid)
	return nil
}

// RunStop asks the daemon to exit and waits for its PID file to go away.
func RunStop(pidFile string) error {
	pid, err := signalDaemon(pidFile, syscall.SIGTERM)
	if err != nil {
		return err
	}
	Printer.Printf("Stopping %s (PID: %d)...\n", brand.Name, pid)

	for i := 0; i < 50; i++ {
		if _, err := os.Stat(pidFile); os.IsNotExist(err) {
			Printer.Println("Stopped.")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	Printer.Println("Warning: PID file still exists. Process might be stuck or slow to shutdown.")
	return nil
}

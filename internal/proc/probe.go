// Package proc queries the OS process table for live AI assistant
// processes. It answers one question only: which project directories have
// an assistant attached right now.
package proc

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// assistantCommands are the process names the probe recognizes.
var assistantCommands = map[string]struct{}{
	"claude": {},
	"codex":  {},
	"gemini": {},
}

// LiveProjects returns the set of working directories that currently have
// a live assistant process. On any probe failure it returns an empty set
// and the error; callers treat that as "nothing is live" rather than
// failing their own operation.
func LiveProjects() (map[string]struct{}, error) {
	pids, err := assistantPIDs()
	if err != nil {
		return map[string]struct{}{}, err
	}

	live := make(map[string]struct{})
	for _, pid := range pids {
		cwd, err := processCwd(pid)
		if err != nil || cwd == "" {
			continue
		}
		live[cwd] = struct{}{}
	}
	return live, nil
}

// assistantPIDs lists process ids whose command matches a known assistant.
func assistantPIDs() ([]int, error) {
	out, err := exec.Command("ps", "-axo", "pid=,comm=").Output()
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	var pids []int
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		comm := filepath.Base(fields[len(fields)-1])
		if _, ok := assistantCommands[comm]; ok {
			pids = append(pids, pid)
		}
	}
	return pids, scanner.Err()
}

// processCwd resolves a process's working directory: /proc on Linux, lsof
// elsewhere.
func processCwd(pid int) (string, error) {
	if runtime.GOOS == "linux" {
		cwd, err := os.Readlink(fmt.Sprintf("/proc/%d/cwd", pid))
		if err == nil {
			return cwd, nil
		}
		// fall through to lsof; /proc may be restricted
	}

	out, err := exec.Command("lsof", "-a", "-p", strconv.Itoa(pid), "-d", "cwd", "-Fn").Output()
	if err != nil {
		return "", fmt.Errorf("resolving cwd of pid %d: %w", pid, err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "n") {
			return line[1:], nil
		}
	}
	return "", nil
}

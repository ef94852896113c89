package deps

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// Requirement defines an external dependency scannerbot relies on. Binaries
// are resolved through PATH; scripts are files handed to an interpreter and
// only need to be readable.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Script      bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch {
		case cmd == "":
			status.Detail = "command not configured"
		case req.Script:
			status.Available, status.Detail = checkScript(cmd)
		default:
			if _, err := exec.LookPath(cmd); err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", cmd)
			} else {
				status.Available = true
			}
		}
		results = append(results, status)
	}
	return results
}

func checkScript(path string) (bool, string) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Sprintf("script %q not found", path)
		}
		return false, fmt.Sprintf("stat %q: %v", path, err)
	}
	if info.IsDir() {
		return false, fmt.Sprintf("%q is a directory", path)
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return false, fmt.Sprintf("script %q not readable: %v", path, err)
	}
	return true, ""
}

// MissingRequired returns the names of required dependencies that are unavailable.
func MissingRequired(statuses []Status) []string {
	var missing []string
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			missing = append(missing, s.Name)
		}
	}
	return missing
}

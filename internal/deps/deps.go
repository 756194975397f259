package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement defines an external program the daemon relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
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
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// StepperRequirements lists what session scripts need to run as steppers:
// a shell to interpret them and the control binary they call back through.
func StepperRequirements(controlBinary string) []Requirement {
	return []Requirement{
		{Name: "shell", Command: "sh", Description: "interprets session scripts"},
		{Name: "ray-control", Command: controlBinary, Description: "run_step callback for stepper scripts", Optional: true},
	}
}

package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
)

// ErrInvalidTarget is wrapped by every error caused by a missing or unusable launch target.
var ErrInvalidTarget = errors.New("invalid launch target")

// Spec describes how to launch one supervised service.
// It is treated as immutable once handed to a supervisor.
type Spec struct {
	Name    string   `json:"name" mapstructure:"name"`
	Command string   `json:"command" mapstructure:"command"` // empty means the running executable
	Args    []string `json:"args" mapstructure:"args"`
	WorkDir string   `json:"work_dir" mapstructure:"work_dir"`
	Env     []string `json:"env" mapstructure:"env"` // KEY=VALUE entries appended to the inherited environment
}

// Validate checks the static shape of the spec. It does not touch the filesystem.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("process spec: name is required")
	}
	for _, kv := range s.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("process spec %s: env entry %q is not KEY=VALUE", s.Name, kv)
		}
	}
	return nil
}

// Equal reports whether two specs launch the same thing.
func (s Spec) Equal(o Spec) bool {
	return s.Name == o.Name &&
		s.Command == o.Command &&
		s.WorkDir == o.WorkDir &&
		slices.Equal(s.Args, o.Args) &&
		slices.Equal(s.Env, o.Env)
}

// Resolve returns the executable path the spec points at.
func (s Spec) Resolve() (string, error) {
	if strings.TrimSpace(s.Command) == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("%w: current executable: %v", ErrInvalidTarget, err)
		}
		return exe, nil
	}
	path, err := exec.LookPath(s.Command)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidTarget, s.Command, err)
	}
	return path, nil
}

// BuildCommand resolves the target and returns a configured, unstarted *exec.Cmd.
// Standard streams are left unset; Launch binds them to the null device.
func (s Spec) BuildCommand() (*exec.Cmd, error) {
	path, err := s.Resolve()
	if err != nil {
		return nil, err
	}
	if s.WorkDir != "" {
		fi, err := os.Stat(s.WorkDir)
		if err != nil {
			return nil, fmt.Errorf("%w: work dir %s: %v", ErrInvalidTarget, s.WorkDir, err)
		}
		if !fi.IsDir() {
			return nil, fmt.Errorf("%w: work dir %s is not a directory", ErrInvalidTarget, s.WorkDir)
		}
	}
	// #nosec G204 -- the command comes from operator configuration
	cmd := exec.Command(path, s.Args...)
	cmd.Dir = s.WorkDir
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	configureSysProcAttr(cmd)
	return cmd, nil
}

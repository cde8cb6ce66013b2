package fuzzeradapter

import (
	"os"
	"os/exec"

	"github.com/rosa-project/rosa/internal/rosaerr"
)

// Config pairs a backend with the environment variables its process
// should run under (spec.md §4.6, §6 config format).
type Config struct {
	Env     map[string]string
	Backend Backend
}

// Instance is one spawned fuzzer process. It owns the underlying
// *exec.Cmd the way the campaign controller owns Instance: created once,
// spawned once, stopped at most once.
type Instance struct {
	Config  Config
	LogFile string

	cmd *exec.Cmd
}

// Create builds an Instance without starting it. The fuzzer's combined
// stdout/stderr are redirected to logFile, mirroring how the teacher
// redirects subprocess output to a log file rather than the console.
func Create(config Config, logFile string) (*Instance, error) {
	log, err := os.Create(logFile)
	if err != nil {
		return nil, rosaerr.Wrap(rosaerr.KindAdapter, err, "could not create log file %q", logFile)
	}

	argv := config.Backend.Cmd()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = log
	cmd.Stderr = log
	cmd.Env = append(os.Environ(), envStrings(config.Env)...)

	return &Instance{Config: config, LogFile: logFile, cmd: cmd}, nil
}

// Spawn starts the fuzzer process.
func (inst *Instance) Spawn() error {
	if inst.cmd.Process != nil {
		return rosaerr.New(rosaerr.KindAdapter, "could not start fuzzer process %q; process is already running", inst.Config.Backend.Name())
	}
	if err := inst.cmd.Start(); err != nil {
		return rosaerr.Wrap(rosaerr.KindAdapter, err, "could not run fuzzer command for %q; see %s", inst.Config.Backend.Name(), inst.LogFile)
	}
	return nil
}

// IsRunning reports whether the process is still alive.
func (inst *Instance) IsRunning() (bool, error) {
	if inst.cmd.Process == nil {
		return false, rosaerr.New(rosaerr.KindAdapter, "could not get fuzzer process status for %q; process is not spawned", inst.Config.Backend.Name())
	}
	return inst.cmd.ProcessState == nil, nil
}

// Stop signals the fuzzer process to terminate (SIGINT, the signal AFL++
// treats as "stop cleanly").
func (inst *Instance) Stop() error {
	if inst.cmd.Process == nil {
		return rosaerr.New(rosaerr.KindAdapter, "could not stop process %q; process is not spawned", inst.Config.Backend.Name())
	}
	return inst.cmd.Process.Signal(os.Interrupt)
}

// CheckSuccess waits for the process to exit and reports a non-zero exit
// code as an error.
func (inst *Instance) CheckSuccess() error {
	if inst.cmd.Process == nil {
		return rosaerr.New(rosaerr.KindAdapter, "could not check success of process %q; process is not spawned", inst.Config.Backend.Name())
	}
	if err := inst.cmd.Wait(); err != nil {
		return rosaerr.Wrap(rosaerr.KindAdapter, err, "fuzzer process %q exited unsuccessfully", inst.Config.Backend.Name())
	}
	return nil
}

// EnvAsString renders the instance's environment variables as KEY=VALUE
// pairs, for logging.
func (inst *Instance) EnvAsString() string {
	s := ""
	for _, kv := range envStrings(inst.Config.Env) {
		if s != "" {
			s += " "
		}
		s += kv
	}
	return s
}

// CmdAsString renders the backend's full command line, for logging.
func (inst *Instance) CmdAsString() string {
	s := ""
	for _, arg := range inst.Config.Backend.Cmd() {
		if s != "" {
			s += " "
		}
		s += arg
	}
	return s
}

func envStrings(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

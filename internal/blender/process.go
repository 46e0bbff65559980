package blender

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// waitErrorExitCode is reported when Wait fails without an exit status.
const waitErrorExitCode int32 = -1

type process struct {
	cmd    *exec.Cmd
	output *os.File
}

func newProcess(cmd *exec.Cmd, output *os.File) *process {
	return &process{cmd: cmd, output: output}
}

// Kill sends SIGKILL to Blender's whole process group.
func (p *process) Kill() error {
	pid := p.cmd.Process.Pid
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return p.cmd.Process.Kill()
	}
	return nil
}

func (p *process) Wait() int32 {
	err := p.cmd.Wait()
	if p.output != nil {
		_ = p.output.Close()
	}
	return exitCode(err)
}

func exitCode(err error) int32 {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return waitErrorExitCode
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		if status.Signaled() {
			return -int32(status.Signal())
		}
		return int32(status.ExitStatus())
	}
	return int32(exitErr.ExitCode())
}

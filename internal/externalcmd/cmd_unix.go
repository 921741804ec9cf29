//go:build !windows

package externalcmd

import (
	"os"
	"os/exec"
	"syscall"
)

func (e *Cmd) runOSSpecific(env []string) error {
	cmd := exec.Command("/bin/sh", "-c", e.cmdstr)
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	// the command and its children share a process group, so they can be killed together
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	err := cmd.Start()
	if err != nil {
		return err
	}

	done := wait(cmd)

	select {
	case <-e.terminate:
		syscall.Kill(-cmd.Process.Pid, syscall.SIGINT) //nolint:errcheck
		<-done
		return errTerminated

	case err := <-done:
		return err
	}
}

// Package externalcmd allows to launch external commands.
package externalcmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

var errTerminated = errors.New("terminated")

// OnExitFunc is the prototype of onExit.
type OnExitFunc func(error)

// Environment is a Cmd environment.
type Environment map[string]string

// expand replaces $VAR and ${VAR} with values of the environment,
// falling back to the process environment.
func (env Environment) expand(cmdstr string) string {
	return os.Expand(cmdstr, func(variable string) string {
		if value, ok := env[variable]; ok {
			return value
		}
		return os.Getenv(variable)
	})
}

func (env Environment) list() []string {
	out := append([]string(nil), os.Environ()...)
	for key, val := range env {
		out = append(out, key+"="+val)
	}
	return out
}

// Cmd is an external command that runs once.
type Cmd struct {
	pool   *Pool
	cmdstr string
	env    Environment
	onExit OnExitFunc

	closeOnce sync.Once
	timedOut  atomic.Bool

	// in
	terminate chan struct{}
}

// NewCmd allocates a Cmd and starts it.
// Variables are replaced on every platform, so that the same command can be used everywhere.
func NewCmd(
	pool *Pool,
	cmdstr string,
	env Environment,
	onExit OnExitFunc,
) *Cmd {
	if onExit == nil {
		onExit = func(_ error) {}
	}

	e := &Cmd{
		pool:      pool,
		cmdstr:    env.expand(cmdstr),
		env:       env,
		onExit:    onExit,
		terminate: make(chan struct{}),
	}

	pool.add(e)

	go e.run()

	return e
}

// Close kills the command. It doesn't wait for the command to exit.
func (e *Cmd) Close() {
	e.closeOnce.Do(func() {
		close(e.terminate)
	})
}

func (e *Cmd) run() {
	defer e.pool.remove(e)

	if e.pool.Timeout > 0 {
		t := time.AfterFunc(e.pool.Timeout, func() {
			e.timedOut.Store(true)
			e.Close()
		})
		defer t.Stop()
	}

	err := e.runOSSpecific(e.env.list())
	if errors.Is(err, errTerminated) {
		if !e.timedOut.Load() {
			return
		}
		err = fmt.Errorf("command timed out after %v", e.pool.Timeout)
	}

	e.onExit(err)
}

// wait waits for a started command in the background and reports its exit status.
func wait(cmd *exec.Cmd) <-chan error {
	done := make(chan error, 1)

	go func() {
		err := cmd.Wait()

		var ee *exec.ExitError
		if errors.As(err, &ee) && ee.ExitCode() != 0 {
			done <- fmt.Errorf("command exited with code %d", ee.ExitCode())
			return
		}

		done <- nil
	}()

	return done
}

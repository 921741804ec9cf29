package externalcmd

import (
	"sync"
	"time"
)

// Pool runs external commands and keeps track of them.
type Pool struct {
	// commands running for longer are terminated. Zero disables the limit.
	Timeout time.Duration

	mutex sync.Mutex
	cmds  map[*Cmd]struct{}
	wg    sync.WaitGroup
}

// Initialize initializes a Pool.
func (p *Pool) Initialize() {
	p.cmds = make(map[*Cmd]struct{})
}

func (p *Pool) add(c *Cmd) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.cmds[c] = struct{}{}
	p.wg.Add(1)
}

func (p *Pool) remove(c *Cmd) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.cmds, c)
	p.wg.Done()
}

// Running returns the number of commands that have not exited yet.
func (p *Pool) Running() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.cmds)
}

// Close waits for all external commands to exit.
func (p *Pool) Close() {
	p.wg.Wait()
}

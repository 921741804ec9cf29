// Package core contains the main struct of the software.
package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gin-gonic/gin"

	"github.com/bluenviron/mediacompose/internal/api"
	"github.com/bluenviron/mediacompose/internal/composer"
	"github.com/bluenviron/mediacompose/internal/conf"
	"github.com/bluenviron/mediacompose/internal/confwatcher"
	"github.com/bluenviron/mediacompose/internal/externalcmd"
	"github.com/bluenviron/mediacompose/internal/logger"
	"github.com/bluenviron/mediacompose/internal/pprof"
)

var version = "v0.0.0"

var defaultConfPaths = []string{
	"mediacompose.yml",
	"/usr/local/etc/mediacompose.yml",
	"/usr/etc/mediacompose.yml",
	"/etc/mediacompose/mediacompose.yml",
}

var cli struct {
	Version  bool   `help:"print version"`
	Confpath string `arg:"" default:""`
}

// Core is an instance of mediacompose.
type Core struct {
	ctx             context.Context
	ctxCancel       func()
	confPath        string
	conf            *conf.Conf
	started         time.Time
	logger          *logger.Logger
	externalCmdPool *externalcmd.Pool
	pprof           *pprof.PPROF
	api             *api.API
	confWatcher     *confwatcher.ConfWatcher
	runner          *runner

	// out
	failed bool
	done   chan struct{}
}

// New allocates a Core.
func New(args []string) (*Core, bool) {
	parser, err := kong.New(&cli,
		kong.Description("mediacompose "+version),
		kong.UsageOnError(),
		kong.ValueFormatter(func(value *kong.Value) string {
			switch value.Name {
			case "confpath":
				return "path to a job file. The default is mediacompose.yml."

			default:
				return kong.DefaultHelpValueFormatter(value)
			}
		}))
	if err != nil {
		panic(err)
	}

	_, err = parser.Parse(args)
	parser.FatalIfErrorf(err)

	if cli.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	p := &Core{
		ctx:       ctx,
		ctxCancel: ctxCancel,
		started:   time.Now(),
		done:      make(chan struct{}),
	}

	p.conf, p.confPath, err = conf.Load(cli.Confpath, defaultConfPaths)
	if err != nil {
		fmt.Printf("ERR: %s\n", err)
		return nil, false
	}

	err = p.createResources(true)
	if err != nil {
		if p.logger != nil {
			p.Log(logger.Error, "%s", err)
		} else {
			fmt.Printf("ERR: %s\n", err)
		}
		p.closeResources(nil)
		return nil, false
	}

	p.runner.start(p.conf)

	go p.run()

	return p, true
}

// Close closes Core and waits for all goroutines to return.
func (p *Core) Close() {
	p.ctxCancel()
	<-p.done
}

// Wait waits for the Core to exit.
// It returns false when the last composition did not complete.
func (p *Core) Wait() bool {
	<-p.done
	return !p.failed
}

// Log implements logger.Writer.
func (p *Core) Log(level logger.Level, format string, args ...interface{}) {
	p.logger.Log(level, format, args...)
}

func (p *Core) run() {
	defer close(p.done)

	confChanged := func() chan struct{} {
		if p.confWatcher != nil {
			return p.confWatcher.Watch()
		}
		return make(chan struct{})
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

outer:
	for {
		select {
		case res := <-p.runner.done:
			p.runner.finished(res)
			p.failed = (res.err != nil)

			if !p.conf.Watch {
				break outer
			}

			p.Log(logger.Info, "waiting for changes")

		case <-confChanged:
			p.Log(logger.Info, "reloading configuration (file changed)")

			p.runner.stop()

			newConf, _, err := conf.Load(p.confPath, nil)
			if err != nil {
				p.Log(logger.Error, "%s", err)
				p.failed = true
				break outer
			}

			err = p.reloadConf(newConf)
			if err != nil {
				p.Log(logger.Error, "%s", err)
				p.failed = true
				break outer
			}

			if p.confWatcher != nil {
				confChanged = p.confWatcher.Watch()
			} else {
				confChanged = make(chan struct{})
			}

			p.runner.start(p.conf)

		case <-interrupt:
			p.Log(logger.Info, "shutting down gracefully")
			if p.runner.stop() {
				p.failed = true
			}
			break outer

		case <-p.ctx.Done():
			p.runner.stop()
			break outer
		}
	}

	p.ctxCancel()

	p.closeResources(nil)
}

// inputs returns the files read by the composition.
func inputs(c *conf.Conf) []string {
	var out []string
	for _, clip := range c.Clips {
		out = append(out, clip.Path)
	}
	if c.Audio != "" {
		out = append(out, c.Audio)
	}
	return out
}

func (p *Core) createResources(initial bool) error {
	var err error

	if p.logger == nil {
		i := &logger.Logger{
			Level:        logger.Level(p.conf.LogLevel),
			Destinations: p.conf.LogDestinations,
			File:         p.conf.LogFile,
		}
		err = i.Initialize()
		if err != nil {
			return err
		}
		p.logger = i
	}

	if initial {
		p.Log(logger.Info, "mediacompose %s", version)

		if p.confPath != "" {
			p.Log(logger.Debug, "job file: %s", p.confPath)
		}

		gin.SetMode(gin.ReleaseMode)

		p.externalCmdPool = &externalcmd.Pool{
			Timeout: time.Duration(p.conf.HookTimeout),
		}
		p.externalCmdPool.Initialize()

		p.runner = &runner{
			externalCmdPool: p.externalCmdPool,
			parent:          p,
		}
		p.runner.initialize()
	}

	if p.conf.PPROF &&
		p.pprof == nil {
		i := &pprof.PPROF{
			Address: p.conf.PPROFAddress,
			Parent:  p,
		}
		err = i.Initialize()
		if err != nil {
			return err
		}
		p.pprof = i
	}

	if p.conf.API &&
		p.api == nil {
		i := &api.API{
			Version: version,
			Started: p.started,
			Address: p.conf.APIAddress,
			Conf:    p.conf,
			Runner:  p.runner,
			Parent:  p,
		}
		err = i.Initialize()
		if err != nil {
			return err
		}
		p.api = i
	}

	if p.conf.Watch &&
		p.confWatcher == nil {
		if p.confPath == "" {
			p.Log(logger.Warn, "watch mode requires a job file, ignoring")
		} else {
			i := &confwatcher.ConfWatcher{
				FilePath: p.confPath,
				Inputs:   inputs(p.conf),
			}
			err = i.Initialize()
			if err != nil {
				return err
			}
			p.confWatcher = i
		}
	}

	return nil
}

func (p *Core) closeResources(newConf *conf.Conf) {
	closeLogger := newConf == nil ||
		newConf.LogLevel != p.conf.LogLevel ||
		!reflect.DeepEqual(newConf.LogDestinations, p.conf.LogDestinations) ||
		newConf.LogFile != p.conf.LogFile

	closePPROF := newConf == nil ||
		newConf.PPROF != p.conf.PPROF ||
		newConf.PPROFAddress != p.conf.PPROFAddress ||
		closeLogger

	closeAPI := newConf == nil ||
		newConf.API != p.conf.API ||
		newConf.APIAddress != p.conf.APIAddress ||
		closeLogger

	closeConfWatcher := newConf == nil ||
		newConf.Watch != p.conf.Watch ||
		!reflect.DeepEqual(inputs(newConf), inputs(p.conf))

	if closeConfWatcher && p.confWatcher != nil {
		p.confWatcher.Close()
		p.confWatcher = nil
	}

	if p.api != nil {
		if closeAPI {
			p.api.Close()
			p.api = nil
		} else {
			p.api.ReloadConf(newConf)
		}
	}

	if closePPROF && p.pprof != nil {
		p.pprof.Close()
		p.pprof = nil
	}

	if newConf == nil && p.externalCmdPool != nil {
		p.Log(logger.Info, "waiting for external commands")
		p.externalCmdPool.Close()
	}

	if closeLogger && p.logger != nil {
		p.logger.Close()
		p.logger = nil
	}
}

func (p *Core) reloadConf(newConf *conf.Conf) error {
	p.closeResources(newConf)
	p.conf = newConf
	return p.createResources(false)
}

// isCanceled returns whether err is the result of a cancellation.
func isCanceled(err error) bool {
	return errors.Is(err, composer.ErrCanceled)
}

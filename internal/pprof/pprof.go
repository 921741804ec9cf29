// Package pprof contains a pprof exporter.
package pprof

import (
	"net/http"
	"time"

	ginpprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"

	"github.com/bluenviron/mediacompose/internal/logger"
	"github.com/bluenviron/mediacompose/internal/protocols/httpp"
)

type pprofParent interface {
	logger.Writer
}

// PPROF is a pprof exporter.
type PPROF struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Parent       pprofParent

	httpServer *httpp.Server
}

// Initialize initializes PPROF.
func (pp *PPROF) Initialize() error {
	if pp.ReadTimeout == 0 {
		pp.ReadTimeout = 10 * time.Second
	}
	if pp.WriteTimeout == 0 {
		// profiles can last for a while
		pp.WriteTimeout = 60 * time.Second
	}

	router := gin.New()
	router.SetTrustedProxies(nil) //nolint:errcheck
	ginpprof.Register(router)
	router.NoRoute(func(ctx *gin.Context) {
		ctx.Writer.WriteHeader(http.StatusNotFound)
	})

	pp.httpServer = &httpp.Server{
		Address:      pp.Address,
		ReadTimeout:  pp.ReadTimeout,
		WriteTimeout: pp.WriteTimeout,
		Handler:      router,
		Parent:       pp,
	}
	err := pp.httpServer.Initialize()
	if err != nil {
		return err
	}

	pp.Log(logger.Info, "listener opened on "+pp.Address)

	return nil
}

// Close closes PPROF.
func (pp *PPROF) Close() {
	pp.Log(logger.Info, "listener is closing")
	pp.httpServer.Close()
}

// Log implements logger.Writer.
func (pp *PPROF) Log(level logger.Level, format string, args ...interface{}) {
	pp.Parent.Log(level, "[pprof] "+format, args...)
}

// Package api contains the status API server.
package api //nolint:revive

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bluenviron/mediacompose/internal/conf"
	"github.com/bluenviron/mediacompose/internal/defs"
	"github.com/bluenviron/mediacompose/internal/logger"
	"github.com/bluenviron/mediacompose/internal/protocols/httpp"
)

type apiParent interface {
	logger.Writer
}

// API is an API server.
type API struct {
	Version      string
	Started      time.Time
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Conf         *conf.Conf
	Runner       defs.APIRunner
	Parent       apiParent

	httpServer *httpp.Server
	mutex      sync.RWMutex
}

// Initialize initializes API.
func (a *API) Initialize() error {
	if a.ReadTimeout == 0 {
		a.ReadTimeout = 10 * time.Second
	}
	if a.WriteTimeout == 0 {
		a.WriteTimeout = 10 * time.Second
	}

	router := gin.New()
	router.SetTrustedProxies(nil) //nolint:errcheck

	router.Use(a.middlewarePreflightRequests)

	group := router.Group("/v1")

	group.GET("/info", a.onInfo)
	group.GET("/status", a.onStatus)
	group.GET("/config/get", a.onConfigGet)
	group.POST("/run/cancel", a.onRunCancel)

	router.NoRoute(func(ctx *gin.Context) {
		ctx.JSON(http.StatusNotFound, &defs.APIError{
			Status: "error",
			Error:  "not found",
		})
	})

	a.httpServer = &httpp.Server{
		Address:      a.Address,
		ReadTimeout:  a.ReadTimeout,
		WriteTimeout: a.WriteTimeout,
		Handler:      router,
		Parent:       a,
	}
	err := a.httpServer.Initialize()
	if err != nil {
		return err
	}

	a.Log(logger.Info, "listener opened on "+a.Address)

	return nil
}

// Close closes the API.
func (a *API) Close() {
	a.Log(logger.Info, "listener is closing")
	a.httpServer.Close()
}

// Log implements logger.Writer.
func (a *API) Log(level logger.Level, format string, args ...interface{}) {
	a.Parent.Log(level, "[API] "+format, args...)
}

func (a *API) writeError(ctx *gin.Context, status int, err error) {
	// show error in logs
	a.Log(logger.Error, "%v: %v", ctx.ClientIP(), err)

	// add error to response
	ctx.JSON(status, &defs.APIError{
		Status: "error",
		Error:  err.Error(),
	})
}

func (a *API) writeOK(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, &defs.APIOK{Status: "ok"})
}

func (a *API) middlewarePreflightRequests(ctx *gin.Context) {
	if ctx.Request.Method == http.MethodOptions &&
		ctx.Request.Header.Get("Access-Control-Request-Method") != "" {
		ctx.Header("Access-Control-Allow-Methods", "OPTIONS, GET, POST")
		ctx.Header("Access-Control-Allow-Headers", "Content-Type")
		ctx.AbortWithStatus(http.StatusNoContent)
		return
	}
}

func (a *API) onInfo(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, &defs.APIInfo{
		Version: a.Version,
		Started: a.Started,
	})
}

func (a *API) onStatus(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, a.Runner.APIStatus())
}

func (a *API) onConfigGet(ctx *gin.Context) {
	a.mutex.RLock()
	c := a.Conf
	a.mutex.RUnlock()

	ctx.JSON(http.StatusOK, c)
}

func (a *API) onRunCancel(ctx *gin.Context) {
	err := a.Runner.APICancel()
	if err != nil {
		a.writeError(ctx, http.StatusConflict, err)
		return
	}

	a.writeOK(ctx)
}

// ReloadConf is called by core.
func (a *API) ReloadConf(conf *conf.Conf) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.Conf = conf
}

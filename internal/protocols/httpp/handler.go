package httpp

import (
	"net/http"
	"sync"
	"time"

	"github.com/bluenviron/mediacompose/internal/logger"
)

// responseWriter records the status code and extends the write deadline
// before every write, so that long responses like CPU profiles don't time out.
type responseWriter struct {
	http.ResponseWriter
	rc      *http.ResponseController
	timeout time.Duration
	status  int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.rc.SetWriteDeadline(time.Now().Add(w.timeout)) //nolint:errcheck
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriter) Write(p []byte) (int, error) {
	w.rc.SetWriteDeadline(time.Now().Add(w.timeout)) //nolint:errcheck
	return w.ResponseWriter.Write(p)
}

// handler wraps the user handler and keeps track of running requests.
type handler struct {
	inner        http.Handler
	writeTimeout time.Duration
	parent       logger.Writer

	mutex  sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func (h *handler) close() {
	h.mutex.Lock()
	h.closed = true
	h.mutex.Unlock()
	h.wg.Wait()
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		return
	}
	h.wg.Add(1)
	h.mutex.Unlock()

	defer h.wg.Done()

	rw := &responseWriter{
		ResponseWriter: w,
		rc:             http.NewResponseController(w),
		timeout:        h.writeTimeout,
		status:         http.StatusOK,
	}

	rw.Header().Set("Server", "mediacompose")

	if r.URL.Path == "" || r.URL.Path[0] != '/' {
		rw.WriteHeader(http.StatusBadRequest)
	} else {
		h.inner.ServeHTTP(rw, r)
	}

	h.parent.Log(logger.Debug, "[conn %v] %s %s %d", r.RemoteAddr, r.Method, r.URL.Path, rw.status)
}

package middleware

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// bufferedWriter captures the handler's entire response so settlement can be
// attempted before a single byte reaches the client. A request whose payment
// fails to settle therefore never observes a 2xx.
type bufferedWriter struct {
	gin.ResponseWriter
	body     *bytes.Buffer
	status   int
	header   http.Header
	maxSize  int
	overflow bool
}

func newBufferedWriter(w gin.ResponseWriter, maxSize int) *bufferedWriter {
	return &bufferedWriter{
		ResponseWriter: w,
		body:           &bytes.Buffer{},
		status:         http.StatusOK,
		header:         make(http.Header),
		maxSize:        maxSize,
	}
}

func (w *bufferedWriter) Write(data []byte) (int, error) {
	if w.maxSize > 0 && w.body.Len()+len(data) > w.maxSize {
		w.overflow = true
		return 0, fmt.Errorf("response exceeds max buffer size (%d bytes)", w.maxSize)
	}
	return w.body.Write(data)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *bufferedWriter) WriteHeader(status int) {
	w.status = status
}

func (w *bufferedWriter) WriteHeaderNow() {
	// Header flushing is deferred until settlement has been decided.
}

func (w *bufferedWriter) Header() http.Header {
	return w.header
}

func (w *bufferedWriter) Status() int {
	return w.status
}

func (w *bufferedWriter) Size() int {
	return w.body.Len()
}

func (w *bufferedWriter) Written() bool {
	return false
}

// flush replays the buffered headers, status, and body to the real writer.
func (w *bufferedWriter) flush() error {
	for k, v := range w.header {
		for _, val := range v {
			w.ResponseWriter.Header().Add(k, val)
		}
	}
	w.ResponseWriter.WriteHeader(w.status)
	_, err := w.ResponseWriter.Write(w.body.Bytes())
	return err
}

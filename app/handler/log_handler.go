package handler

import (
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"bothost/internal/service/deployment"
	"bothost/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	defaultTailBytes = 16 * 1024
	maxTailBytes     = 1024 * 1024
	logPollInterval  = 500 * time.Millisecond
	wsWriteTimeout   = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the management API sits behind the API key
	},
}

// LogHandler serves deployment stdout/stderr logs
type LogHandler struct {
	svc *deployment.Service
}

// NewLogHandler creates a new log handler
func NewLogHandler(svc *deployment.Service) *LogHandler {
	return &LogHandler{svc: svc}
}

// Tail returns the last bytes of the deployment log as plain text
func (h *LogHandler) Tail(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	n := intQuery(c, "bytes", defaultTailBytes)
	if n > maxTailBytes {
		n = maxTailBytes
	}
	data, _, err := readTail(h.svc.LogPath(id), int64(n))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no log for this deployment"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}

// Stream sends the log tail over a websocket and then follows the file
func (h *LogHandler) Stream(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	path := h.svc.LogPath(id)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no log for this deployment"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "Failed to upgrade to websocket: %v", err)
		return
	}
	defer ws.Close()

	// the reader only exists to notice the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	data, offset, err := readTail(path, defaultTailBytes)
	if err != nil {
		return
	}
	if len(data) > 0 && !writeText(ws, data) {
		return
	}

	ticker := time.NewTicker(logPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			chunk, next, err := readFrom(path, offset)
			if err != nil {
				return
			}
			offset = next
			if len(chunk) > 0 && !writeText(ws, chunk) {
				return
			}
		}
	}
}

func writeText(ws *websocket.Conn, data []byte) bool {
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return ws.WriteMessage(websocket.TextMessage, data) == nil
}

// readTail returns up to n trailing bytes and the file size
func readTail(path string, n int64) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	size := st.Size()
	start := size - n
	if start < 0 {
		start = 0
	}
	buf := make([]byte, size-start)
	if _, err := f.ReadAt(buf, start); err != nil && !errors.Is(err, io.EOF) {
		return nil, 0, err
	}
	return buf, size, nil
}

// readFrom returns what was appended after offset. A file that shrank was
// replaced, so it is read from the start.
func readFrom(path string, offset int64) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, offset, err
	}
	if st.Size() < offset {
		offset = 0
	}
	if st.Size() == offset {
		return nil, offset, nil
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, err
	}
	data, err := io.ReadAll(io.LimitReader(f, maxTailBytes))
	if err != nil {
		return nil, offset, err
	}
	return data, offset + int64(len(data)), nil
}

package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"
)

// sseWriter writes bare "data:" frames. Every write is flushed.
type sseWriter struct {
	w gin.ResponseWriter
}

func startSSE(c *gin.Context) *sseWriter {
	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache, no-transform")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(200)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
	return &sseWriter{w: c.Writer}
}

func (s *sseWriter) data(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

func (s *sseWriter) ping() error {
	if _, err := s.w.WriteString(": ping\n\n"); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

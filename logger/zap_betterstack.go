package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// logEntry represents a single log entry for Better Stack
type logEntry struct {
	Timestamp  string         `json:"timestamp"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	TraceID    string         `json:"traceID,omitempty"`
	Layer      string         `json:"layer,omitempty"`
	Attributes map[string]any `json:"attributes"`
}

// BetterStackLogStreamer ships log entries to Better Stack over HTTP.
type BetterStackLogStreamer struct {
	sourceToken string
	uploadURL   string
	client      *http.Client
	errOut      io.Writer
	wg          sync.WaitGroup
}

// NewBetterStackLogStreamer creates a new BetterStackLogStreamer instance
func NewBetterStackLogStreamer(sourceToken, uploadURL string, client *http.Client) *BetterStackLogStreamer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &BetterStackLogStreamer{
		sourceToken: sourceToken,
		uploadURL:   uploadURL,
		client:      client,
		errOut:      os.Stderr,
	}
}

// send posts entry asynchronously. Failures go to stderr; the streamer cannot
// log through zap without recursing into itself.
func (s *BetterStackLogStreamer) send(entry logEntry) {
	body, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(s.errOut, "betterstack: marshal log: %v\n", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, s.uploadURL, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(s.errOut, "betterstack: create request: %v\n", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.sourceToken)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		resp, err := s.client.Do(req)
		if err != nil {
			fmt.Fprintf(s.errOut, "betterstack: send log: %v\n", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			fmt.Fprintf(s.errOut, "betterstack: unexpected response %s\n", resp.Status)
		}
	}()
}

// Flush waits for in-flight uploads.
func (s *BetterStackLogStreamer) Flush() {
	s.wg.Wait()
}

// betterStackCore is a zapcore.Core that forwards entries to a streamer.
type betterStackCore struct {
	zapcore.LevelEnabler
	streamer *BetterStackLogStreamer
	fields   []zapcore.Field
}

func NewBetterStackCore(enab zapcore.LevelEnabler, streamer *BetterStackLogStreamer) zapcore.Core {
	return &betterStackCore{LevelEnabler: enab, streamer: streamer}
}

func (c *betterStackCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field(nil), c.fields...), fields...)
	return &clone
}

func (c *betterStackCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *betterStackCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	traceID, _ := enc.Fields["traceID"].(string)
	delete(enc.Fields, "traceID")

	c.streamer.send(logEntry{
		Timestamp:  ent.Time.UTC().Format(time.RFC3339Nano),
		Level:      levelName(ent.Level),
		Message:    ent.Message,
		TraceID:    traceID,
		Layer:      ent.LoggerName,
		Attributes: enc.Fields,
	})
	return nil
}

func (c *betterStackCore) Sync() error {
	c.streamer.Flush()
	return nil
}

// levelName maps zap levels to Better Stack level strings
func levelName(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return "DEBUG"
	case zapcore.InfoLevel:
		return "INFO"
	case zapcore.WarnLevel:
		return "WARN"
	case zapcore.ErrorLevel:
		return "ERROR"
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

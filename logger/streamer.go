package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NoticeLevel sits below DebugLevel for non-error informational audit records.
const NoticeLevel zapcore.Level = -2

// DefaultLogFile receives audit records in development.
const DefaultLogFile = "app.log"

// logEntry represents a single audit record
type logEntry struct {
	Timestamp  string         `json:"timestamp"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	TraceID    string         `json:"traceID"` // follows one dispatch end to end
	Layer      string         `json:"layer"`
	Attributes map[string]any `json:"attributes"`
}

// StreamerOptions configures a Streamer.
type StreamerOptions struct {
	SourceToken string
	Environment string
	UploadURL   string
	// FilePath overrides DefaultLogFile in development.
	FilePath string
	Logger   *zap.Logger
}

// Streamer writes per-dispatch audit records to a file in development or
// ships them to Better Stack in production.
type Streamer struct {
	sourceToken string
	environment string
	uploadURL   string
	logger      *zap.Logger
	client      *http.Client
	fileWriter  io.Writer
	fileMu      sync.Mutex
	closer      io.Closer
	inflight    sync.WaitGroup
}

// NewStreamer creates a Streamer.
func NewStreamer(opts StreamerOptions) *Streamer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	streamer := &Streamer{
		sourceToken: opts.SourceToken,
		environment: opts.Environment,
		uploadURL:   opts.UploadURL,
		logger:      opts.Logger,
	}

	if opts.Environment == "production" {
		streamer.client = &http.Client{Timeout: 10 * time.Second}
		return streamer
	}

	path := opts.FilePath
	if path == "" {
		path = DefaultLogFile
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		opts.Logger.Error("Failed to open log file", zap.String("path", path), zap.Error(err))
		streamer.fileWriter = os.Stderr
	} else {
		streamer.fileWriter = f
		streamer.closer = f
	}
	return streamer
}

// Log records one audit entry. Entries without a trace id are dropped.
func (s *Streamer) Log(level zapcore.Level, traceID string, message string, attributes map[string]any, layer string, err error) {
	if s == nil || traceID == "" {
		return
	}

	if attributes == nil {
		attributes = make(map[string]any)
	}
	if err != nil {
		attributes["error"] = err.Error()
	}

	entry := logEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      levelName(level),
		Message:    message,
		TraceID:    traceID,
		Layer:      layer,
		Attributes: attributes,
	}

	body, marshalErr := json.Marshal(entry)
	if marshalErr != nil {
		s.logger.Error("Failed to marshal log", zap.Error(marshalErr))
		return
	}

	if s.environment == "production" {
		s.ship(body)
	} else {
		s.fileMu.Lock()
		_, writeErr := s.fileWriter.Write(append(body, '\n'))
		s.fileMu.Unlock()
		if writeErr != nil {
			s.logger.Error("Failed to write log to file", zap.Error(writeErr))
		}
	}

	s.logger.Log(level, message, zap.String("traceID", traceID), zap.String("layer", layer), zap.Any("attributes", attributes))
}

// ship posts body to Better Stack without blocking the caller.
func (s *Streamer) ship(body []byte) {
	if s.uploadURL == "" {
		return
	}
	req, err := http.NewRequest(http.MethodPost, s.uploadURL, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("Failed to create HTTP request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.sourceToken)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		resp, err := s.client.Do(req)
		if err != nil {
			s.logger.Error("Failed to send log to Better Stack", zap.Error(err))
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			s.logger.Error("Unexpected response from Better Stack", zap.String("status", resp.Status))
		}
	}()
}

// Close waits for in-flight uploads and closes the log file.
func (s *Streamer) Close() error {
	if s == nil {
		return nil
	}
	s.inflight.Wait()
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func levelName(level zapcore.Level) string {
	switch level {
	case zapcore.ErrorLevel:
		return "ERROR"
	case zapcore.WarnLevel:
		return "WARN"
	case zapcore.InfoLevel:
		return "INFO"
	case NoticeLevel:
		return "NOTICE"
	case zapcore.DebugLevel:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

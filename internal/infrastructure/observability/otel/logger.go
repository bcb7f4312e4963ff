package otel

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// LogLevel ログレベル
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

func (l LogLevel) rank() int {
	switch l {
	case LogLevelDebug:
		return 0
	case LogLevelWarn:
		return 2
	case LogLevelError:
		return 3
	}
	return 1
}

// ParseLogLevel "debug" などの設定値をLogLevelに変換（不明な値はINFO）
func ParseLogLevel(s string) LogLevel {
	switch l := LogLevel(strings.ToUpper(s)); l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return l
	}
	return LogLevelInfo
}

// LogEntry 1行分のJSONログ
type LogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	TraceID   string                 `json:"trace_id,omitempty"`
	SpanID    string                 `json:"span_id,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// Logger 構造化ロガー
// 出力にはアクティブなSpanのトレースID・SpanIDが付く
type Logger struct {
	tracer trace.Tracer
	out    *log.Logger
	min    LogLevel
	fields map[string]interface{}
}

// NewLogger 新しいLoggerを作成（全レベルを標準ロガーへ出力）
func NewLogger(tracer trace.Tracer) *Logger {
	return &Logger{
		tracer: tracer,
		out:    log.Default(),
		min:    LogLevelDebug,
	}
}

func (l *Logger) clone() *Logger {
	c := *l
	return &c
}

// WithOutput 出力先を差し替えたLoggerを返す
func (l *Logger) WithOutput(w io.Writer) *Logger {
	c := l.clone()
	c.out = log.New(w, "", 0)
	return c
}

// WithLevel level 未満のログを捨てるLoggerを返す
func (l *Logger) WithLevel(level LogLevel) *Logger {
	c := l.clone()
	c.min = level
	return c
}

// With 全てのログに fields を付けるLoggerを返す（呼び出し側のフィールドが優先）
func (l *Logger) With(fields map[string]interface{}) *Logger {
	c := l.clone()
	c.fields = merge(l.fields, fields)
	return c
}

// Log ログを出力
func (l *Logger) Log(ctx context.Context, level LogLevel, message string, fields map[string]interface{}) {
	if level.rank() < l.min.rank() {
		return
	}

	entry := LogEntry{
		Level:     string(level),
		Message:   message,
		Fields:    merge(l.fields, fields),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		entry.TraceID = sc.TraceID().String()
		entry.SpanID = sc.SpanID().String()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		l.out.Printf("failed to marshal log entry: %v", err)
		return
	}
	l.out.Println(string(data))
}

// Debug Debugレベルのログを出力
func (l *Logger) Debug(ctx context.Context, message string, fields map[string]interface{}) {
	l.Log(ctx, LogLevelDebug, message, fields)
}

// Info Infoレベルのログを出力
func (l *Logger) Info(ctx context.Context, message string, fields map[string]interface{}) {
	l.Log(ctx, LogLevelInfo, message, fields)
}

// Warn Warnレベルのログを出力
func (l *Logger) Warn(ctx context.Context, message string, fields map[string]interface{}) {
	l.Log(ctx, LogLevelWarn, message, fields)
}

// Error Errorレベルのログを出力。err は "error" フィールドに入る
func (l *Logger) Error(ctx context.Context, message string, err error, fields map[string]interface{}) {
	if err != nil {
		fields = merge(fields, map[string]interface{}{"error": err.Error()})
	}
	l.Log(ctx, LogLevelError, message, fields)
}

// merge 新しいmapに base, extra の順でコピーする（引数は変更しない）
func merge(base, extra map[string]interface{}) map[string]interface{} {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

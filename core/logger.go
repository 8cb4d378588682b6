package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ProductionLogger is the standard Logger implementation for SDK components.
//
// Configuration priority:
//  1. Explicit LoggingConfig values (highest)
//  2. Environment variables (PULSEGATE_LOG_LEVEL, PULSEGATE_DEBUG,
//     PULSEGATE_LOG_FORMAT)
//  3. Auto-detection (JSON format inside Kubernetes)
//  4. Defaults (lowest)
//
// Error logs are rate limited to one per second so a failing dependency
// cannot flood the log stream.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	component   string
	format      string
	output      io.Writer
	mu          sync.RWMutex

	errorLimiter *IntervalLimiter
}

// LoggingConfig controls ProductionLogger behavior. Zero values fall back
// to environment variables and defaults.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"PULSEGATE_LOG_LEVEL"`
	Format string `yaml:"format" env:"PULSEGATE_LOG_FORMAT"` // "json" or "text"
	Output io.Writer
}

// NewProductionLogger creates a logger for the named component.
func NewProductionLogger(cfg LoggingConfig, serviceName, component string) *ProductionLogger {
	level := cfg.Level
	if level == "" {
		level = os.Getenv(EnvLogLevel)
	}
	if level == "" {
		level = "INFO"
	}

	debug := os.Getenv(EnvDebug) == "true" ||
		strings.ToUpper(level) == "DEBUG"

	format := cfg.Format
	if format == "" {
		// JSON in K8s for log aggregation, text for local development
		format = "text"
		if os.Getenv(EnvKubernetesHost) != "" {
			format = "json"
		}
		if envFormat := os.Getenv(EnvLogFormat); envFormat != "" {
			format = envFormat
		}
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	return &ProductionLogger{
		level:        strings.ToUpper(level),
		debug:        debug,
		serviceName:  serviceName,
		component:    component,
		format:       format,
		output:       output,
		errorLimiter: NewIntervalLimiter(1 * time.Second),
	}
}

// Info logs informational messages
func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.log("INFO", msg, fields)
}

// Warn logs warning messages
func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.log("WARN", msg, fields)
}

// Error logs error messages with rate limiting
func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	if l.errorLimiter != nil && !l.errorLimiter.Allow() {
		return
	}
	l.log("ERROR", msg, fields)
}

// Debug logs debug messages (only when debug mode is enabled)
func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if !l.debug {
		return
	}
	l.log("DEBUG", msg, fields)
}

func (l *ProductionLogger) log(level, msg string, fields map[string]interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.shouldLog(level) {
		return
	}

	timestamp := time.Now().Format(time.RFC3339)

	if l.format == "json" {
		l.logJSON(timestamp, level, msg, fields)
	} else {
		l.logText(timestamp, level, msg, fields)
	}
}

// logJSON outputs structured JSON logs
func (l *ProductionLogger) logJSON(timestamp, level, msg string, fields map[string]interface{}) {
	logEntry := map[string]interface{}{
		"timestamp": timestamp,
		"level":     level,
		"service":   l.serviceName,
		"component": l.component,
		"message":   msg,
	}

	for k, v := range fields {
		// Avoid overwriting core fields
		if k != "timestamp" && k != "level" && k != "service" && k != "component" && k != "message" {
			logEntry[k] = v
		}
	}

	if data, err := json.Marshal(logEntry); err == nil {
		fmt.Fprintln(l.output, string(data))
	}
}

// logText outputs human-readable text logs
func (l *ProductionLogger) logText(timestamp, level, msg string, fields map[string]interface{}) {
	var fieldStr strings.Builder
	if len(fields) > 0 {
		fieldStr.WriteString(" ")
		// Operation and error first for readability
		if op, ok := fields["operation"]; ok {
			fieldStr.WriteString(fmt.Sprintf("operation=%v ", op))
		}
		if err, ok := fields["error"]; ok {
			fieldStr.WriteString(fmt.Sprintf("error=%q ", fmt.Sprintf("%v", err)))
		}
		for k, v := range fields {
			if k == "operation" || k == "error" {
				continue
			}
			fieldStr.WriteString(fmt.Sprintf("%s=%v ", k, v))
		}
	}

	fmt.Fprintf(l.output, "%s [%s] [%s:%s] %s%s\n",
		timestamp, level, l.component, l.serviceName, msg, fieldStr.String())
}

// shouldLog determines if a log level should be output
func (l *ProductionLogger) shouldLog(level string) bool {
	levels := map[string]int{
		"DEBUG": 0,
		"INFO":  1,
		"WARN":  2,
		"ERROR": 3,
	}

	currentLevel, ok1 := levels[l.level]
	messageLevel, ok2 := levels[level]

	// Default to logging if levels are unknown
	if !ok1 || !ok2 {
		return true
	}

	return messageLevel >= currentLevel
}

// SetLevel dynamically updates the log level
func (l *ProductionLogger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = strings.ToUpper(level)
	l.debug = l.level == "DEBUG"
}

// SetOutput changes the output writer (useful for testing)
func (l *ProductionLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

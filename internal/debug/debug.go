package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Build flag for debug mode - can be overridden at build time
// go build -ldflags "-X github.com/standardbeagle/sift/internal/debug.EnableDebug=true"
var EnableDebug = "false"

// MCPMode tracks if we're running as an MCP server (set by main)
var MCPMode = false

var (
	debugMutex  sync.Mutex
	debugOutput io.Writer
	debugFile   *os.File

	// components limits output to the named components when non-empty
	components map[string]bool
)

// Component names used across sift
const (
	ComponentSearch = "SEARCH"
	ComponentCache  = "CACHE"
	ComponentQueue  = "QUEUE"
	ComponentWatch  = "WATCH"
	ComponentScan   = "SCAN"
	ComponentMCP    = "MCP"
)

// SetMCPMode enables MCP mode which suppresses all debug output to stdio
func SetMCPMode(enabled bool) {
	MCPMode = enabled
}

// SetDebugOutput sets a custom writer for debug output.
// Pass nil to disable debug output entirely.
func SetDebugOutput(w io.Writer) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugOutput = w
}

// SetComponents restricts output to a comma-separated list of component names.
// An empty list enables every component.
func SetComponents(list string) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	components = nil
	for _, name := range strings.Split(list, ",") {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if components == nil {
			components = make(map[string]bool)
		}
		components[name] = true
	}
}

// InitDebugLogFile routes debug output to a timestamped file under the temp dir.
// Call CloseDebugLog when done.
func InitDebugLogFile() (string, error) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	logDir := filepath.Join(os.TempDir(), "sift-debug-logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create debug log directory: %w", err)
	}

	logPath := filepath.Join(logDir, fmt.Sprintf("debug-%s.log", time.Now().Format("2006-01-02T150405")))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create debug log file: %w", err)
	}

	debugFile = file
	debugOutput = file
	return logPath, nil
}

// CloseDebugLog closes the debug log file if one is open.
func CloseDebugLog() error {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debugFile == nil {
		return nil
	}
	err := debugFile.Close()
	debugFile = nil
	debugOutput = nil
	return err
}

// IsDebugEnabled returns true if debug mode is enabled and we're not in MCP mode
func IsDebugEnabled() bool {
	if MCPMode {
		return false
	}
	if EnableDebug == "true" {
		return true
	}
	for _, key := range []string{"SIFT_DEBUG", "DEBUG"} {
		if v := os.Getenv(key); v == "1" || v == "true" {
			return true
		}
	}
	return false
}

// writerFor returns the configured writer if the component is enabled
func writerFor(component string) io.Writer {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	if debugOutput == nil {
		return nil
	}
	if components != nil && component != "" && !components[component] {
		return nil
	}
	return debugOutput
}

// Printf prints debug information only when debug mode is enabled and output is configured
func Printf(format string, args ...interface{}) {
	if !IsDebugEnabled() {
		return
	}
	if w := writerFor(""); w != nil {
		fmt.Fprintf(w, "[DEBUG] "+format, args...)
	}
}

// Log provides structured debug logging with component names
func Log(component, format string, args ...interface{}) {
	if !IsDebugEnabled() {
		return
	}
	w := writerFor(component)
	if w == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	fmt.Fprintf(w, "%s [DEBUG:%s] %s", time.Now().Format("15:04:05.000"), component, msg)
}

// LogSearch logs orchestrator and run activity
func LogSearch(format string, args ...interface{}) {
	Log(ComponentSearch, format, args...)
}

// LogCache logs cache tree decisions
func LogCache(format string, args ...interface{}) {
	Log(ComponentCache, format, args...)
}

// LogQueue logs task queue activity
func LogQueue(format string, args ...interface{}) {
	Log(ComponentQueue, format, args...)
}

// LogWatch logs file watcher activity
func LogWatch(format string, args ...interface{}) {
	Log(ComponentWatch, format, args...)
}

// LogScan logs file enumeration
func LogScan(format string, args ...interface{}) {
	Log(ComponentScan, format, args...)
}

// LogMCP logs MCP server activity
func LogMCP(format string, args ...interface{}) {
	Log(ComponentMCP, format, args...)
}

// Fatal writes a fatal message to the debug log and returns it as an error.
// In MCP mode, output is suppressed entirely.
func Fatal(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if !MCPMode {
		if w := writerFor(""); w != nil {
			fmt.Fprintf(w, "[FATAL] %s\n", msg)
		}
	}
	return fmt.Errorf("fatal error: %s", msg)
}

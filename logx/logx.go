package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
)

const (
	defaultMaxSizeMB  = 500
	defaultMaxAgeDays = 7
)

var (
	mu     sync.Mutex
	logger = log.New(newRotatingWriter(), "", log.Ldate|log.Ltime|log.Lmicroseconds)
)

func newRotatingWriter() io.Writer {
	return &lumberjack.Logger{
		Filename: getLogFilename(),
		MaxSize:  getIntEnv("LOGFILE_MAX_SIZE_MB", defaultMaxSizeMB), // megabytes
		MaxAge:   getIntEnv("LOGFILE_MAX_AGE_DAYS", defaultMaxAgeDays), // days
	}
}

func getLogFilename() string {
	if logFile := os.Getenv("LOGFILE"); logFile != "" {
		return "./logs/" + logFile
	}
	return "./logs/aanode.log"
}

func getIntEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// SetOutput redirects every category logger, e.g. to os.Stdout for CLI commands.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

func Info(category string, content ...interface{}) {
	write(ColorGreen, "INFO", category, content...)
}

func Error(category string, content ...interface{}) {
	write(ColorRed, "ERROR", category, content...)
}

func Warn(category string, content ...interface{}) {
	write(ColorYellow, "WARN", category, content...)
}

func Debug(category string, content ...interface{}) {
	write(ColorBlue, "DEBUG", category, content...)
}

func write(color, level, category string, content ...interface{}) {
	message := fmt.Sprint(content...)
	coloredCategory := fmt.Sprintf("%s[%s][%s]%s", color, level, category, ColorReset)
	logger.Printf("%s: %s", coloredCategory, message)
}

// Errorf logs an error message and returns a formatted error
func Errorf(format string, args ...interface{}) error {
	err := fmt.Errorf(format, args...)
	Error("ERROR", err.Error())
	return err
}

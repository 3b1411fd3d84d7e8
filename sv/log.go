package sv

import (
	"fmt"
	"log"
	"time"

	"github.com/natefinch/lumberjack"
)

// ModeFlag is a log severity.  Messages below the current mode are dropped.
type ModeFlag uint

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	CriticalMode
	SilentMode
)

var levelTags = [...]string{"   DEBUG ", "    INFO ", " WARNING ", "   ERROR ", "CRITICAL "}

var (
	mode = InfoMode

	// logfile is nil while messages go to stderr.
	logfile *lumberjack.Logger
)

// SetLogMode sets the lowest severity that is written.  SilentMode turns off all logging.
func SetLogMode(newMode ModeFlag) {
	mode = newMode
}

func logf(level ModeFlag, format string, args ...interface{}) {
	if level < mode {
		return
	}
	log.Printf(levelTags[level]+format, args...)
}

func Debugf(format string, args ...interface{})    { logf(DebugMode, format, args...) }
func Infof(format string, args ...interface{})     { logf(InfoMode, format, args...) }
func Warningf(format string, args ...interface{})  { logf(WarningMode, format, args...) }
func Errorf(format string, args ...interface{})    { logf(ErrorMode, format, args...) }
func Criticalf(format string, args ...interface{}) { logf(CriticalMode, format, args...) }

// LogConfig is the [logging] section of a server configuration.
type LogConfig struct {
	Logfile string
	MaxSize int `toml:"max_log_size"` // megabytes
	MaxAge  int `toml:"max_log_age"`  // days
}

// SetLogger sends log messages to a rotating log file if one is configured.
func (c *LogConfig) SetLogger() {
	if c == nil || c.Logfile == "" {
		Infof("Sending log messages to stderr since no log file specified.\n")
		return
	}
	fmt.Printf("Sending log messages to: %s\n", c.Logfile)
	logfile = &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize,
		MaxAge:   c.MaxAge,
	}
	log.SetOutput(logfile)
}

// Shutdown closes the log file opened by SetLogger.
func Shutdown() {
	if logfile == nil {
		return
	}
	log.Printf("Closing log file...\n")
	if err := logfile.Close(); err != nil {
		fmt.Printf("Error closing log file %s: %v\n", logfile.Filename, err)
	}
}

// TimeLog appends the time elapsed since its creation to each message.
//
//	timedLog := sv.NewTimeLog()
//	...
//	timedLog.Debugf("read %d chunks", n) // "read 5 chunks: 12.3ms"
type TimeLog struct {
	start time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{time.Now()}
}

func (t TimeLog) Debugf(format string, args ...interface{}) {
	logf(DebugMode, format+": %s\n", append(args, time.Since(t.start))...)
}

func (t TimeLog) Infof(format string, args ...interface{}) {
	logf(InfoMode, format+": %s\n", append(args, time.Since(t.start))...)
}

package metrics

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Logger interface {
	Log(rec *RunRecord)
}

// StdoutLogger writes run records to an io.Writer, os.Stdout by default.
type StdoutLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func NewStdoutLogger() *StdoutLogger {
	return &StdoutLogger{w: os.Stdout}
}

func NewWriterLogger(w io.Writer) *StdoutLogger {
	return &StdoutLogger{w: w}
}

func (l *StdoutLogger) Log(rec *RunRecord) {
	recStr, err := rec.ToJSON()
	if err != nil {
		log.Printf("StdoutLogger: error: %v", err)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := io.WriteString(l.w, recStr); err != nil {
		log.Printf("StdoutLogger: write error: %v", err)
	}
}

const defaultQueueSize = 2000
const defaultMaxLogFileSize = 64 * 1024 * 1024
const defaultMaxLogFiles = 10

// FileLogger appends run records to LogDir/runs.log from a background
// writer, rotating to runs.log.N once the file reaches MaxLogFileSize. At
// most MaxLogFiles rotated files are kept; the oldest is overwritten.
type FileLogger struct {
	queue          chan *RunRecord
	done           chan struct{}
	LogDir         string
	MaxLogFileSize int64
	MaxLogFiles    int
	Verbose        bool
}

func NewFileLogger(logDir string, maxLogFileSize int64, maxLogFiles int, verbose bool) (*FileLogger, error) {
	if maxLogFileSize <= 0 {
		maxLogFileSize = defaultMaxLogFileSize
	}
	if maxLogFiles <= 0 {
		maxLogFiles = defaultMaxLogFiles
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}
	logger := &FileLogger{
		queue:          make(chan *RunRecord, defaultQueueSize),
		done:           make(chan struct{}),
		LogDir:         logDir,
		MaxLogFileSize: maxLogFileSize,
		MaxLogFiles:    maxLogFiles,
		Verbose:        verbose,
	}
	f, err := logger.openLogFile()
	if err != nil {
		return nil, err
	}
	go logger.startLogWriter(f)
	return logger, nil
}

func (l *FileLogger) Log(rec *RunRecord) {
	l.queue <- rec
}

// Close drains the queue and waits for the writer to finish.
func (l *FileLogger) Close() {
	close(l.queue)
	<-l.done
}

func (l *FileLogger) logFilePath() string {
	return filepath.Join(l.LogDir, "runs.log")
}

func (l *FileLogger) startLogWriter(f *os.File) {
	defer close(l.done)
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	for rec := range l.queue {
		recStr, err := rec.ToJSON()
		if err != nil {
			log.Printf("FileLogger: rec.ToJSON() error: %v", err)
			continue
		}
		f, err = l.tryRotateLogFile(f)
		if err != nil {
			continue
		}
		if _, err := f.WriteString(recStr); err != nil {
			log.Printf("FileLogger: write error: %v", err)
			continue
		}
		f.Sync()
	}
}

func (l *FileLogger) openLogFile() (*os.File, error) {
	return os.OpenFile(l.logFilePath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func (l *FileLogger) tryRotateLogFile(currFile *os.File) (*os.File, error) {
	if currFile == nil {
		return l.openLogFile()
	}
	info, err := currFile.Stat()
	if err != nil {
		log.Printf("FileLogger: log rotation error: %v", err)
		return currFile, nil
	}
	if info.Size() < l.MaxLogFileSize {
		return currFile, nil
	}

	var rotatedLogFilePath string
	for i := 0; i < l.MaxLogFiles; i++ {
		filePath := fmt.Sprintf("%s.%d", l.logFilePath(), i)
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			rotatedLogFilePath = filePath
			break
		}
	}

	if len(rotatedLogFilePath) == 0 {
		rotatedLogFilePath, err = l.oldestRotatedFile()
		if err != nil {
			log.Printf("FileLogger: log rotation error: %v", err)
			return currFile, nil
		}
		if l.Verbose {
			log.Printf("FileLogger: maximum number of log files reached, overwriting %s", rotatedLogFilePath)
		}
		if err := os.Remove(rotatedLogFilePath); err != nil {
			log.Printf("FileLogger: log rotation error: %v", err)
			return currFile, nil
		}
	}

	currFile.Close()
	if err := os.Rename(l.logFilePath(), rotatedLogFilePath); err != nil {
		log.Printf("FileLogger: log rotation error: %v", err)
	} else if l.Verbose {
		log.Printf("FileLogger: log file rotated: %v", rotatedLogFilePath)
	}

	f, err := l.openLogFile()
	if err != nil {
		log.Printf("FileLogger: log rotation error: %v", err)
	}
	return f, err
}

func (l *FileLogger) oldestRotatedFile() (string, error) {
	entries, err := os.ReadDir(l.LogDir)
	if err != nil {
		return "", err
	}
	prefix := filepath.Base(l.logFilePath()) + "."
	var oldest string
	oldestTime := time.Now()
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if oldest == "" || info.ModTime().Before(oldestTime) {
			oldest = entry.Name()
			oldestTime = info.ModTime()
		}
	}
	if oldest == "" {
		oldest = prefix + "0"
	}
	return filepath.Join(l.LogDir, oldest), nil
}

package storage

import (
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	filePrefix = "beacon_"
	fileSuffix = ".log"
	dateLayout = "2006-01-02"

	// RotationSchedule fires at midnight UTC
	RotationSchedule = "0 0 * * *"
)

// Storage appends raw beacon payloads to one log file per UTC day
type Storage struct {
	outputDir string
	file      *os.File
	fileDate  string
	mu        sync.Mutex
	scheduler *cron.Cron
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a new Storage instance
func New(outputDir string, logger *slog.Logger) *Storage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage{
		outputDir: outputDir,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// FileName returns the log file name for a day
func FileName(day time.Time) string {
	return filePrefix + day.UTC().Format(dateLayout) + fileSuffix
}

// Start opens today's file, compresses leftovers from earlier days and
// schedules the daily rotation.
func (s *Storage) Start() error {
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	s.mu.Lock()
	err := s.rotateFile()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.compressStale(); err != nil {
		s.logger.Warn("failed to compress old logs", "error", err)
	}

	s.scheduler = cron.New(cron.WithLocation(time.UTC))
	if _, err := s.scheduler.AddFunc(RotationSchedule, func() {
		if err := s.rotateAndCompress(); err != nil {
			s.logger.Error("log rotation failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule rotation: %w", err)
	}
	s.scheduler.Start()
	return nil
}

// Stop stops the rotation schedule and closes the current file
func (s *Storage) Stop() error {
	if s.scheduler != nil {
		<-s.scheduler.Stop().Done()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

// WriteMessage writes one payload as a line of the current log file
func (s *Storage) WriteMessage(message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		if err := s.rotateFile(); err != nil {
			return err
		}
	}

	if len(message) > 0 && message[len(message)-1] == '\n' {
		_, err := s.file.Write(message)
		return err
	}

	line := make([]byte, len(message)+1)
	copy(line, message)
	line[len(message)] = '\n'
	_, err := s.file.Write(line)
	return err
}

// rotateAndCompress closes the current file, opens today's and gzips the
// file that was just closed when its day is over.
func (s *Storage) rotateAndCompress() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.fileDate
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}

	if err := s.rotateFile(); err != nil {
		return err
	}

	if previous == "" || previous == s.fileDate {
		return nil
	}
	path := filepath.Join(s.outputDir, filePrefix+previous+fileSuffix)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := compressFile(path); err != nil {
		return fmt.Errorf("failed to compress file: %w", err)
	}
	s.logger.Info("rotated log", "file", path+".gz")
	return nil
}

// compressStale gzips uncompressed logs from days before today
func (s *Storage) compressStale() error {
	matches, err := filepath.Glob(filepath.Join(s.outputDir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return err
	}
	sort.Strings(matches)

	today := FileName(s.now())
	for _, path := range matches {
		if filepath.Base(path) == today {
			continue
		}
		if err := compressFile(path); err != nil {
			return err
		}
	}
	return nil
}

// compressFile gzips path into path.gz and removes the original
func compressFile(path string) error {
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	target, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer target.Close()

	gzipWriter := gzip.NewWriter(target)
	gzipWriter.Name = filepath.Base(path)
	if _, err := io.Copy(gzipWriter, source); err != nil {
		return err
	}
	if err := gzipWriter.Close(); err != nil {
		return err
	}
	if err := target.Close(); err != nil {
		return err
	}
	source.Close()

	return os.Remove(path)
}

// rotateFile opens the log file for today; callers hold s.mu
func (s *Storage) rotateFile() error {
	now := s.now()
	filename := filepath.Join(s.outputDir, FileName(now))

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	s.file = file
	s.fileDate = strings.TrimSuffix(strings.TrimPrefix(FileName(now), filePrefix), fileSuffix)
	return nil
}

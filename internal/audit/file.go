package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileSink дописывает записи в JSONL-файл, по одной строке на запись.
type FileSink struct {
	path    string
	maxSize int64
	now     func() time.Time

	mu sync.Mutex
	f  *os.File
}

// NewFileSink открывает (или создаёт) файл журнала. maxSizeMB <= 0 отключает ротацию.
// Ротированные файлы не удаляются: вывоз и архивирование остаются за оператором.
func NewFileSink(path string, maxSizeMB int) (*FileSink, error) {
	if path == "" {
		return nil, errors.New("audit: file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: create log dir: %w", err)
	}
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &FileSink{
		path:    path,
		maxSize: int64(maxSizeMB) * 1024 * 1024,
		now:     time.Now,
		f:       f,
	}, nil
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open log file: %w", err)
	}
	return f, nil
}

func (s *FileSink) Append(_ context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return os.ErrClosed
	}
	if s.maxSize > 0 {
		if info, err := s.f.Stat(); err == nil && info.Size() > 0 && info.Size()+int64(len(data)) > s.maxSize {
			if err := s.rotate(); err != nil {
				return fmt.Errorf("audit: rotate: %w", err)
			}
		}
	}

	// Одна запись — один Write, строка не рвётся между писателями
	if _, err := s.f.Write(data); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	return nil
}

// rotate переименовывает текущий файл в path.<UTC-метка> и открывает новый.
// Существующие бэкапы никогда не перезаписываются.
func (s *FileSink) rotate() error {
	if err := s.f.Close(); err != nil {
		return err
	}
	backup, err := s.backupName()
	if err == nil {
		err = os.Rename(s.path, backup)
	}

	f, openErr := openAppend(s.path)
	if openErr != nil {
		s.f = nil
		return errors.Join(err, openErr)
	}
	s.f = f
	return err
}

// backupName подбирает свободное имя: при совпадении метки добавляется счётчик.
func (s *FileSink) backupName() (string, error) {
	base := s.path + "." + s.now().UTC().Format("20060102T150405.000000000Z")
	name := base
	for i := 1; ; i++ {
		if _, err := os.Lstat(name); errors.Is(err, os.ErrNotExist) {
			return name, nil
		} else if err != nil {
			return "", err
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

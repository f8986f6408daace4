package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"telemetry-dashboard/internal/models"
)

// FileStore хранит историю в одном JSON файле
type FileStore struct {
	path string
}

// NewFileStore создает хранилище, каталог создается при необходимости
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Path возвращает путь к файлу истории
func (f *FileStore) Path() string {
	return f.path
}

// Load читает историю из файла
func (f *FileStore) Load(_ context.Context) (models.Series, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.Series{}, nil
	}
	if err != nil {
		return models.Series{}, fmt.Errorf("failed to read history: %w", err)
	}
	return decode(data), nil
}

// Save атомарно перезаписывает файл через временный файл и rename
func (f *FileStore) Save(_ context.Context, series models.Series) error {
	data, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := renameio.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}

// Clear удаляет файл истории
func (f *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

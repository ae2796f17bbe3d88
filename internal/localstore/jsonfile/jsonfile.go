// Package jsonfile keeps the durable session in a small JSON document on disk.
// Every read goes to the file so that writes made by other processes are
// seen; every write replaces the file atomically.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

type document struct {
	Items map[string]string `json:"items"`
}

type Storage struct {
	mu       sync.Mutex
	fileName string
}

func initFile(fileName string) error {
	if err := os.MkdirAll(filepath.Dir(fileName), 0o700); err != nil {
		return err
	}

	return writeToJSONFile(fileName, &document{Items: map[string]string{}})
}

func writeToJSONFile(fileName string, doc *document) error {
	jsonData, err := json.MarshalIndent(doc, "", "\t")
	if err != nil {
		return fmt.Errorf("error marshaling JSON: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fileName), filepath.Base(fileName)+".*.tmp")
	if err != nil {
		return fmt.Errorf("error creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(jsonData); err != nil {
		tmp.Close()
		return fmt.Errorf("error writing to file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("error setting file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing file: %w", err)
	}

	if err := os.Rename(tmpName, fileName); err != nil {
		return fmt.Errorf("error replacing file: %w", err)
	}

	return nil
}

func parseJSONFile(fileName string) (*document, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	doc := &document{}
	if err := json.NewDecoder(file).Decode(doc); err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", fileName, err)
	}
	if doc.Items == nil {
		doc.Items = map[string]string{}
	}

	return doc, nil
}

// New opens the storage file, creating it (and its directory) when missing.
// A file that exists but does not parse is reported rather than overwritten.
func New(fileName string) (*Storage, error) {
	_, err := parseJSONFile(fileName)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if err := initFile(fileName); err != nil {
			return nil, err
		}
	}

	return &Storage{fileName: fileName}, nil
}

// FileName returns the path of the backing document.
func (s *Storage) FileName() string {
	return s.fileName
}

func (s *Storage) load() (*document, error) {
	doc, err := parseJSONFile(s.fileName)
	if os.IsNotExist(err) {
		return &document{Items: map[string]string{}}, nil
	}

	return doc, err
}

func (s *Storage) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return "", false, err
	}
	value, ok := doc.Items[key]

	return value, ok, nil
}

func (s *Storage) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Items[key] = value

	return writeToJSONFile(s.fileName, doc)
}

func (s *Storage) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Items[key]; !ok {
		return nil
	}
	delete(doc.Items, key)

	return writeToJSONFile(s.fileName, doc)
}

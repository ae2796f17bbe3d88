// Package qrcode renders short links as QR codes, either as PNG files or as
// text for the terminal.
package qrcode

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	goqrcode "github.com/skip2/go-qrcode"
)

const DefaultSize = 200

var ErrEmptyContent = errors.New("nothing to encode")

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// PNG encodes content at the highest error-correction level.
func PNG(content string, size int) ([]byte, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}
	if size <= 0 {
		size = DefaultSize
	}

	png, err := goqrcode.Encode(content, goqrcode.High, size)
	if err != nil {
		return nil, fmt.Errorf("error encoding QR code: %w", err)
	}

	return png, nil
}

// FileName is the name WritePNG uses for code.
func FileName(code string) string {
	return "qrcode-" + unsafeFileChars.ReplaceAllString(code, "_") + ".png"
}

// WritePNG writes the QR code of content to dir and returns the file path.
func WritePNG(dir, code, content string, size int) (string, error) {
	png, err := PNG(content, size)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating %s: %w", dir, err)
	}

	path := filepath.Join(dir, FileName(code))
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("error writing %s: %w", path, err)
	}

	return path, nil
}

// Terminal renders content with half-block characters, two modules per line.
func Terminal(content string) (string, error) {
	if content == "" {
		return "", ErrEmptyContent
	}

	q, err := goqrcode.New(content, goqrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("error encoding QR code: %w", err)
	}

	return q.ToSmallString(false), nil
}

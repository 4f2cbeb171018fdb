// Package questionbank loads interview question sets from YAML or TOML files
// and reloads them when the file changes.
package questionbank

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fyrsmithlabs/proctord/internal/proctor"
	"gopkg.in/yaml.v3"
)

// maxBankSize caps bank files read from disk.
const maxBankSize = 4 << 20

var (
	// ErrEmptyBank is returned for a bank file without questions.
	ErrEmptyBank = errors.New("question bank is empty")

	// ErrUnsupportedFormat is returned for files that are neither YAML nor TOML.
	ErrUnsupportedFormat = errors.New("unsupported question bank format")
)

// Format is a bank file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Bank is an ordered question set.
type Bank struct {
	Name string `yaml:"name" toml:"name"`

	// Language is the language the questions are written in.
	Language  string             `yaml:"language" toml:"language"`
	Questions []proctor.Question `yaml:"questions" toml:"questions"`
}

// Validate checks the question set. An empty set returns ErrEmptyBank.
func (b *Bank) Validate() error {
	if len(b.Questions) == 0 {
		return ErrEmptyBank
	}
	return proctor.ValidateQuestions(b.Questions)
}

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// LoadFile reads and validates a bank file.
func LoadFile(path string) (*Bank, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat question bank: %w", err)
	}
	if info.Size() > maxBankSize {
		return nil, fmt.Errorf("question bank %s too large: %d bytes (max %d)", path, info.Size(), maxBankSize)
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("read question bank: %w", err)
	}

	bank, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("question bank %s: %w", path, err)
	}
	if bank.Name == "" {
		bank.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return bank, nil
}

// Parse decodes and validates bank data. Question kinds are normalised to
// upper case; a missing kind means TEXT.
func Parse(data []byte, format Format) (*Bank, error) {
	var bank Bank
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&bank); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrEmptyBank
			}
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &bank)
		if err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("decode toml: unknown keys %v", undecoded)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	for i := range bank.Questions {
		q := &bank.Questions[i]
		if q.Kind == "" {
			q.Kind = proctor.KindText
		}
		q.Kind = proctor.Kind(strings.ToUpper(string(q.Kind)))
	}
	if err := bank.Validate(); err != nil {
		return nil, err
	}
	return &bank, nil
}

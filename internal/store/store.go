// Package store persists node result values behind an opaque keyed
// save/load contract.
//
// The engine never inspects a location's internal layout: Save returns an
// opaque location string and Load/Exists take it back verbatim. The file
// implementation keeps one object per node under the store directory, but
// nothing outside this package may rely on that.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/viant/afs"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// Store is the persistence contract for node result values.
type Store interface {
	// Save persists a value under the given node key and returns its
	// opaque location.
	Save(ctx context.Context, key string, v cty.Value, format string) (string, error)
	// Load reads a value back from a location returned by Save.
	Load(ctx context.Context, location string, format string) (cty.Value, error)
	// Exists reports whether a location still holds a readable object.
	Exists(ctx context.Context, location string) (bool, error)
}

// jsonEnvelope carries a value together with its cty type so that Load can
// reconstruct exactly what Save was given.
type jsonEnvelope struct {
	Type  json.RawMessage `json:"type"`
	Value json.RawMessage `json:"value"`
}

// FileStore stores one object per node in a directory, addressed through an
// afs service.
type FileStore struct {
	service afs.Service
	baseDir string
}

// NewFileStore returns a file-backed store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create result store directory %s: %w", dir, err)
	}
	return &FileStore{service: afs.New(), baseDir: dir}, nil
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, key string, v cty.Value, format string) (string, error) {
	data, ext, err := encode(v, format)
	if err != nil {
		return "", err
	}
	location := filepath.Join(s.baseDir, key+ext)
	if err := s.service.Upload(ctx, location, 0o644, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to save result for %s: %w", key, err)
	}
	return location, nil
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context, location string, format string) (cty.Value, error) {
	data, err := s.service.DownloadWithURL(ctx, location)
	if err != nil {
		return cty.NilVal, fmt.Errorf("failed to load result from %s: %w", location, err)
	}
	return decode(data, format)
}

// Exists implements Store.
func (s *FileStore) Exists(ctx context.Context, location string) (bool, error) {
	return s.service.Exists(ctx, location)
}

func encode(v cty.Value, format string) ([]byte, string, error) {
	switch format {
	case "json":
		typeJSON, err := ctyjson.MarshalType(v.Type())
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode value type: %w", err)
		}
		valueJSON, err := ctyjson.Marshal(v, v.Type())
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode value: %w", err)
		}
		data, err := json.Marshal(jsonEnvelope{Type: typeJSON, Value: valueJSON})
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode envelope: %w", err)
		}
		return data, ".json", nil

	case "text":
		if v.Type() != cty.String {
			return nil, "", fmt.Errorf("text format requires a string value, got %s", v.Type().FriendlyName())
		}
		return []byte(v.AsString()), ".txt", nil

	default:
		return nil, "", fmt.Errorf("unknown storage format %q", format)
	}
}

func decode(data []byte, format string) (cty.Value, error) {
	switch format {
	case "json":
		var envelope jsonEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			return cty.NilVal, fmt.Errorf("failed to decode envelope: %w", err)
		}
		ty, err := ctyjson.UnmarshalType(envelope.Type)
		if err != nil {
			return cty.NilVal, fmt.Errorf("failed to decode value type: %w", err)
		}
		v, err := ctyjson.Unmarshal(envelope.Value, ty)
		if err != nil {
			return cty.NilVal, fmt.Errorf("failed to decode value: %w", err)
		}
		return v, nil

	case "text":
		return cty.StringVal(string(data)), nil

	default:
		return cty.NilVal, fmt.Errorf("unknown storage format %q", format)
	}
}

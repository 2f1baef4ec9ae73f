package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bayleafwalker/bindery-capabilities/internal/capability"
)

// File reads a YAML capability document from disk on every call:
//
//	features:
//	  meters:
//	    pagination: true
//	storage:
//	  storage:
//	    production_ready: true
//
// The file is re-read each time so a reconfigured driver is picked up without
// a restart.
type File struct {
	Path string
}

type fileDocument struct {
	Features map[string]any `yaml:"features"`
	Storage  map[string]any `yaml:"storage"`
}

func NewFile(path string) *File {
	return &File{Path: path}
}

func (f *File) FeatureCapabilities(ctx context.Context) (capability.Tree, error) {
	doc, err := f.load(ctx)
	if err != nil {
		return capability.Tree{}, err
	}
	return f.parse("features", doc.Features)
}

func (f *File) StorageQualityCapabilities(ctx context.Context) (capability.Tree, error) {
	doc, err := f.load(ctx)
	if err != nil {
		return capability.Tree{}, err
	}
	return f.parse("storage", doc.Storage)
}

func (f *File) load(ctx context.Context) (fileDocument, error) {
	if f == nil {
		return fileDocument{}, Unavailable("file", errNilSource)
	}
	if err := ctx.Err(); err != nil {
		return fileDocument{}, err
	}
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return fileDocument{}, Unavailable(f.Path, err)
		}
		return fileDocument{}, Unavailable(f.Path, fmt.Errorf("read: %w", err))
	}
	var doc fileDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fileDocument{}, fmt.Errorf("capability file %s: %w: %v", f.Path, capability.ErrMalformedTree, err)
	}
	return doc, nil
}

func (f *File) parse(section string, m map[string]any) (capability.Tree, error) {
	if m == nil {
		return capability.Tree{}, Unavailable(f.Path, fmt.Errorf("section %q missing", section))
	}
	t, err := capability.FromMap(m)
	if err != nil {
		return capability.Tree{}, fmt.Errorf("capability file %s: %s: %w", f.Path, section, err)
	}
	return t, nil
}

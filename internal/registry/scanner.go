package registry

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"modelserve/internal/common/fsutil"
	"modelserve/pkg/types"
)

// Marker files and extensions used to classify artifacts.
const (
	TextConfigMarker     = "config.json"
	DiffusionIndexMarker = "model_index.json"
	TensorGraphExt       = ".onnx"
)

// Scanner walks an artifact root and classifies what it finds.
type Scanner struct {
	Log zerolog.Logger
}

// NewScanner returns a Scanner that logs to l.
func NewScanner(l zerolog.Logger) *Scanner { return &Scanner{Log: l} }

// Scan walks root and returns one descriptor per resolved name, sorted by name.
//
// Directories are visited in lexical order. Inside a directory the rules run in this
// order: config.json (text generation), *.onnx files (tensor graph), model_index.json
// (image diffusion). When two artifacts resolve to the same name the later one wins and
// a warning is logged. A missing root is created and yields an empty catalog.
func (s *Scanner) Scan(root string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(root)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	if !fsutil.PathExists(abs) {
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("create models dir: %w", err)
		}
		s.Log.Info().Str("dir", abs).Msg("created empty models directory")
		return []types.Model{}, nil
	}

	found := make(map[string]types.Model)
	put := func(m types.Model) {
		if prev, ok := found[m.Name]; ok {
			s.Log.Warn().
				Str("model", m.Name).
				Str("previous_path", prev.Path).
				Str("previous_kind", prev.Kind.String()).
				Str("path", m.Path).
				Str("kind", m.Kind.String()).
				Msg("duplicate model name, later artifact replaces earlier one")
		}
		found[m.Name] = m
		s.Log.Debug().Str("model", m.Name).Str("kind", m.Kind.String()).Str("path", m.Path).Msg("found model")
	}

	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == abs {
				return err
			}
			s.Log.Warn().Err(err).Str("path", path).Msg("skipping unreadable path")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		for _, m := range classifyDir(path) {
			put(m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", abs, err)
	}

	out := make([]types.Model, 0, len(found))
	for _, m := range found {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// classifyDir applies the marker rules to a single directory, in rule order.
func classifyDir(dir string) []types.Model {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var (
		hasConfig, hasIndex bool
		onnx                []string
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case name == TextConfigMarker:
			hasConfig = true
		case name == DiffusionIndexMarker:
			hasIndex = true
		case strings.EqualFold(filepath.Ext(name), TensorGraphExt):
			onnx = append(onnx, name)
		}
	}

	var out []types.Model
	dirName := filepath.Base(dir)
	if hasConfig {
		out = append(out, types.Model{Name: dirName, Path: dir, Kind: types.KindTextGeneration})
	}
	for _, f := range onnx {
		out = append(out, types.Model{
			Name: strings.TrimSuffix(f, filepath.Ext(f)),
			Path: filepath.Join(dir, f),
			Kind: types.KindTensorGraph,
		})
	}
	if hasIndex {
		out = append(out, types.Model{Name: dirName, Path: dir, Kind: types.KindImageDiffusion})
	}
	return out
}

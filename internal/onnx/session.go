package onnx

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type NodeInfo struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []any  `json:"shape"`
}

type Session struct {
	Name string
	Path string

	Inputs  []NodeInfo
	Outputs []NodeInfo
}

// GraphFile names one ONNX graph file inside a model directory.
type GraphFile struct {
	Name     string     `json:"name"`
	Filename string     `json:"filename"`
	Inputs   []NodeInfo `json:"inputs,omitempty"`
	Outputs  []NodeInfo `json:"outputs,omitempty"`
}

// ManifestFilename is the optional graph manifest looked up in a model
// directory. When absent the caller's default graph list is used.
const ManifestFilename = "manifest.json"

type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]Session
	order    []string
}

type onnxManifest struct {
	Graphs []GraphFile `json:"graphs"`
}

// NewSessionManager resolves graph files against modelDir. If modelDir holds
// a manifest.json its graph list replaces defaults.
func NewSessionManager(modelDir string, defaults []GraphFile) (*SessionManager, error) {
	if modelDir == "" {
		return nil, errors.New("model directory is required")
	}

	graphs := defaults
	manifestPath := filepath.Join(modelDir, ManifestFilename)
	if data, err := os.ReadFile(manifestPath); err == nil {
		var manifest onnxManifest
		if err := json.Unmarshal(data, &manifest); err != nil {
			return nil, fmt.Errorf("decode ONNX manifest: %w", err)
		}
		graphs = manifest.Graphs
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read ONNX manifest: %w", err)
	}

	if len(graphs) == 0 {
		return nil, errors.New("no ONNX graphs configured")
	}

	sm := &SessionManager{
		sessions: make(map[string]Session, len(graphs)),
		order:    make([]string, 0, len(graphs)),
	}

	for _, g := range graphs {
		if g.Name == "" {
			return nil, errors.New("graph has empty name")
		}

		if g.Filename == "" {
			return nil, fmt.Errorf("graph %q has empty filename", g.Name)
		}

		if _, exists := sm.sessions[g.Name]; exists {
			return nil, fmt.Errorf("duplicate session name %q", g.Name)
		}

		sessionPath := g.Filename
		if !filepath.IsAbs(sessionPath) {
			sessionPath = filepath.Join(modelDir, g.Filename)
		}

		sessionPath = filepath.Clean(sessionPath)
		if _, err := os.Stat(sessionPath); err != nil {
			return nil, fmt.Errorf("session file for %q: %w", g.Name, err)
		}

		sm.sessions[g.Name] = Session{
			Name:    g.Name,
			Path:    sessionPath,
			Inputs:  append([]NodeInfo(nil), g.Inputs...),
			Outputs: append([]NodeInfo(nil), g.Outputs...),
		}
		sm.order = append(sm.order, g.Name)

		slog.Info(
			"loaded ONNX session",
			"name", g.Name,
			"path", sessionPath,
			"inputs", nodeNames(g.Inputs),
			"outputs", nodeNames(g.Outputs),
		)
	}

	return sm, nil
}

func (m *SessionManager) Session(name string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[name]

	return s, ok
}

func (m *SessionManager) Sessions() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Session, 0, len(m.order))
	for _, name := range m.order {
		s := m.sessions[name]
		s.Inputs = append([]NodeInfo(nil), s.Inputs...)
		s.Outputs = append([]NodeInfo(nil), s.Outputs...)
		out = append(out, s)
	}

	return out
}

func nodeNames(nodes []NodeInfo) string {
	if len(nodes) == 0 {
		return ""
	}

	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}

	return strings.Join(names, ",")
}

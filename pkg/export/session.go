package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/CDdanieldeng/excel-accelerator/pkg/session"
)

// File names written next to the session's own JSON export.
const (
	TranscriptFile = "transcript.csv"
	ManifestFile   = "manifest.json"
)

// Options configures Session.
type Options struct {
	ToolVersion string
	Parameters  map[string]string
	// CSV defaults to DefaultCSVConfig().
	CSV *CSVConfig
}

// Session writes s under dir/<id>/: the JSON export of the session package,
// a spreadsheet transcript and a manifest. It returns the directory.
func Session(s *session.Session, dir string, opts Options) (string, error) {
	path, err := s.Export(dir)
	if err != nil {
		return "", fmt.Errorf("export session: %w", err)
	}

	f, err := os.Create(filepath.Join(path, TranscriptFile))
	if err != nil {
		return "", fmt.Errorf("create transcript: %w", err)
	}
	if err := WriteTranscript(f, s, opts.CSV); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close transcript: %w", err)
	}

	m := ManifestFor(s, opts)
	data, err := m.ToJSON()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(path, ManifestFile), data, 0644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}

// ManifestFor builds the manifest of s.
func ManifestFor(s *session.Session, opts Options) *Manifest {
	questions := make([]string, len(s.Turns))
	for i, t := range s.Turns {
		questions[i] = t.Utterance
	}
	return NewHashBuilder().
		WithToolVersion(opts.ToolVersion).
		WithSession(s.ID, s.DatasetRef).
		WithQuestions(questions).
		WithTimeRange(s.CreatedAt, s.LastActiveAt).
		WithParameters(opts.Parameters).
		Build()
}

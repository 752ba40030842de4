// Package storage writes reports of finished runs to disk: metadata as
// JSON and the sample history as CSV. Reports are for inspection and
// plotting; an engine never reloads them.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/san-kum/stabsim/internal/config"
	"github.com/san-kum/stabsim/internal/dynamo"
	"github.com/san-kum/stabsim/internal/metrics"
)

const (
	metadataFile = "metadata.json"
	historyFile  = "history.csv"
)

var csvHeader = []string{
	"tick", "t", "reference", "measured", "error", "p", "d", "control",
	"output", "inductive", "electromagnetic", "fault_energy", "faulted",
}

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// RunDir is the directory holding a run's files.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

type RunMetadata struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Timestamp time.Time          `json:"timestamp"`
	Duration  float64            `json:"duration"`
	Ticks     int                `json:"ticks"`
	Fault     string             `json:"fault"`
	Config    *config.Config     `json:"config"`
	Metrics   map[string]float64 `json:"metrics"`
	Summary   metrics.Summary    `json:"summary"`
}

// Run is everything needed to write a report.
type Run struct {
	Name    string
	Config  *config.Config
	Fault   dynamo.FaultStatus
	Samples []dynamo.Sample
	Metrics map[string]float64
	Summary metrics.Summary
}

// Save writes a run under a fresh ID and returns the ID.
func (s *Store) Save(run Run) (string, error) {
	runID := fmt.Sprintf("%s_%s", run.Name, uuid.NewString()[:8])
	runDir := s.RunDir(runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:        runID,
		Name:      run.Name,
		Timestamp: time.Now(),
		Ticks:     len(run.Samples),
		Fault:     run.Fault.String(),
		Config:    run.Config,
		Metrics:   run.Metrics,
		Summary:   run.Summary,
	}
	if n := len(run.Samples); n > 0 {
		meta.Duration = run.Samples[n-1].T - run.Samples[0].T
	}

	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}
	if err := WriteCSV(filepath.Join(runDir, historyFile), run.Samples); err != nil {
		return "", err
	}
	return runID, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// WriteCSV writes samples with a header row.
func WriteCSV(path string, samples []dynamo.Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, s := range samples {
		row := []string{
			strconv.FormatUint(s.Tick, 10),
			formatFloat(s.T),
			formatFloat(s.Reference),
			formatFloat(s.Measured),
			formatFloat(s.Error),
			formatFloat(s.P),
			formatFloat(s.D),
			formatFloat(s.Control),
			formatFloat(s.Output),
			formatFloat(s.Inductive),
			formatFloat(s.Electromagnetic),
			formatFloat(s.FaultEnergy),
			strconv.FormatBool(s.Faulted),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// List returns the metadata of every stored run, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Timestamp.After(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.RunDir(runID), metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadSamples reads a run's history for plotting.
func (s *Store) LoadSamples(runID string) ([]dynamo.Sample, error) {
	return ReadCSV(filepath.Join(s.RunDir(runID), historyFile))
}

// ReadCSV parses a file written by WriteCSV.
func ReadCSV(path string) ([]dynamo.Sample, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = len(csvHeader)

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return []dynamo.Sample{}, nil
	}

	samples := make([]dynamo.Sample, 0, len(records)-1)
	for i, rec := range records[1:] {
		s, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func parseRow(rec []string) (dynamo.Sample, error) {
	var s dynamo.Sample
	tick, err := strconv.ParseUint(rec[0], 10, 64)
	if err != nil {
		return s, err
	}
	s.Tick = tick

	fields := []*float64{
		&s.T, &s.Reference, &s.Measured, &s.Error, &s.P, &s.D, &s.Control,
		&s.Output, &s.Inductive, &s.Electromagnetic, &s.FaultEnergy,
	}
	for i, dst := range fields {
		v, err := strconv.ParseFloat(rec[i+1], 64)
		if err != nil {
			return s, err
		}
		*dst = v
	}

	s.Faulted, err = strconv.ParseBool(rec[len(rec)-1])
	return s, err
}

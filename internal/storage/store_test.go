package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/san-kum/stabsim/internal/config"
	"github.com/san-kum/stabsim/internal/dynamo"
	"github.com/san-kum/stabsim/internal/metrics"
)

func testRun() Run {
	return Run{
		Name:   "test",
		Config: config.DefaultConfig(),
		Fault:  dynamo.FaultStatus{Reason: dynamo.FuseBlown},
		Samples: []dynamo.Sample{
			{Tick: 0, T: 0, Reference: 220, Measured: 220, Output: 220},
			{Tick: 1, T: 0.1, Reference: 220, Measured: 420, Error: -200, Inductive: 200, Faulted: true},
		},
		Metrics: map[string]float64{"trips": 1},
		Summary: metrics.Summary{Samples: 2, Faulted: 1},
	}
}

func TestStoreSaveLoad(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	runID, err := st.Save(testRun())
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if !strings.HasPrefix(runID, "test_") {
		t.Errorf("unexpected run id %q", runID)
	}

	meta, err := st.Load(runID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if meta.Fault != "tripped(fuse_blown)" {
		t.Errorf("expected fault tripped(fuse_blown), got %q", meta.Fault)
	}
	if meta.Ticks != 2 {
		t.Errorf("expected 2 ticks, got %d", meta.Ticks)
	}
	if meta.Metrics["trips"] != 1 {
		t.Errorf("expected trips 1, got %f", meta.Metrics["trips"])
	}
	if meta.Config == nil || meta.Config.Kp != config.DefaultKp {
		t.Errorf("config not round-tripped: %+v", meta.Config)
	}

	samples, err := st.LoadSamples(runID)
	if err != nil {
		t.Fatalf("load samples failed: %v", err)
	}
	want := testRun().Samples
	if len(samples) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(samples))
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("sample %d: got %+v, want %+v", i, samples[i], want[i])
		}
	}
}

func TestStoreList(t *testing.T) {
	st := New(t.TempDir())

	runs, err := st.List()
	if err != nil {
		t.Fatalf("list on empty store failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no runs, got %d", len(runs))
	}

	for i := 0; i < 3; i++ {
		if _, err := st.Save(testRun()); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(st.baseDir, "stray.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	runs, err = st.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 3 {
		t.Errorf("expected 3 runs, got %d", len(runs))
	}
}

func TestReadCSVRejectsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	content := strings.Join(csvHeader, ",") + "\n" + "0,x,220,220,0,0,0,0,220,0,0,0,false\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadCSV(path); err == nil {
		t.Error("expected parse error")
	}
}

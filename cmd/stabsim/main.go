package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/stabsim/internal/automation"
	"github.com/san-kum/stabsim/internal/config"
	"github.com/san-kum/stabsim/internal/dynamo"
	"github.com/san-kum/stabsim/internal/engine"
	"github.com/san-kum/stabsim/internal/export"
	"github.com/san-kum/stabsim/internal/metrics"
	"github.com/san-kum/stabsim/internal/optim"
	"github.com/san-kum/stabsim/internal/storage"
	"github.com/san-kum/stabsim/internal/viz"
)

var (
	dataDir  string
	logLevel string
	logFile  string

	configFile  string
	preset      string
	duration    float64
	kp          float64
	kd          float64
	reference   float64
	input       float64
	runName     string
	save        bool
	png         bool
	metricsFile string
	theme       string

	sweepParam   string
	sweepMin     float64
	sweepMax     float64
	sweepSteps   int
	sweepWorkers int

	tuneKp        []float64
	tuneKd        []float64
	tuneObjective string
)

var log = logrus.New()

func main() {
	rootCmd := &cobra.Command{
		Use:               "stabsim",
		Short:             "closed-loop voltage stabilizer simulator",
		SilenceUsage:      true,
		PersistentPreRunE: setupLogging,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".stabsim", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to file instead of stderr")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the engine headless for a fixed duration",
		RunE:  runHeadless,
	}
	addConfigFlags(runCmd)
	runCmd.Flags().Float64Var(&duration, "time", 60, "simulated seconds")
	runCmd.Flags().StringVar(&runName, "name", "run", "run name for saved reports")
	runCmd.Flags().BoolVar(&save, "save", true, "save the run report")
	runCmd.Flags().BoolVar(&png, "png", false, "render PNG charts into the run directory")
	runCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write prometheus metrics in textfile format")

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "run the engine in real time with a terminal UI",
		RunE:  runLive,
	}
	addConfigFlags(liveCmd)
	liveCmd.Flags().StringVar(&theme, "theme", "panel", "color theme ("+strings.Join(viz.ThemeNames(), ", ")+")")

	scenarioCmd := &cobra.Command{
		Use:   "scenario [file]",
		Short: "run a scripted scenario",
		Args:  cobra.ExactArgs(1),
		RunE:  runScenario,
	}
	scenarioCmd.Flags().BoolVar(&save, "save", true, "save the run report")
	scenarioCmd.Flags().BoolVar(&png, "png", false, "render PNG charts into the run directory")

	sweepCmd := &cobra.Command{
		Use:   "sweep [file]",
		Short: "run a scenario across a parameter range",
		Args:  cobra.ExactArgs(1),
		RunE:  runSweep,
	}
	sweepCmd.Flags().StringVar(&sweepParam, "param", "kp", "parameter to sweep")
	sweepCmd.Flags().Float64Var(&sweepMin, "min", 0.1, "first value")
	sweepCmd.Flags().Float64Var(&sweepMax, "max", 1.0, "last value")
	sweepCmd.Flags().IntVar(&sweepSteps, "steps", 10, "number of values")
	sweepCmd.Flags().IntVar(&sweepWorkers, "workers", 0, "parallel runs (0 = GOMAXPROCS)")

	tuneCmd := &cobra.Command{
		Use:   "tune [file]",
		Short: "grid-search controller gains against a scenario",
		Args:  cobra.ExactArgs(1),
		RunE:  runTune,
	}
	tuneCmd.Flags().Float64SliceVar(&tuneKp, "kp", []float64{0.1, 0.3, 0.5, 0.7, 0.9}, "kp values to try")
	tuneCmd.Flags().Float64SliceVar(&tuneKd, "kd", []float64{0, 0.02, 0.045, 0.08}, "kd values to try")
	tuneCmd.Flags().StringVar(&tuneObjective, "objective", "rms_error", "metric to minimize")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list configuration presets",
		RunE:  listPresets,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "print the resolved configuration as YAML",
		RunE:  printConfig,
	}
	addConfigFlags(configCmd)

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "list saved runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a saved run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().BoolVar(&png, "png", false, "also render PNG charts into the run directory")

	rootCmd.AddCommand(runCmd, liveCmd, scenarioCmd, sweepCmd, tuneCmd, presetsCmd, configCmd, runsCmd, plotCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	cmd.Flags().Float64Var(&kp, "kp", config.DefaultKp, "proportional gain")
	cmd.Flags().Float64Var(&kd, "kd", config.DefaultKd, "derivative gain")
	cmd.Flags().Float64Var(&reference, "reference", config.DefaultReference, "reference voltage")
	cmd.Flags().Float64Var(&input, "input", config.DefaultReference, "supply input voltage")
}

func setupLogging(cmd *cobra.Command, args []string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		log.SetOutput(f)
	}
	return nil
}

// resolveConfig applies --config or --preset, then explicitly set flags.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case configFile != "":
		cfg, err = config.Load(configFile)
	case preset != "":
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset %q (have %s)", preset, strings.Join(config.ListPresets(), ", "))
		}
	default:
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, err
	}

	overrides := map[string]*float64{
		"kp":            &kp,
		"kd":            &kd,
		"reference":     &reference,
		"input_voltage": &input,
	}
	for name, v := range overrides {
		flag := name
		if name == "input_voltage" {
			flag = "input"
		}
		if !cmd.Flags().Changed(flag) {
			continue
		}
		if err := automation.SetParam(cfg, name, *v); err != nil {
			return nil, err
		}
	}
	return cfg, cfg.Validate()
}

func runHeadless(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	rec, err := metrics.NewRecorder(reg)
	if err != nil {
		return err
	}
	result, err := headless(cfg, duration, rec)
	if err != nil {
		return err
	}
	printResult(result)

	if metricsFile != "" {
		if err := metrics.WriteTextfile(metricsFile, reg); err != nil {
			return err
		}
		log.WithField("path", metricsFile).Info("metrics written")
	}
	return saveRun(result)
}

// headless runs cfg for seconds of logical time. The report covers the
// whole run, not the live retention window.
func headless(cfg *config.Config, seconds float64, rec *metrics.Recorder) (storage.Run, error) {
	cfg = cfg.Clone()
	cfg.HistorySeconds = 0

	e, err := engine.New(cfg, engine.WithLogger(log), engine.WithRecorder(rec))
	if err != nil {
		return storage.Run{}, err
	}

	ticks := int(seconds/cfg.Dt + 0.5)
	log.WithFields(logrus.Fields{
		"ticks":  ticks,
		"mode":   cfg.Mode,
		"policy": cfg.Policy,
	}).Info("running")
	e.Run(ticks)

	samples := e.HistoryWindow(dynamo.Window{})
	tolerance := cfg.Threshold()
	return storage.Run{
		Name:    runName,
		Config:  e.ConfigSnapshot(),
		Fault:   e.FaultStatus(),
		Samples: samples,
		Metrics: metrics.Evaluate(metrics.Standard(tolerance), samples),
		Summary: metrics.Summarize(samples, tolerance),
	}, nil
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if logFile == "" {
		log.SetOutput(io.Discard)
	}

	e, err := engine.New(cfg, engine.WithLogger(log))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := e.Start(ctx); err != nil {
		return err
	}
	defer e.Stop()

	p := tea.NewProgram(viz.NewModel(e, theme), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	return err
}

func runScenario(cmd *cobra.Command, args []string) error {
	sc, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := automation.RunScenario(ctx, sc, log)
	if err != nil {
		return err
	}

	result := storage.Run{
		Name:    res.Name,
		Config:  res.Config,
		Fault:   res.Fault,
		Samples: res.Samples,
		Metrics: res.Metrics,
		Summary: res.Summary,
	}
	printResult(result)
	return saveRun(result)
}

func runSweep(cmd *cobra.Command, args []string) error {
	sc, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sweep := &automation.ParameterSweep{
		ParamName: sweepParam,
		ParamMin:  sweepMin,
		ParamMax:  sweepMax,
		NumSteps:  sweepSteps,
		Workers:   sweepWorkers,
	}
	results, err := automation.RunSweep(ctx, sweep, sc, log)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tFAULT\tRMS_ERR\tPEAK_ERR\tSTABILITY\tEFFORT\tSETTLE\n", strings.ToUpper(sweepParam))
	for _, r := range results {
		fmt.Fprintf(w, "%.4g\t%s\t%.3f\t%.3f\t%.3f\t%.3f\t%.1fs\n",
			r.ParamValue,
			r.Fault,
			r.Summary.RMSError,
			r.Metrics["peak_error"],
			r.Metrics["stability"],
			r.Metrics["control_effort"],
			r.Summary.SettlingTime,
		)
	}
	return w.Flush()
}

func runTune(cmd *cobra.Command, args []string) error {
	sc, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}
	g, err := optim.NewGridSearch([]string{"kp", "kd"}, [][]float64{tuneKp, tuneKd})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	best, err := g.Search(ctx, sc, optim.MetricObjective(tuneObjective), log)
	if err != nil {
		return err
	}
	fmt.Printf("best: kp=%.4g kd=%.4g %s=%.4f\n", best.Params["kp"], best.Params["kd"], tuneObjective, best.Score)
	return nil
}

func printResult(r storage.Run) {
	fmt.Printf("run:       %s\n", r.Name)
	fmt.Printf("status:    %s\n", r.Fault)
	fmt.Printf("samples:   %d (%d faulted)\n", r.Summary.Samples, r.Summary.Faulted)
	fmt.Printf("output:    mean %.2f V  min %.2f V  max %.2f V\n", r.Summary.MeanOutput, r.Summary.MinOutput, r.Summary.MaxOutput)
	fmt.Printf("error:     rms %.3f V  std %.3f V\n", r.Summary.RMSError, r.Summary.StdError)
	fmt.Printf("settling:  %.1fs\n", r.Summary.SettlingTime)
	names := make([]string, 0, len(r.Metrics))
	for name := range r.Metrics {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Printf("  %-16s %.4f\n", name, r.Metrics[name])
	}
}

func saveRun(r storage.Run) error {
	if !save {
		return nil
	}
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	runID, err := st.Save(r)
	if err != nil {
		return err
	}
	fmt.Printf("\nsaved: %s\n", runID)

	if png {
		files, err := export.WriteChart(st.RunDir(runID), r.Samples, true)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Printf("chart: %s\n", f)
		}
	}
	return nil
}

func listPresets(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMODE\tPOLICY\tKP\tKD\tTRIP")
	for _, name := range config.ListPresets() {
		c := config.GetPreset(name)
		fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\t%.3f\t%s(%.0f%%)\n",
			name, c.Mode, c.Policy, c.Kp, c.EffectiveKd(), c.Protection.TripMode, c.Protection.TripFraction*100)
	}
	return w.Flush()
}

func printConfig(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tDURATION\tTICKS\tFAULT\tRMS_ERR")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%.1fs\t%d\t%s\t%.3f\n",
			run.ID,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Duration,
			run.Ticks,
			run.Fault,
			run.Summary.RMSError,
		)
	}
	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	samples, err := st.LoadSamples(runID)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("status: %s\n", meta.Fault)
	fmt.Printf("samples: %d\n\n", len(samples))

	output := make([]float64, len(samples))
	errs := make([]float64, len(samples))
	for i, s := range samples {
		output[i], errs[i] = s.Output, s.Error
	}
	for _, g := range []struct {
		data    []float64
		caption string
	}{
		{output, "output voltage"},
		{errs, "tracking error"},
	} {
		fmt.Println(asciigraph.Plot(g.data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(g.caption),
		))
		fmt.Println()
	}

	if png {
		files, err := export.WriteChart(st.RunDir(runID), samples, true)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Printf("chart: %s\n", f)
		}
	}
	return nil
}

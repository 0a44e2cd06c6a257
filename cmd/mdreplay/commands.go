package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/GeoCodeCrafter/md-replay/config"
	"github.com/GeoCodeCrafter/md-replay/errs"
	"github.com/GeoCodeCrafter/md-replay/internal/clients"
	"github.com/GeoCodeCrafter/md-replay/internal/dashboard"
	"github.com/GeoCodeCrafter/md-replay/internal/event"
	"github.com/GeoCodeCrafter/md-replay/internal/ingest"
	"github.com/GeoCodeCrafter/md-replay/internal/replay"
	"github.com/GeoCodeCrafter/md-replay/internal/replay/replaygrpc"
	"github.com/GeoCodeCrafter/md-replay/internal/storage"
	"github.com/GeoCodeCrafter/md-replay/internal/telemetry"
	"github.com/GeoCodeCrafter/md-replay/internal/tick"
)

const defaultIndexStride = 1024

type ingestFlags struct {
	input       string
	venue       string
	out         string
	indexStride uint
	tickConfig  string
}

func bindIngestFlags(fs *flag.FlagSet, f *ingestFlags, inputFlag, inputUsage string) {
	fs.StringVar(&f.input, inputFlag, "", inputUsage)
	fs.StringVar(&f.venue, "venue", "", "venue label stamped on every event")
	fs.StringVar(&f.out, "out", "", "output event log path")
	fs.UintVar(&f.indexStride, "index-stride", defaultIndexStride, "records between index samples")
	fs.StringVar(&f.tickConfig, "tick-config", "", "YAML tick table (default tick 0.01)")
}

func (f *ingestFlags) validate(inputFlag string) error {
	if f.input == "" {
		return errs.New(errs.KindConfigurationInvalid, errs.WithMessage("--"+inputFlag+" is required"))
	}
	if f.venue == "" {
		return errs.New(errs.KindConfigurationInvalid, errs.WithMessage("--venue is required"))
	}
	if f.out == "" {
		return errs.New(errs.KindConfigurationInvalid, errs.WithMessage("--out is required"))
	}
	if f.indexStride == 0 {
		return errs.New(errs.KindConfigurationInvalid, errs.WithMessage("--index-stride must be > 0"))
	}
	return nil
}

func runIngestCSV(ctx context.Context, logger *log.Logger, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	var f ingestFlags
	bindIngestFlags(fs, &f, "input", "input CSV path (.gz accepted)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := f.validate("input"); err != nil {
		return err
	}

	ticks, err := loadTicks(f.tickConfig)
	if err != nil {
		return err
	}

	var events []event.Event
	switch command {
	case "ingest-csv-a":
		events, err = ingest.CSVA(f.input, f.venue, ticks)
	case "ingest-csv-b":
		events, err = ingest.CSVB(f.input, f.venue, ticks)
	case "ingest-csv-c":
		events, err = ingest.CSVC(f.input, f.venue, ticks)
	}
	if err != nil {
		return err
	}

	provider, metrics := initTelemetry(ctx, logger)
	defer shutdownTelemetry(provider, logger)
	metrics.RecordIngest(ctx, command, len(events), 0)

	if err := writeLogAndIndex(ctx, events, f.out, uint32(f.indexStride), metrics); err != nil {
		return err
	}
	logger.Printf("ingested %s: events=%d out=%s", command, len(events), f.out)
	return nil
}

func runIngestPcap(ctx context.Context, logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("ingest-pcap", flag.ExitOnError)
	var f ingestFlags
	bindIngestFlags(fs, &f, "pcap", "input capture path (.gz accepted)")
	schema := fs.String("schema", "mock_itch", "capture payload schema")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := f.validate("pcap"); err != nil {
		return err
	}
	if *schema != "mock_itch" {
		return errs.New(errs.KindConfigurationInvalid, errs.WithMessage("unsupported schema "+*schema))
	}

	result, err := ingest.Pcap(f.input, f.venue)
	if err != nil {
		return err
	}
	for _, issue := range result.Issues {
		logger.Printf("pcap parse issue: packet=%d offset=%d detail=%s",
			issue.PacketIndex, issue.Offset, issue.Detail)
	}

	provider, metrics := initTelemetry(ctx, logger)
	defer shutdownTelemetry(provider, logger)
	metrics.RecordIngest(ctx, "ingest-pcap", len(result.Events), len(result.Issues))

	if err := writeLogAndIndex(ctx, result.Events, f.out, uint32(f.indexStride), metrics); err != nil {
		return err
	}
	logger.Printf("ingested pcap: events=%d issues=%d out=%s", len(result.Events), len(result.Issues), f.out)
	return nil
}

func runIngestReal(ctx context.Context, logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("ingest-real", flag.ExitOnError)
	var f ingestFlags
	bindIngestFlags(fs, &f, "symbols", "comma-separated symbol list")
	provider := fs.String("provider", "yahoo", "upstream data provider")
	interval := fs.String("interval", "1m", "bar interval")
	barRange := fs.String("range", "1d", "history range")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := f.validate("symbols"); err != nil {
		return err
	}
	if *provider != "yahoo" {
		return errs.New(errs.KindConfigurationInvalid, errs.WithMessage("unsupported real-data provider "+*provider))
	}

	symbols, err := parseSymbols(f.input)
	if err != nil {
		return err
	}
	ticks, err := loadTicks(f.tickConfig)
	if err != nil {
		return err
	}

	client := ingest.NewChartClient("")
	events, err := client.Ingest(ctx, symbols, f.venue, ticks, *interval, *barRange)
	if err != nil {
		return err
	}

	telemetryProvider, metrics := initTelemetry(ctx, logger)
	defer shutdownTelemetry(telemetryProvider, logger)
	metrics.RecordIngest(ctx, "ingest-real", len(events), 0)

	if err := writeLogAndIndex(ctx, events, f.out, uint32(f.indexStride), metrics); err != nil {
		return err
	}
	logger.Printf("ingested real data: provider=%s symbols=%s events=%d out=%s",
		*provider, f.input, len(events), f.out)
	return nil
}

func runGenPcap(logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("gen-pcap", flag.ExitOnError)
	out := fs.String("out", "", "output capture path")
	symbols := fs.String("symbols", "", "comma-separated symbol list")
	events := fs.Int("events", 0, "number of packets to generate")
	seed := fs.Int64("seed", 42, "PRNG seed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" || *symbols == "" || *events <= 0 {
		return errs.New(errs.KindConfigurationInvalid,
			errs.WithMessage("--out, --symbols, and --events are required"))
	}

	syms, err := parseSymbols(*symbols)
	if err != nil {
		return err
	}
	if err := ingest.GeneratePcap(*out, syms, *events, *seed); err != nil {
		return err
	}
	logger.Printf("generated pcap: out=%s events=%d seed=%d", *out, *events, *seed)
	return nil
}

type readFlags struct {
	logPath string
	index   string
	from    uint64
	to      uint64
	out     string
}

func bindReadFlags(fs *flag.FlagSet, f *readFlags) {
	fs.StringVar(&f.logPath, "log", "", "event log path")
	fs.StringVar(&f.index, "index", "", "index path (default <log>.idx when present)")
	fs.Uint64Var(&f.from, "from", 0, "window start timestamp (ns, 0 = unbounded)")
	fs.Uint64Var(&f.to, "to", 0, "window end timestamp (ns, 0 = unbounded)")
	fs.StringVar(&f.out, "out", "", "write lines to a file instead of stdout")
}

func (f *readFlags) resolve() error {
	if f.logPath == "" {
		return errs.New(errs.KindConfigurationInvalid, errs.WithMessage("--log is required"))
	}
	if f.index == "" {
		f.index = maybeIndexPath(f.logPath)
	}
	return nil
}

func runPrint(args []string) error {
	fs := flag.NewFlagSet("print", flag.ExitOnError)
	var f readFlags
	bindReadFlags(fs, &f)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := f.resolve(); err != nil {
		return err
	}

	events, err := replay.ReadEvents(f.logPath, f.index, f.from, f.to)
	if err != nil {
		return err
	}
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		lines = append(lines, clients.FormatEvent(ev))
	}
	return emitLines(lines, f.out)
}

func runFeature(args []string) error {
	fs := flag.NewFlagSet("feature", flag.ExitOnError)
	var f readFlags
	bindReadFlags(fs, &f)
	seed := fs.Int64("seed", 42, "feature config seed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := f.resolve(); err != nil {
		return err
	}

	events, err := replay.ReadEvents(f.logPath, f.index, f.from, f.to)
	if err != nil {
		return err
	}
	lines := clients.RunFeature(events, clients.SeededFeatureConfig(*seed))
	return emitLines(lines, f.out)
}

func runVerify(logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	logPath := fs.String("log", "", "event log path")
	index := fs.String("index", "", "index path (default <log>.idx when present)")
	client := fs.String("client", "feature", "client to verify")
	seed := fs.Int64("seed", 42, "client config seed")
	out := fs.String("out", "verify.out", "output file written on success")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *logPath == "" {
		return errs.New(errs.KindConfigurationInvalid, errs.WithMessage("--log is required"))
	}
	if *client != "feature" {
		return errs.New(errs.KindConfigurationInvalid, errs.WithMessage("unsupported verify client "+*client))
	}

	idx := *index
	if idx == "" {
		idx = maybeIndexPath(*logPath)
	}
	if err := clients.VerifyFeatureDeterminism(*logPath, idx, *seed, *out); err != nil {
		return err
	}
	logger.Printf("verify passed: out=%s", *out)
	return nil
}

func runServe(ctx context.Context, logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	logPath := fs.String("log", "", "event log path")
	index := fs.String("index", "", "index path (default <log>.idx when present)")
	speed := fs.String("speed", "1x", "default replay speed, e.g. 2.5 or 2.5x")
	from := fs.Uint64("from", 0, "default window start (ns)")
	to := fs.Uint64("to", 0, "default window end (ns)")
	maxSpeed := fs.Bool("max-speed", false, "default to unpaced replay")
	stepMode := fs.Bool("step-mode", false, "default to step-mode replay")
	addr := fs.String("addr", "127.0.0.1:50051", "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *logPath == "" {
		return errs.New(errs.KindConfigurationInvalid, errs.WithMessage("--log is required"))
	}

	parsedSpeed, err := parseSpeed(*speed)
	if err != nil {
		return err
	}
	defaults := replay.Config{
		FromNS:   *from,
		ToNS:     *to,
		Speed:    parsedSpeed,
		MaxSpeed: *maxSpeed,
		StepMode: *stepMode,
	}

	idx := *index
	if idx == "" {
		idx = maybeIndexPath(*logPath)
	}

	provider, metrics := initTelemetry(ctx, logger)
	defer shutdownTelemetry(provider, logger)

	server := replaygrpc.NewServer(*logPath, idx, defaults, logger, replaygrpc.WithMetrics(metrics))
	return replaygrpc.Serve(ctx, *addr, server)
}

func runUI(ctx context.Context, logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("ui", flag.ExitOnError)
	logPath := fs.String("log", "", "event log path")
	index := fs.String("index", "", "index path (default <log>.idx when present)")
	compareLog := fs.String("compare-log", "", "second log to diff against")
	compareIndex := fs.String("compare-index", "", "index for the second log")
	from := fs.Uint64("from", 0, "window start (ns)")
	to := fs.Uint64("to", 0, "window end (ns)")
	addr := fs.String("addr", "127.0.0.1:8080", "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *logPath == "" {
		return errs.New(errs.KindConfigurationInvalid, errs.WithMessage("--log is required"))
	}
	if *compareLog == "" && *compareIndex != "" {
		return errs.New(errs.KindConfigurationInvalid,
			errs.WithMessage("--compare-index requires --compare-log"))
	}

	idx := *index
	if idx == "" {
		idx = maybeIndexPath(*logPath)
	}
	events, err := replay.ReadEvents(*logPath, idx, *from, *to)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return errs.New(errs.KindInputFormat, errs.WithMessage("no events loaded"), errs.WithPath(*logPath))
	}

	var compare []event.Event
	if *compareLog != "" {
		cmpIdx := *compareIndex
		if cmpIdx == "" {
			cmpIdx = maybeIndexPath(*compareLog)
		}
		compare, err = replay.ReadEvents(*compareLog, cmpIdx, *from, *to)
		if err != nil {
			return err
		}
	}

	logger.Printf("starting ui: log=%s events=%d", *logPath, len(events))
	return dashboard.Serve(ctx, *addr, dashboard.NewState(events, compare, logger))
}

func runBench(args []string) error {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	logPath := fs.String("log", "", "event log path")
	index := fs.String("index", "", "index path (default <log>.idx when present)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *logPath == "" {
		return errs.New(errs.KindConfigurationInvalid, errs.WithMessage("--log is required"))
	}
	idx := *index
	if idx == "" {
		idx = maybeIndexPath(*logPath)
	}
	return bench(*logPath, idx)
}

func loadTicks(path string) (*tick.Table, error) {
	cfg, err := config.LoadTickFileOrDefault(path)
	if err != nil {
		return nil, err
	}
	return tick.FromConfig(cfg)
}

func parseSymbols(raw string) ([]string, error) {
	var symbols []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			symbols = append(symbols, trimmed)
		}
	}
	if len(symbols) == 0 {
		return nil, errs.New(errs.KindConfigurationInvalid, errs.WithMessage("empty symbols list"))
	}
	return symbols, nil
}

func parseSpeed(raw string) (float64, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(raw), "x")
	speed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, errs.New(errs.KindConfigurationInvalid,
			errs.WithMessage("invalid speed "+raw),
			errs.WithCause(err))
	}
	if speed <= 0 {
		return 0, errs.New(errs.KindConfigurationInvalid, errs.WithMessage("speed must be > 0"))
	}
	return speed, nil
}

func indexPathForLog(logPath string) string {
	return logPath + ".idx"
}

func maybeIndexPath(logPath string) string {
	path := indexPathForLog(logPath)
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

func writeLogAndIndex(ctx context.Context, events []event.Event, out string, stride uint32, metrics *telemetry.PipelineMetrics) error {
	if err := storage.WriteLogAndIndex(out, indexPathForLog(out), events, stride); err != nil {
		return err
	}
	metrics.RecordAppends(ctx, len(events))
	return nil
}

func emitLines(lines []string, out string) error {
	joined := strings.Join(lines, "\n")
	if out != "" {
		if err := os.WriteFile(out, []byte(joined+"\n"), 0o600); err != nil {
			return errs.New(errs.KindStorageIO, errs.WithPath(out), errs.WithCause(err))
		}
		return nil
	}
	fmt.Println(joined)
	return nil
}

func initTelemetry(ctx context.Context, logger *log.Logger) (*telemetry.Provider, *telemetry.PipelineMetrics) {
	provider, err := telemetry.NewProvider(ctx, telemetry.DefaultConfig())
	if err != nil {
		logger.Printf("telemetry disabled: %v", err)
		return nil, nil
	}
	metrics, err := telemetry.NewPipelineMetrics()
	if err != nil {
		logger.Printf("telemetry instruments unavailable: %v", err)
		return provider, nil
	}
	return provider, metrics
}

func shutdownTelemetry(provider *telemetry.Provider, logger *log.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := provider.Shutdown(shutdownCtx); err != nil {
		logger.Printf("telemetry shutdown: %v", err)
	}
}

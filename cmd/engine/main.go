// Engine CLI - scans media for speech, transcribes it, and serves the
// command protocol for a driving front-end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/longscribe/engine/internal/analyze"
	"github.com/longscribe/engine/internal/backend"
	"github.com/longscribe/engine/internal/backend/embedder"
	"github.com/longscribe/engine/internal/backend/llm"
	"github.com/longscribe/engine/internal/backend/vadnet"
	"github.com/longscribe/engine/internal/backend/vlm"
	"github.com/longscribe/engine/internal/backend/whisper"
	"github.com/longscribe/engine/internal/config"
	"github.com/longscribe/engine/internal/pipeline"
	"github.com/longscribe/engine/internal/search"
	"github.com/longscribe/engine/internal/server"
	"github.com/longscribe/engine/internal/vision"
)

const usage = `usage: engine <mode> [flags]

modes:
  scan                 scan one file for speech blocks
  batch_scan           scan a directory and write a voice report
  vad_scan             VAD-only scan of a directory
  transcribe           transcribe one [start,end] window of a file
  batch_transcribe     transcribe every block from a prior scan report
  batch_transcribe_dir transcribe every file under a directory in full
  transcribe_file      transcribe one file in full
  search_transcripts   keyword search over transcripts
  semantic_search      embedding search over transcripts
  analyze              summarize or outline a transcript with an LLM
  detect_meetings      classify transcripts as real meetings
  timestamp            read a burned-in timestamp from video frames
  batch_stamp          read start/end timestamps for every video in a folder
  server               serve the JSON command protocol on stdio (--ws for WebSocket)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg)
	defer a.cache.ReleaseAll(context.Background())

	if err := a.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		slog.Error("run failed", "mode", os.Args[1], "error", err)
		fmt.Fprintf(os.Stderr, "[ERROR] %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config) {
	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// app wires the backends, the lifecycle cache, and the pipeline once per
// invocation; every mode dispatches through it.
type app struct {
	cfg    *config.Config
	cache  *backend.Cache
	pipe   *pipeline.Pipeline
	embeds *embedder.Provider
	out    io.Writer
}

func newApp(cfg *config.Config) *app {
	cache := backend.NewCache()

	speech := &whisper.Provider{
		Client: whisper.NewClient(whisper.Config{URL: cfg.WhisperURL, Device: cfg.Device}),
		Cache:  cache,
	}
	vad := &vadnet.Provider{
		Client: vadnet.NewClient(vadnet.Config{URL: cfg.VADURL}),
		Cache:  cache,
	}
	embeds := &embedder.Provider{
		Client: embedder.NewClient(embedder.Config{URL: cfg.EmbedURL}),
		Cache:  cache,
	}

	pipe := pipeline.New(speech, vad, os.Stdout)
	pipe.Gap = cfg.GapThreshold

	return &app{cfg: cfg, cache: cache, pipe: pipe, embeds: embeds, out: os.Stdout}
}

func (a *app) run(ctx context.Context, mode string, args []string) error {
	switch mode {
	case "scan":
		return a.scan(ctx, args)
	case "batch_scan":
		return a.batchScan(ctx, args)
	case "vad_scan":
		return a.vadScan(ctx, args)
	case "transcribe":
		return a.transcribe(ctx, args)
	case "batch_transcribe":
		return a.batchTranscribe(ctx, args)
	case "batch_transcribe_dir":
		return a.batchTranscribeDir(ctx, args)
	case "transcribe_file":
		return a.transcribeFile(ctx, args)
	case "search_transcripts":
		return a.searchTranscripts(args)
	case "semantic_search":
		return a.semanticSearch(ctx, args)
	case "analyze":
		return a.analyze(ctx, args)
	case "detect_meetings":
		return a.detectMeetings(ctx, args)
	case "timestamp":
		return a.timestamp(ctx, args)
	case "batch_stamp":
		return a.batchStamp(ctx, args)
	case "server":
		return a.server(ctx, args)
	}
	fmt.Fprint(os.Stderr, usage)
	return fmt.Errorf("unknown mode: %q", mode)
}

// splitTarget peels a leading positional argument off args so modes accept
// both "mode target --flag" and "mode --flag target".
func splitTarget(args []string) (string, []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[0], args[1:]
	}
	return "", args
}

func (a *app) scan(ctx context.Context, args []string) error {
	file, rest := splitTarget(args)
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	noVAD := fs.Bool("no-vad", false, "disable VAD filtering")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if file == "" {
		file = fs.Arg(0)
	}
	if file == "" {
		return fmt.Errorf("scan: missing file")
	}
	return a.pipe.ScanFile(ctx, file, !*noVAD)
}

func (a *app) batchScan(ctx context.Context, args []string) error {
	dir, rest := splitTarget(args)
	fs := flag.NewFlagSet("batch_scan", flag.ExitOnError)
	noVAD := fs.Bool("no-vad", false, "disable VAD filtering")
	reportPath := fs.String("report", a.cfg.ReportPath, "report output path")
	skip := fs.Bool("skip-existing", false, "replay clean entries from a prior report")
	model := fs.String("model", a.cfg.ScanModel, "scan model")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if dir == "" {
		dir = fs.Arg(0)
	}
	if dir == "" {
		return fmt.Errorf("batch_scan: missing directory")
	}
	_, err := a.pipe.BatchScan(ctx, pipeline.ScanOptions{
		Directory:    dir,
		UseVAD:       !*noVAD,
		ReportPath:   *reportPath,
		SkipExisting: *skip,
		Model:        *model,
	})
	return err
}

func (a *app) vadScan(ctx context.Context, args []string) error {
	dir, rest := splitTarget(args)
	fs := flag.NewFlagSet("vad_scan", flag.ExitOnError)
	threshold := fs.Float64("threshold", a.cfg.VADThreshold, "speech probability threshold")
	reportPath := fs.String("report", a.cfg.ReportPath, "report output path")
	skip := fs.Bool("skip-existing", false, "replay clean entries from a prior report")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if dir == "" {
		dir = fs.Arg(0)
	}
	if dir == "" {
		return fmt.Errorf("vad_scan: missing directory")
	}
	_, err := a.pipe.VADScan(ctx, pipeline.VADScanOptions{
		Directory:    dir,
		Threshold:    *threshold,
		ReportPath:   *reportPath,
		SkipExisting: *skip,
	})
	return err
}

func (a *app) transcribe(ctx context.Context, args []string) error {
	file, rest := splitTarget(args)
	fs := flag.NewFlagSet("transcribe", flag.ExitOnError)
	start := fs.Float64("start", 0, "window start in seconds")
	end := fs.Float64("end", 0, "window end in seconds")
	model := fs.String("model", a.cfg.TranscribeModel, "transcription model")
	outputDir := fs.String("output-dir", "", "transcript output directory")
	skip := fs.Bool("skip-existing", false, "skip when the transcript already exists")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if file == "" {
		file = fs.Arg(0)
	}
	if file == "" {
		return fmt.Errorf("transcribe: missing file")
	}
	_, err := a.pipe.TranscribeWindow(ctx, pipeline.WindowOptions{
		File:         file,
		Start:        *start,
		End:          *end,
		Model:        *model,
		OutputDir:    *outputDir,
		SkipExisting: *skip,
	})
	return err
}

func (a *app) batchTranscribe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("batch_transcribe", flag.ExitOnError)
	reportPath := fs.String("report", a.cfg.ReportPath, "scan report to read")
	outputDir := fs.String("output-dir", "", "transcript output directory")
	skip := fs.Bool("skip-existing", false, "skip blocks whose transcript exists")
	model := fs.String("model", "", "transcription model")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return a.pipe.TranscribeFromReport(ctx, pipeline.ReportOptions{
		ReportPath:   *reportPath,
		OutputDir:    *outputDir,
		SkipExisting: *skip,
		Model:        *model,
	})
}

func (a *app) batchTranscribeDir(ctx context.Context, args []string) error {
	dir, rest := splitTarget(args)
	fs := flag.NewFlagSet("batch_transcribe_dir", flag.ExitOnError)
	noVAD := fs.Bool("no-vad", false, "disable VAD filtering")
	outputDir := fs.String("output-dir", "", "transcript output directory")
	skip := fs.Bool("skip-existing", false, "skip files whose transcript exists")
	model := fs.String("model", "", "transcription model")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if dir == "" {
		dir = fs.Arg(0)
	}
	if dir == "" {
		return fmt.Errorf("batch_transcribe_dir: missing directory")
	}
	return a.pipe.TranscribeDir(ctx, pipeline.DirOptions{
		Directory:    dir,
		UseVAD:       !*noVAD,
		OutputDir:    *outputDir,
		SkipExisting: *skip,
		Model:        *model,
	})
}

func (a *app) transcribeFile(ctx context.Context, args []string) error {
	file, rest := splitTarget(args)
	fs := flag.NewFlagSet("transcribe_file", flag.ExitOnError)
	model := fs.String("model", a.cfg.TranscribeModel, "transcription model")
	noVAD := fs.Bool("no-vad", false, "disable VAD filtering")
	outputDir := fs.String("output-dir", "", "transcript output directory")
	skip := fs.Bool("skip-existing", false, "skip when the transcript already exists")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if file == "" {
		file = fs.Arg(0)
	}
	if file == "" {
		return fmt.Errorf("transcribe_file: missing file")
	}
	return a.pipe.TranscribeFile(ctx, pipeline.FileOptions{
		File:         file,
		Model:        *model,
		UseVAD:       !*noVAD,
		OutputDir:    *outputDir,
		SkipExisting: *skip,
	})
}

func (a *app) searchTranscripts(args []string) error {
	query, rest := splitTarget(args)
	fs := flag.NewFlagSet("search_transcripts", flag.ExitOnError)
	dir := fs.String("dir", ".", "directory to search")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if query == "" {
		query = strings.Join(fs.Args(), " ")
	}
	if query == "" {
		return fmt.Errorf("search_transcripts: missing query")
	}
	results := search.Keyword(*dir, query, a.out)
	return printJSON(a.out, "[SEARCH_JSON]", results)
}

func (a *app) semanticSearch(ctx context.Context, args []string) error {
	query, rest := splitTarget(args)
	fs := flag.NewFlagSet("semantic_search", flag.ExitOnError)
	dir := fs.String("dir", ".", "directory to search")
	embedModel := fs.String("embed-model", a.cfg.EmbedModel, "embedding model")
	transcriptDir := fs.String("transcript-dir", "", "extra transcript directory")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if query == "" {
		query = strings.Join(fs.Args(), " ")
	}
	if query == "" {
		return fmt.Errorf("semantic_search: missing query")
	}

	em, err := a.embeds.Model(ctx, *embedModel)
	if err != nil {
		return err
	}
	matches, err := search.Semantic(ctx, em, query, a.out, *dir, *transcriptDir)
	if err != nil {
		return err
	}
	return printJSON(a.out, "[SEARCH_RESULTS]", matches)
}

func (a *app) analyze(ctx context.Context, args []string) error {
	file, rest := splitTarget(args)
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	kind := fs.String("type", string(analyze.Summarize), "summarize|outline|detect_meeting")
	provider := fs.String("provider", "", "local|gemini|openai|claude")
	model := fs.String("model", "", "local model name")
	apiKey := fs.String("api-key", "", "cloud API key")
	cloudModel := fs.String("cloud-model", "", "cloud model name")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if file == "" {
		file = fs.Arg(0)
	}
	if file == "" {
		return fmt.Errorf("analyze: missing transcript file")
	}

	an, err := a.analyzer(*provider, *model, *apiKey, *cloudModel)
	if err != nil {
		return err
	}
	res, err := an.Analyze(ctx, file, analyze.Kind(*kind))
	if err != nil {
		return err
	}
	return printJSON(a.out, "[ANALYSIS]", res)
}

func (a *app) detectMeetings(ctx context.Context, args []string) error {
	dir, rest := splitTarget(args)
	fs := flag.NewFlagSet("detect_meetings", flag.ExitOnError)
	provider := fs.String("provider", "", "local|gemini|openai|claude")
	model := fs.String("model", "", "local model name")
	apiKey := fs.String("api-key", "", "cloud API key")
	cloudModel := fs.String("cloud-model", "", "cloud model name")
	transcriptDir := fs.String("transcript-dir", "", "extra transcript directory")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if dir == "" {
		dir = fs.Arg(0)
	}
	if dir == "" {
		return fmt.Errorf("detect_meetings: missing directory")
	}

	an, err := a.analyzer(*provider, *model, *apiKey, *cloudModel)
	if err != nil {
		return err
	}
	dets, err := an.DetectMeetings(ctx, dir, *transcriptDir)
	if err != nil {
		return err
	}
	return printJSON(a.out, "[DETECTIONS]", dets)
}

func (a *app) timestamp(ctx context.Context, args []string) error {
	file, rest := splitTarget(args)
	fs := flag.NewFlagSet("timestamp", flag.ExitOnError)
	frames := fs.Int("frames", vision.DefaultFrames, "frames to sample")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if file == "" {
		file = fs.Arg(0)
	}
	if file == "" {
		return fmt.Errorf("timestamp: missing video file")
	}

	ex := vision.NewExtractor(a.vlmClient(), a.out)
	stamps, err := ex.Extract(ctx, file, *frames)
	if err != nil {
		return err
	}
	return printJSON(a.out, "[STAMPS]", stamps)
}

func (a *app) batchStamp(ctx context.Context, args []string) error {
	folder, rest := splitTarget(args)
	fs := flag.NewFlagSet("batch_stamp", flag.ExitOnError)
	recursive := fs.Bool("recursive", false, "include subfolders")
	prefix := fs.String("prefix", "", "only videos whose name starts with prefix")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if folder == "" {
		folder = fs.Arg(0)
	}
	if folder == "" {
		return fmt.Errorf("batch_stamp: missing folder")
	}

	ex := vision.NewExtractor(a.vlmClient(), a.out)
	pairs, err := ex.BatchStamps(ctx, folder, *recursive, *prefix)
	if err != nil {
		return err
	}
	return printJSON(a.out, "[STAMPS]", pairs)
}

func (a *app) server(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	ws := fs.Bool("ws", false, "serve the WebSocket transport instead of stdio")
	addr := fs.String("addr", a.cfg.ListenAddr, "WebSocket listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	srv := server.New(a.pipe, a.embeds, a.cache)
	srv.NewLLM = a.newLLM
	if *ws {
		return srv.ListenAndServe(ctx, *addr)
	}
	return srv.Run(ctx, os.Stdin, os.Stdout)
}

// analyzer builds the LLM completer for analyze modes. Local providers read
// the model flag; cloud providers read cloud-model.
func (a *app) analyzer(provider, model, apiKey, cloudModel string) (*analyze.Analyzer, error) {
	if provider != "" && provider != llm.ProviderLocal {
		model = cloudModel
	}
	comp, err := a.newLLM(llm.Options{Provider: provider, Model: model, APIKey: apiKey})
	if err != nil {
		return nil, err
	}
	return &analyze.Analyzer{LLM: comp, Out: a.out}, nil
}

func (a *app) newLLM(opts llm.Options) (backend.Completer, error) {
	if opts.OllamaURL == "" {
		opts.OllamaURL = a.cfg.OllamaURL
	}
	return llm.New(opts)
}

func (a *app) vlmClient() *vlm.Client {
	return vlm.NewClient(vlm.Config{URL: a.cfg.OllamaURL, Model: a.cfg.VLMModel})
}

func printJSON(w io.Writer, tag string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %s\n", tag, data)
	return nil
}

// Package server implements the line-oriented command protocol.
//
// The server reads one JSON command per input line, executes it, and writes
// exactly one JSON completion line back, in arrival order with at most one
// operation in flight. A driving process (desktop front-end) speaks this
// protocol over the engine's stdio or over the WebSocket transport; both
// carry the identical command set.
package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/longscribe/engine/internal/analyze"
	"github.com/longscribe/engine/internal/backend"
	"github.com/longscribe/engine/internal/backend/llm"
	apperr "github.com/longscribe/engine/internal/errors"
	"github.com/longscribe/engine/internal/pipeline"
	"github.com/longscribe/engine/internal/report"
	"github.com/longscribe/engine/internal/search"
	"github.com/longscribe/engine/internal/trace"
)

// Command is one decoded input line. Action selects the operation; the
// remaining fields are read per action and ignored otherwise.
type Command struct {
	Action string `json:"action"`

	// scan, vad_scan, detect_meetings
	Directory    string  `json:"directory,omitempty"`
	UseVAD       *bool   `json:"use_vad,omitempty"` // nil means on
	ReportPath   string  `json:"report_path,omitempty"`
	VADThreshold float64 `json:"vad_threshold,omitempty"`
	SkipExisting bool    `json:"skip_existing,omitempty"`

	// transcribe
	File      string  `json:"file,omitempty"`
	Start     float64 `json:"start,omitempty"`
	End       float64 `json:"end,omitempty"`
	Model     string  `json:"model,omitempty"`
	OutputDir string  `json:"output_dir,omitempty"`

	// semantic_search
	Query         string `json:"query,omitempty"`
	EmbedModel    string `json:"embed_model,omitempty"`
	TranscriptDir string `json:"transcript_dir,omitempty"`

	// analyze, detect_meetings
	AnalyzeType string `json:"analyze_type,omitempty"`
	Provider    string `json:"provider,omitempty"`
	APIKey      string `json:"api_key,omitempty"`
	CloudModel  string `json:"cloud_model,omitempty"`
}

// useVAD reports the scan VAD toggle, defaulting to on when absent.
func (c Command) useVAD() bool {
	return c.UseVAD == nil || *c.UseVAD
}

// Response is the single terminal line written for a command. Result fields
// mirror the operation's structured output so the driving process never
// parses progress text.
type Response struct {
	Status string `json:"status"`
	Action string `json:"action,omitempty"`
	Error  string `json:"error,omitempty"`

	ReportPath     string                 `json:"report_path,omitempty"`
	TotalFiles     int                    `json:"total_files,omitempty"`
	FilesWithVoice int                    `json:"files_with_voice,omitempty"`
	Lines          []string               `json:"lines,omitempty"`
	Results        []search.SemanticMatch `json:"results,omitempty"`
	Analysis       *analyze.Result        `json:"analysis,omitempty"`
	Detections     []analyze.Detection    `json:"detections,omitempty"`
}

// EmbedProvider loads embedding models by name.
type EmbedProvider interface {
	Model(ctx context.Context, model string) (backend.Embedder, error)
}

// LLMFactory builds a completer for an analyze or detect command.
type LLMFactory func(llm.Options) (backend.Completer, error)

// Server dispatches decoded commands to the batch pipeline and backends.
type Server struct {
	Pipeline *pipeline.Pipeline
	Embeds   EmbedProvider
	NewLLM   LLMFactory
	Cache    *backend.Cache
	Out      io.Writer // progress lines, interleaved with responses on stdio
	Log      *slog.Logger
}

// New wires a server around a pipeline. Progress lines share the pipeline's
// output writer.
func New(p *pipeline.Pipeline, embeds EmbedProvider, cache *backend.Cache) *Server {
	return &Server{
		Pipeline: p,
		Embeds:   embeds,
		NewLLM:   llm.New,
		Cache:    cache,
		Out:      p.Out,
		Log:      slog.Default(),
	}
}

// Run reads commands from r until an exit command, end of input, or context
// cancellation, then releases every cached backend. Each response line is
// written before the next command line is read.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	s.Log.Info("command server ready")

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxCommandBytes)
	enc := json.NewEncoder(w)

	for sc.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		resp, exit := s.HandleLine(ctx, line)
		if resp != nil {
			if err := enc.Encode(resp); err != nil {
				return err
			}
		}
		if exit {
			break
		}
	}

	if s.Cache != nil {
		s.Cache.ReleaseAll(ctx)
	}
	s.Log.Info("command server stopped")
	return sc.Err()
}

// HandleLine decodes one input line and executes it. A malformed line yields
// an error response and the stream keeps going.
func (s *Server) HandleLine(ctx context.Context, line []byte) (*Response, bool) {
	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		fmt.Fprintln(s.Out, "[ERROR] Invalid JSON command")
		s.Log.Warn("invalid command line", "error", err)
		wrapped := apperr.Wrap(err, apperr.CodeProtocolInvalid, "invalid JSON command")
		return &Response{Status: StatusError, Error: wrapped.Error()}, false
	}
	return s.Handle(ctx, cmd)
}

// Handle executes one command and returns its terminal response. The second
// return value reports that the command stream should end; exit is the only
// action with no response.
func (s *Server) Handle(ctx context.Context, cmd Command) (*Response, bool) {
	switch cmd.Action {
	case ActionExit:
		return nil, true
	case ActionPing:
		return &Response{Status: StatusPong}, false
	}

	ctx, span := trace.StartSpan(ctx, "command."+cmd.Action)
	defer span.End()

	resp, err := s.dispatch(ctx, cmd)
	if err != nil {
		fmt.Fprintf(s.Out, "[ERROR] %s failed: %v\n", cmd.Action, err)
		trace.Logger(ctx).Error("command failed",
			"action", cmd.Action, "code", apperr.CodeOf(err), "error", err)
		return &Response{Status: StatusError, Action: cmd.Action, Error: err.Error()}, false
	}

	resp.Status = StatusComplete
	resp.Action = cmd.Action
	return resp, false
}

func (s *Server) dispatch(ctx context.Context, cmd Command) (*Response, error) {
	switch cmd.Action {
	case ActionScan:
		rep, err := s.Pipeline.BatchScan(ctx, pipeline.ScanOptions{
			Directory:  cmd.Directory,
			UseVAD:     cmd.useVAD(),
			ReportPath: cmd.ReportPath,
		})
		if err != nil {
			return nil, err
		}
		return scanResponse(rep, cmd.ReportPath), nil

	case ActionVADScan:
		rep, err := s.Pipeline.VADScan(ctx, pipeline.VADScanOptions{
			Directory:    cmd.Directory,
			Threshold:    cmd.VADThreshold,
			ReportPath:   cmd.ReportPath,
			SkipExisting: cmd.SkipExisting,
		})
		if err != nil {
			return nil, err
		}
		return scanResponse(rep, cmd.ReportPath), nil

	case ActionTranscribe:
		lines, err := s.Pipeline.TranscribeWindow(ctx, pipeline.WindowOptions{
			File:         cmd.File,
			Start:        cmd.Start,
			End:          cmd.End,
			Model:        cmd.Model,
			OutputDir:    cmd.OutputDir,
			SkipExisting: cmd.SkipExisting,
		})
		if err != nil {
			return nil, err
		}
		return &Response{Lines: lines}, nil

	case ActionSemanticSearch:
		if s.Embeds == nil {
			return nil, apperr.New(apperr.CodeBackendUnavailable, "embedding backend not configured")
		}
		em, err := s.Embeds.Model(ctx, cmd.EmbedModel)
		if err != nil {
			return nil, err
		}
		matches, err := search.Semantic(ctx, em, cmd.Query, s.Out, cmd.Directory, cmd.TranscriptDir)
		if err != nil {
			return nil, err
		}
		return &Response{Results: matches}, nil

	case ActionAnalyze:
		a, err := s.analyzer(cmd)
		if err != nil {
			return nil, err
		}
		kind := analyze.Kind(cmd.AnalyzeType)
		if kind == "" {
			kind = analyze.Summarize
		}
		res, err := a.Analyze(ctx, cmd.File, kind)
		if err != nil {
			return nil, err
		}
		return &Response{Analysis: res}, nil

	case ActionDetectMeetings:
		a, err := s.analyzer(cmd)
		if err != nil {
			return nil, err
		}
		dets, err := a.DetectMeetings(ctx, cmd.Directory, cmd.TranscriptDir)
		if err != nil {
			return nil, err
		}
		return &Response{Detections: dets}, nil
	}

	return nil, apperr.Newf(apperr.CodeProtocolInvalid, "unknown action: %q", cmd.Action)
}

// analyzer builds the LLM-backed analyzer for analyze and detect commands.
// Local providers read the model field; cloud providers read cloud_model.
func (s *Server) analyzer(cmd Command) (*analyze.Analyzer, error) {
	model := cmd.Model
	if cmd.Provider != "" && cmd.Provider != llm.ProviderLocal {
		model = cmd.CloudModel
	}
	comp, err := s.NewLLM(llm.Options{
		Provider: cmd.Provider,
		Model:    model,
		APIKey:   cmd.APIKey,
	})
	if err != nil {
		return nil, err
	}
	return &analyze.Analyzer{LLM: comp, Out: s.Out}, nil
}

func scanResponse(rep *report.Report, reportPath string) *Response {
	if reportPath == "" {
		reportPath = report.DefaultFileName
	}
	return &Response{
		ReportPath:     reportPath,
		TotalFiles:     rep.TotalFiles,
		FilesWithVoice: rep.FilesWithVoice,
	}
}

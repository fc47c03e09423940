// Package server implements the line-oriented command protocol.
package server

// Response statuses.
const (
	StatusPong     = "pong"
	StatusComplete = "complete"
	StatusError    = "error"
)

// Actions accepted on the command stream.
const (
	ActionPing           = "ping"
	ActionScan           = "scan"
	ActionVADScan        = "vad_scan"
	ActionTranscribe     = "transcribe"
	ActionSemanticSearch = "semantic_search"
	ActionAnalyze        = "analyze"
	ActionDetectMeetings = "detect_meetings"
	ActionExit           = "exit"
)

// maxCommandBytes bounds a single input line. Commands are small; the cap
// only guards against a runaway writer on the other end of the pipe.
const maxCommandBytes = 1 << 20

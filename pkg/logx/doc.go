// Package logx configures robocmd's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional alert sink for WARN+ lines (min-level + rate limiting)
//
// The scheduler tick is latency sensitive, so nothing in this package blocks
// the caller on a slow sink.
package logx

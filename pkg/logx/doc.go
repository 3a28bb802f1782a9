// Package logx configures castbot's structured logging.
//
// A small wrapper (logx.Logger) sits on top of zerolog so that:
//   - console output stays readable (short timestamp + short caller)
//   - file output stays JSON-structured
//   - warnings can be mirrored to a Telegram log chat (min-level + rate limit)
package logx

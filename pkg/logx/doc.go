// Package logx is the structured logger used across wasched.
//
// It wraps zerolog so call sites stay small:
//   - console output is human readable (short timestamp + file:line caller)
//   - the file sink writes JSON and rotates through lumberjack
//   - an optional chat sink forwards warnings to a Telegram group, rate limited
package logx

// Package logx configures leadbot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional operator chat sink (min-level + rate limiting) so warnings
//     about the outreach loop reach a human without tailing files
package logx

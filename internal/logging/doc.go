// Package logging provides file-based structured logging with rotation.
// Logs are JSON lines written to ~/.local-rag/logs/server.log and
// mirrored to stderr.
package logging

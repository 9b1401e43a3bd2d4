// Package logx provides a small structured logging facade over zerolog.
//
// It exists so the rest of the codebase depends on a stable, minimal API
// (Logger + Field helpers) while sink wiring (console, file) and live level
// changes stay in one place (Service.Apply).
package logx

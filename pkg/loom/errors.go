package loom

import (
	"errors"
	"strings"

	"github.com/tapestry-ai/loom/pkg/audit"
	"github.com/tapestry-ai/loom/pkg/layout"
	"github.com/tapestry-ai/loom/pkg/orchestrator"
	"github.com/tapestry-ai/loom/pkg/queue"
)

// Error kind constants for classification
const (
	ErrKindInvalidTransition = "invalid_transition"
	ErrKindNotFound          = "not_found"
	ErrKindChainIntegrity    = "chain_integrity"
	ErrKindStorage           = "storage"
	ErrKindDegraded          = "degraded"
	ErrKindUnknown           = "unknown"
)

// ClassifyError inspects an error and returns its kind classification.
// Invalid-transition and not-found are recoverable caller mistakes;
// chain-integrity is a critical finding that must never be downgraded;
// storage is fatal to the operation that hit it; degraded means the
// external queue was unreachable but the operation still succeeded.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, orchestrator.ErrInvalidTransition) || errors.Is(err, orchestrator.ErrParentRequired) ||
		errors.Is(err, orchestrator.ErrSelfReference) {
		return ErrKindInvalidTransition
	}
	if errors.Is(err, orchestrator.ErrContextNotFound) || errors.Is(err, orchestrator.ErrRefNotFound) ||
		errors.Is(err, audit.ErrNotFound) || errors.Is(err, layout.ErrNotFound) {
		return ErrKindNotFound
	}
	if errors.Is(err, queue.ErrUnavailable) {
		return ErrKindDegraded
	}

	errStrLower := strings.ToLower(err.Error())

	if strings.Contains(errStrLower, "hash mismatch") ||
		strings.Contains(errStrLower, "chain") && strings.Contains(errStrLower, "integrity") {
		return ErrKindChainIntegrity
	}

	if errors.Is(err, audit.ErrDuplicateSequence) ||
		strings.Contains(errStrLower, "sql") ||
		strings.Contains(errStrLower, "database") ||
		strings.Contains(errStrLower, "constraint") ||
		strings.Contains(errStrLower, "i/o") ||
		strings.Contains(errStrLower, "disk") {
		return ErrKindStorage
	}

	return ErrKindUnknown
}

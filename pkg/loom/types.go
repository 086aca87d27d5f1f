package loom

import (
	"github.com/tapestry-ai/loom/pkg/layout"
	"github.com/tapestry-ai/loom/pkg/orchestrator"
	"github.com/tapestry-ai/loom/pkg/queue"
	"github.com/tapestry-ai/loom/pkg/validation"
)

// Type re-exports for caller convenience

// Context is re-exported from orchestrator package
type Context = orchestrator.Context

// Status is re-exported from orchestrator package
type Status = orchestrator.Status

// Status constants re-exported from orchestrator package
const (
	StatusActive        = orchestrator.StatusActive
	StatusTesting       = orchestrator.StatusTesting
	StatusPaused        = orchestrator.StatusPaused
	StatusWaiting       = orchestrator.StatusWaiting
	StatusReviewing     = orchestrator.StatusReviewing
	StatusSpawningChild = orchestrator.StatusSpawningChild
	StatusConsolidating = orchestrator.StatusConsolidating
	StatusMerged        = orchestrator.StatusMerged
	StatusArchived      = orchestrator.StatusArchived
	StatusFailed        = orchestrator.StatusFailed
)

// Priority is re-exported from orchestrator package
type Priority = orchestrator.Priority

// Priority constants re-exported from orchestrator package
const (
	PriorityCritical   = orchestrator.PriorityCritical
	PriorityHigh       = orchestrator.PriorityHigh
	PriorityNormal     = orchestrator.PriorityNormal
	PriorityLow        = orchestrator.PriorityLow
	PriorityBackground = orchestrator.PriorityBackground
)

// RefType is re-exported from orchestrator package
type RefType = orchestrator.RefType

// CrossRefResult is re-exported from orchestrator package
type CrossRefResult = orchestrator.CrossRefResult

// GrabResult is re-exported from orchestrator package
type GrabResult = orchestrator.GrabResult

// Prompt is re-exported from validation package
type Prompt = validation.Prompt

// Prompts is re-exported from validation package
type Prompts = validation.Prompts

// ScratchpadEntry is re-exported from queue package
type ScratchpadEntry = queue.ScratchpadEntry

// RouteResult is re-exported from queue package
type RouteResult = queue.RouteResult

// Point is re-exported from layout package
type Point = layout.Point

// YarnBoard is re-exported from layout package
type YarnBoard = layout.YarnBoard

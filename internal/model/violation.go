package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationType names a detected proctoring policy breach.
type ViolationType string

const (
	ViolationFullscreenExit ViolationType = "fullscreen_exit"
	ViolationTabSwitch      ViolationType = "tab_switch"
	ViolationWindowBlur     ViolationType = "window_blur"
	ViolationBackNavigation ViolationType = "back_navigation"
	ViolationPageReload     ViolationType = "page_reload"
	ViolationPageClose      ViolationType = "page_close"
	ViolationContextMenu    ViolationType = "context_menu"
	ViolationCopy           ViolationType = "copy"
	ViolationCut            ViolationType = "cut"
	ViolationPaste          ViolationType = "paste"
	ViolationRestrictedKey  ViolationType = "restricted_key"
)

// ViolationTypes is the full catalogue.
var ViolationTypes = []ViolationType{
	ViolationFullscreenExit,
	ViolationTabSwitch,
	ViolationWindowBlur,
	ViolationBackNavigation,
	ViolationPageReload,
	ViolationPageClose,
	ViolationContextMenu,
	ViolationCopy,
	ViolationCut,
	ViolationPaste,
	ViolationRestrictedKey,
}

// Known reports whether t belongs to the catalogue.
func (t ViolationType) Known() bool {
	for _, v := range ViolationTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ViolationReport is what the runtime sends for every detected event.
type ViolationReport struct {
	Type        ViolationType `json:"type" binding:"required,max=32"`
	Detail      string        `json:"detail" binding:"omitempty,max=500"`
	ClientCount int           `json:"client_count" binding:"min=0"`
}

// Verdict is the policy collaborator's answer to a report.
type Verdict struct {
	Warning         string `json:"warning,omitempty"`
	ViolationCount  int    `json:"violation_count"`
	ShouldTerminate bool   `json:"should_terminate"`
}

// ViolationEvent is the persisted form of a report.
type ViolationEvent struct {
	AttemptID  uuid.UUID     `json:"attempt_id"`
	StudentID  int           `json:"student_id"`
	Type       ViolationType `json:"type"`
	Detail     string        `json:"detail"`
	Count      int           `json:"count"`
	RecordedAt time.Time     `json:"recorded_at"`
}

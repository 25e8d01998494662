package integrity

import (
	"sync"

	"github.com/stemsi/exstem-runtime/internal/model"
)

// Kind is a host-level event the monitor subscribes to.
type Kind string

const (
	KindFocusLoss      Kind = "focus_loss"
	KindHidden         Kind = "visibility_hidden"
	KindFullscreenExit Kind = "fullscreen_exit"
	KindNavigateBack   Kind = "navigate_back"
	KindNavigateFwd    Kind = "navigate_forward"
	KindReload         Kind = "reload"
	KindClose          Kind = "close"
	KindContextMenu    Kind = "context_menu"
	KindCopy           Kind = "copy"
	KindCut            Kind = "cut"
	KindPaste          Kind = "paste"
	KindKey            Kind = "key"
)

// Signal is one raw host event. Key holds the combo for KindKey, e.g. "Ctrl+Shift+I".
type Signal struct {
	Kind   Kind
	Key    string
	Detail string
}

var kindViolations = map[Kind]model.ViolationType{
	KindFocusLoss:      model.ViolationWindowBlur,
	KindHidden:         model.ViolationTabSwitch,
	KindFullscreenExit: model.ViolationFullscreenExit,
	KindNavigateBack:   model.ViolationBackNavigation,
	KindNavigateFwd:    model.ViolationBackNavigation,
	KindReload:         model.ViolationPageReload,
	KindClose:          model.ViolationPageClose,
	KindContextMenu:    model.ViolationContextMenu,
	KindCopy:           model.ViolationCopy,
	KindCut:            model.ViolationCut,
	KindPaste:          model.ViolationPaste,
}

var kindDetails = map[Kind]string{
	KindFocusLoss:      "Window lost focus",
	KindHidden:         "Switched away from the exam tab",
	KindFullscreenExit: "Exited fullscreen mode",
	KindNavigateBack:   "Attempted back navigation",
	KindNavigateFwd:    "Attempted forward navigation",
	KindReload:         "Attempted to reload the page",
	KindClose:          "Attempted to close the exam",
	KindContextMenu:    "Opened the context menu",
	KindCopy:           "Attempted to copy content",
	KindCut:            "Attempted to cut content",
	KindPaste:          "Attempted to paste content",
}

// Classify maps a signal to its violation type. Keys outside the blocklist are not violations.
func Classify(sig Signal, keys *Blocklist) (model.ViolationType, string, bool) {
	if sig.Kind == KindKey {
		combo, ok := keys.Match(sig.Key)
		if !ok {
			return "", "", false
		}
		return model.ViolationRestrictedKey, "Pressed restricted shortcut " + combo, true
	}

	vt, ok := kindViolations[sig.Kind]
	if !ok {
		return "", "", false
	}
	detail := sig.Detail
	if detail == "" {
		detail = kindDetails[sig.Kind]
	}
	return vt, detail, true
}

// Bus is the capability set a host feeds. Each call blocks until the monitor
// accepts the signal or the bus is closed.
type Bus struct {
	ch        chan Signal
	done      chan struct{}
	closeOnce sync.Once
}

// NewBus creates a bus with the given buffer.
func NewBus(buffer int) *Bus {
	return &Bus{
		ch:   make(chan Signal, buffer),
		done: make(chan struct{}),
	}
}

// Signals is the receive side consumed by Monitor.Run.
func (b *Bus) Signals() <-chan Signal { return b.ch }

// Close stops accepting signals. Pending sends return.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

// Publish delivers a raw signal.
func (b *Bus) Publish(sig Signal) {
	select {
	case <-b.done:
	case b.ch <- sig:
	}
}

func (b *Bus) OnFocusLoss() { b.Publish(Signal{Kind: KindFocusLoss}) }

// OnVisibilityChange reports only transitions to hidden.
func (b *Bus) OnVisibilityChange(hidden bool) {
	if hidden {
		b.Publish(Signal{Kind: KindHidden})
	}
}

func (b *Bus) OnFullscreenExit() { b.Publish(Signal{Kind: KindFullscreenExit}) }

func (b *Bus) OnRestrictedKey(combo string) { b.Publish(Signal{Kind: KindKey, Key: combo}) }

// OnClipboardUse takes one of KindCopy, KindCut or KindPaste.
func (b *Bus) OnClipboardUse(kind Kind) { b.Publish(Signal{Kind: kind}) }

// OnNavigation takes one of KindNavigateBack, KindNavigateFwd, KindReload or KindClose.
func (b *Bus) OnNavigation(kind Kind) { b.Publish(Signal{Kind: kind}) }

func (b *Bus) OnContextMenu() { b.Publish(Signal{Kind: KindContextMenu}) }

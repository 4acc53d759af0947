package loom

import "sync/atomic"

// RecordingPolicy controls what payload content traced events may carry.
// It is consulted at event-construction time, so flipping a flag affects
// already-wrapped clients immediately. All methods are safe for concurrent
// use.
type RecordingPolicy struct {
	content atomic.Bool
	binary  atomic.Bool
}

// RecordContent reports whether message content may be recorded in event
// bodies. When false, events are still emitted but their bodies are the
// empty JSON object.
func (p *RecordingPolicy) RecordContent() bool {
	if p == nil {
		return false
	}
	return p.content.Load()
}

// SetRecordContent enables or disables content recording.
func (p *RecordingPolicy) SetRecordContent(v bool) {
	p.content.Store(v)
}

// RecordBinary reports whether inline binary payloads (image data URIs,
// file data) may be recorded. Only meaningful when content recording is
// also enabled.
func (p *RecordingPolicy) RecordBinary() bool {
	if p == nil {
		return false
	}
	return p.binary.Load()
}

// SetRecordBinary enables or disables binary payload recording.
func (p *RecordingPolicy) SetRecordBinary(v bool) {
	p.binary.Store(v)
}

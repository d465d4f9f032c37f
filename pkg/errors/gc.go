package errors

// GCError is a specialized error type for garbage collection failures —
// target selection and the rewrite protocol. It embeds baseError to inherit
// the standard error functionality, then adds the context needed to tell
// which pass and which segments were involved.
type GCError struct {
	*baseError
	strategy   string   // Which target-selection strategy was running.
	segmentIDs []uint64 // Segments the rewrite was operating on.
}

// NewGCError creates a new GC-specific error.
func NewGCError(err error, code ErrorCode, msg string) *GCError {
	return &GCError{baseError: NewBaseError(err, code, msg)}
}

// WithStrategy records which target-selection strategy was active.
func (ge *GCError) WithStrategy(strategy string) *GCError {
	ge.strategy = strategy
	return ge
}

// WithSegmentIDs records which segments the failed rewrite touched.
func (ge *GCError) WithSegmentIDs(ids []uint64) *GCError {
	ge.segmentIDs = ids
	return ge
}

// Strategy returns the target-selection strategy that was active.
func (ge *GCError) Strategy() string {
	return ge.strategy
}

// SegmentIDs returns the segments the failed rewrite touched.
func (ge *GCError) SegmentIDs() []uint64 {
	return ge.segmentIDs
}

package errors

// ManifestError is a specialized error type for manifest operations — the
// atomic register/unregister/recover protocol that tracks which segments are
// live. It embeds baseError to inherit the standard error functionality,
// then adds the context needed to diagnose a broken recovery pass.
type ManifestError struct {
	*baseError
	path      string // Path of the manifest file.
	segmentID uint64 // Segment the failed entry referred to, if any.
}

// NewManifestError creates a new manifest-specific error.
func NewManifestError(err error, code ErrorCode, msg string) *ManifestError {
	return &ManifestError{baseError: NewBaseError(err, code, msg)}
}

// WithPath records the manifest file path involved in the error.
func (me *ManifestError) WithPath(path string) *ManifestError {
	me.path = path
	return me
}

// WithSegmentID records the segment a bad manifest entry referred to.
func (me *ManifestError) WithSegmentID(id uint64) *ManifestError {
	me.segmentID = id
	return me
}

// Path returns the manifest file path involved in the error.
func (me *ManifestError) Path() string {
	return me.path
}

// SegmentID returns the segment a bad manifest entry referred to.
func (me *ManifestError) SegmentID() uint64 {
	return me.segmentID
}

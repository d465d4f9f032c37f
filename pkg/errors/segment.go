package errors

// SegmentError is a specialized error type for segment file operations —
// appends, reads, footer validation, and recovery. It embeds baseError to
// inherit the standard error functionality, then adds the location context
// needed to pinpoint exactly which segment and byte range were involved.
type SegmentError struct {
	*baseError
	segmentID uint64 // Which segment was being accessed when the error occurred.
	offset    int64  // Byte offset within the segment where the problem happened.
	fileName  string // Name of the file that caused the issue.
	path      string // Path of the file that caused the issue.
}

// NewSegmentError creates a new segment-specific error.
func NewSegmentError(err error, code ErrorCode, msg string) *SegmentError {
	return &SegmentError{baseError: NewBaseError(err, code, msg)}
}

// WithSegmentID sets which segment was involved in the error.
func (se *SegmentError) WithSegmentID(id uint64) *SegmentError {
	se.segmentID = id
	return se
}

// WithOffset records the byte position where the error occurred.
func (se *SegmentError) WithOffset(offset int64) *SegmentError {
	se.offset = offset
	return se
}

// WithFileName captures which file was being processed when the error occurred.
func (se *SegmentError) WithFileName(fileName string) *SegmentError {
	se.fileName = fileName
	return se
}

// WithPath captures which path was being processed when the error occurred.
func (se *SegmentError) WithPath(path string) *SegmentError {
	se.path = path
	return se
}

// SegmentID returns the segment identifier where the error occurred.
func (se *SegmentError) SegmentID() uint64 {
	return se.segmentID
}

// Offset returns the byte offset within the segment where the error happened.
// Combined with SegmentID, this gives the exact location of the problem.
func (se *SegmentError) Offset() int64 {
	return se.offset
}

// FileName returns the name of the file that was being processed.
func (se *SegmentError) FileName() string {
	return se.fileName
}

// Path returns the path of the file that was being processed.
func (se *SegmentError) Path() string {
	return se.path
}

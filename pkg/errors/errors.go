// This package addresses the fundamental challenge that generic error handling presents in complex
// systems: when an error occurs, callers need much more than "something went wrong." They need to
// understand exactly what failed, where it failed, and what they can do about it.
//
// Architecture and Design Philosophy:
//
// The error system is built around a hierarchical structure that starts with a foundational baseError
// and extends into domain-specific error types. This design maintains consistency across all error
// types while allowing specialized context for different domains, enables rich error chaining that
// preserves the complete failure context, and supports programmatic error handling through
// standardized error codes.
//
// The value log fails in a handful of distinct shapes: a segment read can hit a corrupt blob or a
// truncated footer, a manifest swap can fail mid-rename, a GC pass can be rejected because another is
// already running, and a caller can simply pass invalid input. Each of these carries different
// context useful for diagnosis — SegmentError needs a segment id and byte offset, ManifestError needs
// the manifest path, GCError needs the strategy and segment ids involved. By capturing this
// domain-specific context at the point of failure, the system enables more intelligent handling
// throughout the stack.
//
// Error Classification and Codes:
//
// Central to this system is a comprehensive error code taxonomy that provides standardized
// categorization of failures. These codes enable programmatic error handling that doesn't rely on
// parsing error messages, provide consistent categorization for monitoring, and support recovery
// logic by identifying specific failure modes.
package errors

import (
	stdErrors "errors"
	"os"
	"syscall"
)

// IsValidationError checks if the given error is a ValidationError or contains one in its error chain.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return stdErrors.As(err, &ve)
}

// IsSegmentError determines if an error is related to segment operations, such as file I/O, disk
// space issues, or blob/footer corruption. Segment errors often require different handling
// strategies than other error types because they may indicate hardware issues, capacity problems,
// or data integrity concerns that need immediate attention.
func IsSegmentError(err error) bool {
	var se *SegmentError
	return stdErrors.As(err, &se)
}

// IsManifestError identifies errors from the manifest's atomic register/unregister/recover
// protocol — a failed durable swap, an orphan segment, or a missing segment file.
func IsManifestError(err error) bool {
	var me *ManifestError
	return stdErrors.As(err, &me)
}

// IsGCError identifies errors raised by garbage collection, whether during target selection or
// the rewrite protocol.
func IsGCError(err error) bool {
	var ge *GCError
	return stdErrors.As(err, &ge)
}

// AsValidationError safely extracts a ValidationError from an error chain, providing access
// to validation-specific context such as which field failed, what rule was violated, and
// what values were provided versus expected.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if stdErrors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// AsSegmentError extracts SegmentError context from an error chain, providing access to
// segment-specific information such as segment id, byte offset, file name, and path.
func AsSegmentError(err error) (*SegmentError, bool) {
	var se *SegmentError
	if stdErrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// AsManifestError extracts ManifestError context from an error chain.
func AsManifestError(err error) (*ManifestError, bool) {
	var me *ManifestError
	if stdErrors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// AsGCError extracts GCError context from an error chain.
func AsGCError(err error) (*GCError, bool) {
	var ge *GCError
	if stdErrors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from any error that supports it, or returns
// ErrorCodeInternal for errors that don't have specific codes. This provides a consistent way
// to categorize errors for monitoring and handling purposes.
func GetErrorCode(err error) ErrorCode {
	if ve, ok := AsValidationError(err); ok {
		return ve.Code()
	}
	if se, ok := AsSegmentError(err); ok {
		return se.Code()
	}
	if me, ok := AsManifestError(err); ok {
		return me.Code()
	}
	if ge, ok := AsGCError(err); ok {
		return ge.Code()
	}
	return ErrorCodeInternal
}

// GetErrorDetails extracts structured details from any error that supports them,
// returning an empty map for errors without details.
func GetErrorDetails(err error) map[string]any {
	if ve, ok := AsValidationError(err); ok {
		if details := ve.Details(); details != nil {
			return details
		}
	}
	if se, ok := AsSegmentError(err); ok {
		if details := se.Details(); details != nil {
			return details
		}
	}
	if me, ok := AsManifestError(err); ok {
		if details := me.Details(); details != nil {
			return details
		}
	}
	if ge, ok := AsGCError(err); ok {
		if details := ge.Details(); details != nil {
			return details
		}
	}
	return make(map[string]any)
}

// ClassifyDirectoryCreationError analyzes directory creation failures and returns appropriate
// error codes based on the underlying system error.
func ClassifyDirectoryCreationError(err error, path string) error {
	if os.IsPermission(err) {
		return NewSegmentError(
			err, ErrorCodePermissionDenied,
			"insufficient permissions to create segment directory",
		).WithPath(path).
			WithDetail("operation", "directory_creation").
			WithDetail("required_permission", "write").
			WithDetail("suggestion", "check directory permissions or run with elevated privileges")
	}

	if pathErr, ok := err.(*os.PathError); ok {
		if errno, ok := pathErr.Err.(syscall.Errno); ok {
			switch errno {
			case syscall.ENOSPC:
				return NewSegmentError(
					err, ErrorCodeDiskFull,
					"insufficient disk space to create segment directory",
				).WithPath(path).
					WithDetail("operation", "directory_creation").
					WithDetail("suggestion", "free up disk space or choose a different location")
			case syscall.EROFS:
				return NewSegmentError(
					err, ErrorCodeFilesystemReadonly,
					"cannot create directory on read-only filesystem",
				).WithPath(path).
					WithDetail("operation", "directory_creation").
					WithDetail("suggestion", "remount filesystem with write permissions")
			}
		}
	}

	return NewSegmentError(
		err, ErrorCodeIO, "failed to create segment directory",
	).WithPath(path).WithDetail("operation", "directory_creation")
}

// ClassifyFileOpenError analyzes file opening failures and returns appropriate error codes
// based on the underlying system error.
func ClassifyFileOpenError(err error, filePath, fileName string) error {
	if os.IsPermission(err) {
		return NewSegmentError(
			err, ErrorCodePermissionDenied,
			"insufficient permissions to open segment file",
		).WithPath(filePath).
			WithFileName(fileName).
			WithDetail("operation", "file_open").
			WithDetail("required_permission", "read_write").
			WithDetail("suggestion", "check file permissions or run with elevated privileges")
	}

	if pathErr, ok := err.(*os.PathError); ok {
		if errno, ok := pathErr.Err.(syscall.Errno); ok {
			switch errno {
			case syscall.ENOSPC:
				return NewSegmentError(
					err, ErrorCodeDiskFull,
					"insufficient disk space to create segment file",
				).WithPath(filePath).
					WithFileName(fileName).
					WithDetail("operation", "file_open").
					WithDetail("suggestion", "free up disk space")
			case syscall.EROFS:
				return NewSegmentError(
					err, ErrorCodeFilesystemReadonly,
					"cannot create file on read-only filesystem",
				).WithPath(filePath).
					WithFileName(fileName).
					WithDetail("operation", "file_open").
					WithDetail("suggestion", "remount filesystem with write permissions")
			}
		}
	}

	return NewSegmentError(err, ErrorCodeIO, "failed to open segment file").
		WithPath(filePath).
		WithFileName(fileName).
		WithDetail("operation", "file_open").
		WithDetail("flags", []string{"O_CREATE", "O_RDWR", "O_APPEND"})
}

// ClassifySyncError analyzes sync operation failures and returns appropriate error codes.
// Sync failures can indicate anything from disk space problems to filesystem corruption.
func ClassifySyncError(err error, fileName, filePath string, offset int64) error {
	if pathErr, ok := err.(*os.PathError); ok {
		if errno, ok := pathErr.Err.(syscall.Errno); ok {
			switch errno {
			case syscall.ENOSPC:
				return NewSegmentError(
					err, ErrorCodeDiskFull,
					"cannot sync file: insufficient disk space",
				).WithFileName(fileName).
					WithPath(filePath).
					WithOffset(offset).
					WithDetail("operation", "file_sync").
					WithDetail("suggestion", "free up disk space before continuing")
			case syscall.EROFS:
				return NewSegmentError(
					err, ErrorCodeFilesystemReadonly,
					"cannot sync file: filesystem is read-only",
				).WithFileName(fileName).
					WithPath(filePath).
					WithOffset(offset).
					WithDetail("operation", "file_sync").
					WithDetail("suggestion", "remount filesystem with write permissions")
			case syscall.EIO:
				return NewSegmentError(
					err, ErrorCodeIO,
					"I/O error during file sync, possible hardware or corruption issue",
				).WithFileName(fileName).
					WithPath(filePath).
					WithOffset(offset).
					WithDetail("operation", "file_sync").
					WithDetail("severity", "high").
					WithDetail("suggestion", "check filesystem integrity and hardware health")
			}
		}
	}

	return NewSegmentError(
		err, ErrorCodeIO, "failed to sync segment file to disk",
	).WithFileName(fileName).WithPath(filePath).WithOffset(offset).
		WithDetail("operation", "file_sync").
		WithDetail("currentSize", offset)
}

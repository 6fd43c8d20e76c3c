package analysis

import "errors"

var (
	// ErrInvalidMedia marks unreadable or empty input. It aborts the request
	// before any frame is analyzed.
	ErrInvalidMedia = errors.New("invalid media")

	// ErrNoFace is per-frame on the video path; a frame without a face is
	// recorded unclassified.
	ErrNoFace = errors.New("no face detected")

	// ErrClassifier wraps classifier failures. On the video path the frame
	// degrades to "no face".
	ErrClassifier = errors.New("classifier failure")

	// ErrCancelled is returned instead of a partial verdict.
	ErrCancelled = errors.New("analysis cancelled")
)

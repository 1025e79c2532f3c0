package types

import "errors"

// Pipeline error taxonomy. Stages wrap one of these so callers can match
// with errors.Is.
var (
	ErrDecode            = errors.New("decode error")
	ErrSegmentation      = errors.New("segmentation error")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrCrop              = errors.New("crop error")
	ErrEncode            = errors.New("encode error")
)

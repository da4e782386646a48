package model

import "errors"

var (
	ErrInvalidTopology  = errors.New("invalid topology")
	ErrMissingTensor    = errors.New("weights file is missing a tensor")
	ErrShapeMismatch    = errors.New("weights tensor shape does not match topology")
	ErrUnsupportedDType = errors.New("unsupported weights dtype")
	ErrMalformedWeights = errors.New("malformed weights file")
	ErrInputShape       = errors.New("input tensor shape does not match model input")
	ErrUnknownBackend   = errors.New("unknown model backend")
	ErrNotProbabilities = errors.New("model output is not a probability distribution")
)

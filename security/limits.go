package security

import "time"

// Limits bounds the resources spent on a single document.
type Limits struct {
	// Maximum decompressed stream size (zip bombs). Default: 100 MB.
	MaxDecompressedSize int64

	// Maximum length of a reference chain. Default: 100.
	MaxIndirectDepth int

	// Maximum number of xref sections followed through /Prev. Default: 50.
	MaxXRefDepth int

	// Maximum form XObject nesting, for both redaction and rendering. Default: 20.
	MaxXObjectDepth int

	// Maximum nesting of arrays and dictionaries. Default: 256.
	MaxNestingDepth int

	// Maximum string length in bytes. Default: 10 MB.
	MaxStringLength int64

	// Maximum raw stream length in bytes. Default: 50 MB.
	MaxStreamLength int64

	// Maximum decode time per stream. Default: 30s.
	MaxDecodeTime time.Duration
}

// DefaultLimits returns a Limits struct with safe default values.
func DefaultLimits() Limits {
	return Limits{
		MaxDecompressedSize: 100 * 1024 * 1024,
		MaxIndirectDepth:    100,
		MaxXRefDepth:        50,
		MaxXObjectDepth:     20,
		MaxNestingDepth:     256,
		MaxStringLength:     10 * 1024 * 1024,
		MaxStreamLength:     50 * 1024 * 1024,
		MaxDecodeTime:       30 * time.Second,
	}
}

package restore

// SafetyLimits are the zip-bomb ceilings applied before any extraction. The
// archive is untrusted input, so defaults stay conservative.
type SafetyLimits struct {
	MaxEntries                int
	MaxTotalUncompressedBytes int64
	MaxSingleFileBytes        int64
	MaxCompressionRatio       float64
}

// DefaultSafetyLimits returns the production defaults: 1000 entries,
// 512 MiB aggregate, 128 MiB per file, 200:1 compression ratio.
func DefaultSafetyLimits() SafetyLimits {
	return SafetyLimits{
		MaxEntries:                1000,
		MaxTotalUncompressedBytes: 512 * 1024 * 1024,
		MaxSingleFileBytes:        128 * 1024 * 1024,
		MaxCompressionRatio:       200.0,
	}
}

func (l SafetyLimits) withDefaults() SafetyLimits {
	defaults := DefaultSafetyLimits()
	if l.MaxEntries <= 0 {
		l.MaxEntries = defaults.MaxEntries
	}
	if l.MaxTotalUncompressedBytes <= 0 {
		l.MaxTotalUncompressedBytes = defaults.MaxTotalUncompressedBytes
	}
	if l.MaxSingleFileBytes <= 0 {
		l.MaxSingleFileBytes = defaults.MaxSingleFileBytes
	}
	if l.MaxCompressionRatio <= 0 {
		l.MaxCompressionRatio = defaults.MaxCompressionRatio
	}
	return l
}

package calc

import "github.com/xtxerr/hsdb/internal/storage/types"

// native passes raw values through unchanged.
type native struct {
	base
}

func (n *native) PassThrough() bool { return true }

// RequiredTimespan is zero; native values are not buffered.
func (n *native) RequiredTimespan() int64 { return 0 }

// Generate returns the first input converted to the output type. The
// native provider satisfies Generate(t, [s]) == s for matching types.
func (n *native) Generate(windowStart int64, samples []types.Sample) types.Sample {
	if len(samples) == 0 {
		return n.emptyResult(windowStart)
	}
	return n.convert(samples[0])
}

//go:build !llama

package generator

// NewLlama fails fast in builds without the 'llama' tag so default builds
// stay CGO-free.
func NewLlama(cfg Config) (Generator, error) {
	return nil, ErrUnavailable
}

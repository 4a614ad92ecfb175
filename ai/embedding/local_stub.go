//go:build !onnx

package embedding

import "fmt"

// NewLocal is only available in builds with the "onnx" tag, which links
// against the ONNX Runtime shared library. Plain builds keep the remote
// providers and the retrieval fallback paths fully functional.
func NewLocal(cfg *Config) (Provider, error) {
	return nil, fmt.Errorf("%w: local embedding requires a build with -tags onnx", ErrUnavailable)
}

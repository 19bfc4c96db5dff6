//go:build !llama

package llama

import (
	"context"

	"github.com/pkg/errors"
)

// Load fails when the binary was built without the native binding. Build
// with -tags llama to enable real inference.
func Load(ctx context.Context, name string, cfg LoadConfig) (*Engine, error) {
	return nil, &LoadError{
		Model: name,
		Err:   errors.New("built without llama support, rebuild with -tags llama"),
	}
}

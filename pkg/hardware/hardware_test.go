package hardware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbeNeverFails(t *testing.T) {
	info := Probe(context.Background())
	assert.Positive(t, info.CPUCores)
	assert.Positive(t, info.MemoryTotal)
}

func TestInfoString(t *testing.T) {
	info := Info{CPUCores: 8, MemoryFree: 4 << 30}
	assert.Contains(t, info.String(), "8 cores")
	assert.Contains(t, info.String(), "GPU: none")

	info.GPUs = []GPU{{Name: "RTX 4090"}}
	assert.True(t, info.HasGPU())
	assert.Contains(t, info.String(), "RTX 4090")
}

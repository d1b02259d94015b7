package affinity

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetAffinityRange(t *testing.T) {
	assert.Error(t, SetAffinity(-1))
	assert.Error(t, SetAffinity(runtime.NumCPU()))
}

func TestCPUFor(t *testing.T) {
	n := runtime.NumCPU()
	assert.Equal(t, 0, CPUFor(0))
	assert.Equal(t, 1%n, CPUFor(n+1))
	assert.Equal(t, 2%n, CPUFor(-2))
}

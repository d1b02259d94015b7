//go:build linux

package affinity

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSetAffinityCurrentThread(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var orig unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &orig))
	defer unix.SchedSetaffinity(0, &orig)

	cpu := -1
	for i := 0; i < runtime.NumCPU(); i++ {
		if orig.IsSet(i) {
			cpu = i
			break
		}
	}
	if cpu < 0 {
		t.Skip("no usable cpu in the current affinity mask")
	}
	require.NoError(t, SetAffinity(cpu))

	var got unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &got))
	require.Equal(t, 1, got.Count())
	require.True(t, got.IsSet(cpu))
}

package fdtables

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Poll translation scenario from spec.md §8: a mix of real, unreal, and
// invalid virt-fds is translated to a real vector plus side-channels, and
// the real results translate back to the original virt-fds.
func TestConvertVirtualFdsToRealAndBack(t *testing.T) {
	cageID := freshCageID()
	InitEmptyCage(cageID)
	defer RemoveCageFromFdtable(cageID)

	realA, err := GetUnusedVirtualFd(cageID, 5, false, 0)
	require.NoError(t, err)

	realB, err := GetUnusedVirtualFd(cageID, 6, false, 0)
	require.NoError(t, err)

	unreal, err := GetUnusedVirtualFd(cageID, NoRealFD, false, 77)
	require.NoError(t, err)

	invalid := VirtFD(999)

	vec := []VirtFD{realA, unreal, realB, invalid}
	realVec, unrealVec, invalidVec, mapping := ConvertVirtualFdsToReal(cageID, vec)

	require.Equal(t, []RealFD{5, NoRealFD, 6, InvalidFD}, realVec)
	require.Equal(t, []UnrealHit{{VirtFD: unreal, OptionalInfo: 77}}, unrealVec)
	require.Equal(t, []VirtFD{invalid}, invalidVec)

	backVec := ConvertRealFdsBackToVirtual([]RealFD{5, 6}, mapping)
	require.Equal(t, []VirtFD{realA, realB}, backVec)
}

func TestConvertVirtualFdsToRealPanicsOnUnknownCage(t *testing.T) {
	cageID := freshCageID()

	require.Panics(t, func() { ConvertVirtualFdsToReal(cageID, []VirtFD{0}) })
}

func TestConvertRealFdsBackToVirtualPanicsOnUnmappedRealfd(t *testing.T) {
	cageID := freshCageID()
	InitEmptyCage(cageID)
	defer RemoveCageFromFdtable(cageID)

	_, err := GetUnusedVirtualFd(cageID, 5, false, 0)
	require.NoError(t, err)

	_, _, _, mapping := ConvertVirtualFdsToReal(cageID, nil)

	require.Panics(t, func() { ConvertRealFdsBackToVirtual([]RealFD{5}, mapping) })
}

// Aliased realfds: the mapping keeps the first virt-fd recorded for a given
// realfd, matching MappingTable.record's documented tie-break.
func TestMappingTableKeepsFirstRecordedVirtFd(t *testing.T) {
	cageID := freshCageID()
	InitEmptyCage(cageID)
	defer RemoveCageFromFdtable(cageID)

	first, err := GetUnusedVirtualFd(cageID, 42, false, 0)
	require.NoError(t, err)

	second := first + 1
	err = GetSpecificVirtualFd(cageID, second, 42, false, 0)
	require.NoError(t, err)

	_, _, _, mapping := ConvertVirtualFdsToReal(cageID, []VirtFD{first, second})

	vfd, ok := mapping.Lookup(42)
	require.True(t, ok)
	require.Equal(t, first, vfd)
}

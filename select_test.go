package fdtables

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFDSetBasics(t *testing.T) {
	s := InitFDSet()
	require.False(t, s.IsSet(3))

	s.Set(3)
	require.True(t, s.IsSet(3))

	s.Clr(3)
	require.False(t, s.IsSet(3))
}

// Select translation scenario from spec.md §8: a read-set containing one
// real and one unreal virt-fd translates to a real bitmask plus unreal
// hits, and a round trip with nothing additionally set reproduces the
// original virt-fd bits.
func TestSelectTranslationRoundTrip(t *testing.T) {
	cageID := freshCageID()
	InitEmptyCage(cageID)
	defer RemoveCageFromFdtable(cageID)

	realVirt, err := GetUnusedVirtualFd(cageID, 5, false, 0)
	require.NoError(t, err)

	unrealVirt, err := GetUnusedVirtualFd(cageID, NoRealFD, false, 11)
	require.NoError(t, err)

	read := InitFDSet()
	read.Set(realVirt)
	read.Set(unrealVirt)

	nfds := realVirt
	if unrealVirt > nfds {
		nfds = unrealVirt
	}
	nfds++

	newNfds, realRead, _, _, unreal, mapping, err := GetRealBitmasksForSelect(cageID, nfds, &read, nil, nil)
	require.NoError(t, err)
	require.Equal(t, VirtFD(6), newNfds)
	require.True(t, realRead.IsSet(5))
	require.Equal(t, []UnrealHit{{VirtFD: unrealVirt, OptionalInfo: 11}}, unreal.Read)

	count, virtRead, virtWrite, virtExcept := GetVirtualBitmasksFromSelectResult(
		newNfds, realRead, FDSet{}, FDSet{}, unreal.Read, nil, nil, mapping,
	)

	require.Equal(t, 2, count)
	require.True(t, virtRead.IsSet(realVirt))
	require.True(t, virtRead.IsSet(unrealVirt))
	require.Equal(t, FDSet{}, virtWrite)
	require.Equal(t, FDSet{}, virtExcept)
}

func TestGetRealBitmasksForSelectRejectsOversizedNfds(t *testing.T) {
	cageID := freshCageID()
	InitEmptyCage(cageID)
	defer RemoveCageFromFdtable(cageID)

	_, _, _, _, _, _, err := GetRealBitmasksForSelect(cageID, FDPerProcessMax+1, nil, nil, nil)
	requireFdErr(t, err, EINVAL)
}

func TestGetRealBitmasksForSelectRejectsDeadFd(t *testing.T) {
	cageID := freshCageID()
	InitEmptyCage(cageID)
	defer RemoveCageFromFdtable(cageID)

	read := InitFDSet()
	read.Set(3)

	_, _, _, _, _, _, err := GetRealBitmasksForSelect(cageID, 4, &read, nil, nil)
	requireFdErr(t, err, EBADF)
}

func TestGetRealBitmasksForSelectNilMasksAreAllClear(t *testing.T) {
	cageID := freshCageID()
	InitEmptyCage(cageID)
	defer RemoveCageFromFdtable(cageID)

	newNfds, realRead, realWrite, realExcept, unreal, mapping, err := GetRealBitmasksForSelect(cageID, 0, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, VirtFD(0), newNfds)
	require.Equal(t, FDSet{}, realRead)
	require.Equal(t, FDSet{}, realWrite)
	require.Equal(t, FDSet{}, realExcept)
	require.Empty(t, unreal.Read)
	require.Empty(t, unreal.Write)
	require.Empty(t, unreal.Except)
	require.NotNil(t, mapping)
}

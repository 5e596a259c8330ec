package fdtables

import "github.com/google/uuid"

// FDSet is a fixed-size bitset over [0, FDPerProcessMax), matching classic
// POSIX fd_set semantics for select(2).
type FDSet struct {
	bits [(FDPerProcessMax + 63) / 64]uint64
}

// InitFDSet returns a zeroed FDSet, mirroring FD_ZERO.
func InitFDSet() FDSet {
	return FDSet{}
}

// Set sets bit fd, mirroring FD_SET.
func (s *FDSet) Set(fd VirtFD) {
	s.bits[fd/64] |= 1 << uint(fd%64)
}

// IsSet reports whether bit fd is set, mirroring FD_ISSET.
func (s *FDSet) IsSet(fd VirtFD) bool {
	return s.bits[fd/64]&(1<<uint(fd%64)) != 0
}

// Clr clears bit fd, mirroring FD_CLR.
func (s *FDSet) Clr(fd VirtFD) {
	s.bits[fd/64] &^= 1 << uint(fd%64)
}

// SelectUnrealHits groups the unreal virt-fds discovered while translating
// a select(2) call's three fd_sets, split by which mask they came from.
type SelectUnrealHits struct {
	Read   []UnrealHit
	Write  []UnrealHit
	Except []UnrealHit
}

// GetRealBitmasksForSelect translates the bits set in [0, nfds) of read,
// write, and except (any may be nil, treated as all-clear) into real-fd
// bitmasks the caller forwards to select(2), plus the unreal hits and a
// MappingTable to reverse real-fd results afterward.
//
// The real-fd bitmasks use the same FDPerProcessMax-sized FDSet type as the
// virt-fd masks, so a real-fd at or above FDPerProcessMax does not fit and
// panics with an index out of range.
//
// newNfds is one past the highest real-fd bit actually set (0 if none are).
// Returns EINVAL if nfds exceeds FDPerProcessMax; EBADF if any set bit in
// [0, nfds) names a virt-fd with no live entry. Panics on an unknown
// cageID.
func GetRealBitmasksForSelect(cageID CageID, nfds VirtFD, read, write, except *FDSet) (newNfds VirtFD, realRead, realWrite, realExcept FDSet, unreal SelectUnrealHits, mapping *MappingTable, err error) {
	if nfds > FDPerProcessMax {
		return 0, FDSet{}, FDSet{}, FDSet{}, SelectUnrealHits{}, nil, newErr(EINVAL, "GetRealBitmasksForSelect", "nfds %d exceeds FDPerProcessMax %d", nfds, FDPerProcessMax)
	}

	c := getCage(cageID, "GetRealBitmasksForSelect")
	corrID := uuid.New().String()

	c.table.mu.RLock()
	defer c.table.mu.RUnlock()

	mapping = newMappingTable()

	translate := func(in *FDSet, out *FDSet, hits *[]UnrealHit) error {
		if in == nil {
			return nil
		}

		for fd := VirtFD(0); fd < nfds; fd++ {
			if !in.IsSet(fd) {
				continue
			}

			e, ok := c.table.entries[fd]
			if !ok {
				return newErr(EBADF, "GetRealBitmasksForSelect", "virt-fd %d not found in cage %d", fd, cageID)
			}

			if e.realfd == NoRealFD {
				*hits = append(*hits, UnrealHit{VirtFD: fd, OptionalInfo: e.optionalinfo})
				continue
			}

			out.Set(VirtFD(e.realfd))
			mapping.record(e.realfd, fd)
			if VirtFD(e.realfd)+1 > newNfds {
				newNfds = VirtFD(e.realfd) + 1
			}
		}

		return nil
	}

	if err := translate(read, &realRead, &unreal.Read); err != nil {
		return 0, FDSet{}, FDSet{}, FDSet{}, SelectUnrealHits{}, nil, err
	}

	if err := translate(write, &realWrite, &unreal.Write); err != nil {
		return 0, FDSet{}, FDSet{}, FDSet{}, SelectUnrealHits{}, nil, err
	}

	if err := translate(except, &realExcept, &unreal.Except); err != nil {
		return 0, FDSet{}, FDSet{}, FDSet{}, SelectUnrealHits{}, nil, err
	}

	logMultiplexTranslate(corrID, cageID, int(nfds), len(unreal.Read)+len(unreal.Write)+len(unreal.Except), 0)

	return newNfds, realRead, realWrite, realExcept, unreal, mapping, nil
}

// GetVirtualBitmasksFromSelectResult reverses a select(2) result back into
// virt-fd bitmasks: every bit set in the real masks is translated through
// mapping (panicking if mapping lacks that realfd — the caller's contract
// is to pass back only the masks GetRealBitmasksForSelect produced,
// possibly with bits cleared but none added), and the unreal hit sets
// (reported by the caller after it evaluates unreal readiness) are unioned
// in as raw virt-fd bits. count is the total number of set bits across all
// three output masks.
func GetVirtualBitmasksFromSelectResult(nfds VirtFD, realRead, realWrite, realExcept FDSet, unrealReadHits, unrealWriteHits, unrealExceptHits []UnrealHit, mapping *MappingTable) (count int, virtRead, virtWrite, virtExcept FDSet) {
	apply := func(real *FDSet, hits []UnrealHit, virt *FDSet) {
		for fd := VirtFD(0); fd < nfds; fd++ {
			if !real.IsSet(fd) {
				continue
			}

			vfd, ok := mapping.Lookup(RealFD(fd))
			if !ok {
				panic("fdtables: GetVirtualBitmasksFromSelectResult: realfd not present in mapping table")
			}

			virt.Set(vfd)
		}

		for _, h := range hits {
			virt.Set(h.VirtFD)
		}
	}

	apply(&realRead, unrealReadHits, &virtRead)
	apply(&realWrite, unrealWriteHits, &virtWrite)
	apply(&realExcept, unrealExceptHits, &virtExcept)

	count = popcount(&virtRead) + popcount(&virtWrite) + popcount(&virtExcept)

	return count, virtRead, virtWrite, virtExcept
}

func popcount(s *FDSet) int {
	n := 0
	for fd := VirtFD(0); fd < FDPerProcessMax; fd++ {
		if s.IsSet(fd) {
			n++
		}
	}

	return n
}

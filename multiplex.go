package fdtables

import (
	"github.com/google/uuid"

	"github.com/JustinCappos/fdtables/internal/fdlog"
)

// logMultiplexTranslate emits one debug line per virt->real translation
// call, tagged with a correlation ID so a caller's select/poll syscall can
// be followed through its pre-translation and post-translation log lines.
func logMultiplexTranslate(corrID string, cageID CageID, total, unreal, invalid int) {
	fdlog.Debug("multiplexer translation", map[string]any{
		"corr_id": corrID,
		"cage_id": int64(cageID),
		"total":   total,
		"unreal":  unreal,
		"invalid": invalid,
	})
}

// UnrealHit pairs an unreal virt-fd with its optionalinfo tag, the shape
// convert_virtualfds_to_real (and the select translators) use to report
// unreal positions back to the caller.
type UnrealHit struct {
	VirtFD       VirtFD
	OptionalInfo OptionalInfo
}

// MappingTable records, for a single translation call, which virt-fd a
// real-fd the call yielded corresponds to. ConvertRealFdsBackToVirtual and
// GetVirtualBitmasksFromSelectResult consume it to reverse the direction
// after the caller's kernel call returns.
//
// If the same realfd appeared at multiple input positions, the table keeps
// whichever virt-fd was recorded first (see spec's open question on
// select-result tie-breaking for aliased real-fds).
type MappingTable struct {
	byRealfd map[RealFD]VirtFD
}

func newMappingTable() *MappingTable {
	return &MappingTable{byRealfd: map[RealFD]VirtFD{}}
}

func (m *MappingTable) record(realfd RealFD, virt VirtFD) {
	if _, exists := m.byRealfd[realfd]; !exists {
		m.byRealfd[realfd] = virt
	}
}

// Lookup returns the virt-fd recorded for realfd, if any.
func (m *MappingTable) Lookup(realfd RealFD) (VirtFD, bool) {
	vfd, ok := m.byRealfd[realfd]
	return vfd, ok
}

// ConvertVirtualFdsToReal partitions vec into real-fds (to forward to the
// kernel), unreal-fds (handled in-library), and invalid positions, plus a
// MappingTable to later reverse real-fd results back to virt-fds.
//
// realVec[i] mirrors vec[i]: the real-fd if that position's entry exists
// and is real, NoRealFD if the entry exists but is unreal, InvalidFD if no
// entry exists. unrealVec and invalidVec list the unreal and invalid
// positions in input order. Panics on an unknown cageID.
func ConvertVirtualFdsToReal(cageID CageID, vec []VirtFD) (realVec []RealFD, unrealVec []UnrealHit, invalidVec []VirtFD, mapping *MappingTable) {
	c := getCage(cageID, "ConvertVirtualFdsToReal")

	corrID := uuid.New().String()

	c.table.mu.RLock()
	defer c.table.mu.RUnlock()

	realVec = make([]RealFD, len(vec))
	mapping = newMappingTable()

	for i, vfd := range vec {
		e, ok := c.table.entries[vfd]
		if !ok {
			realVec[i] = InvalidFD
			invalidVec = append(invalidVec, vfd)
			continue
		}

		if e.realfd == NoRealFD {
			realVec[i] = NoRealFD
			unrealVec = append(unrealVec, UnrealHit{VirtFD: vfd, OptionalInfo: e.optionalinfo})
			continue
		}

		realVec[i] = e.realfd
		mapping.record(e.realfd, vfd)
	}

	logMultiplexTranslate(corrID, cageID, len(vec), len(unrealVec), len(invalidVec))

	return realVec, unrealVec, invalidVec, mapping
}

// ConvertRealFdsBackToVirtual translates each entry of realfds through
// mapping, the table a prior ConvertVirtualFdsToReal call returned.
// realfds must contain no NoRealFD or InvalidFD entries; an unknown realfd
// panics, since the caller's contract is to pass back only values
// previously yielded by that same mapping.
func ConvertRealFdsBackToVirtual(realfds []RealFD, mapping *MappingTable) []VirtFD {
	out := make([]VirtFD, len(realfds))
	for i, rfd := range realfds {
		vfd, ok := mapping.Lookup(rfd)
		if !ok {
			panic("fdtables: ConvertRealFdsBackToVirtual: realfd not present in mapping table")
		}

		out[i] = vfd
	}

	return out
}

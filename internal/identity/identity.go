package identity

import (
	"fmt"
	"strings"

	"wardwatch/internal/config"
	"wardwatch/internal/model"
)

// Sentinel returned when an id cannot be resolved to an ordinal
const Unknown = "-"

// Mapper translates opaque CCTV and bed ids into the stable ordinal labels
// the dashboard shows ("2번 CCTV", "환자1"). Ordinals come from first-seen
// order within the tables, never from sorting id values, so labels stay
// stable for as long as the table itself is stable.
//
// A Mapper is immutable after construction; lookups are side-effect-free
// and safe for concurrent use.
type Mapper struct {
	cctvIndex map[string]int
	bedsByCam map[string][]string
}

// NewMapper builds a mapper from an ordered device list and ordered
// (cctv, bed) pairs. Duplicate entries keep their first position.
func NewMapper(cctvIDs []string, pairs []model.BedMapping) *Mapper {
	m := &Mapper{
		cctvIndex: make(map[string]int, len(cctvIDs)),
		bedsByCam: make(map[string][]string),
	}
	for i, id := range cctvIDs {
		if _, seen := m.cctvIndex[id]; !seen {
			m.cctvIndex[id] = i
		}
	}
	for _, p := range pairs {
		if containsBed(m.bedsByCam[p.CCTVID], p.BedID) {
			continue
		}
		m.bedsByCam[p.CCTVID] = append(m.bedsByCam[p.CCTVID], p.BedID)
	}
	return m
}

// NewMapperFromConfig parses the "cctv_id:bed_id" pair notation used in
// static configuration. Entries that don't split cleanly are skipped.
func NewMapperFromConfig(cfg config.IdentityConfig) *Mapper {
	pairs := make([]model.BedMapping, 0, len(cfg.BedPairs))
	for _, raw := range cfg.BedPairs {
		cctvID, bedID, ok := strings.Cut(raw, ":")
		if !ok || cctvID == "" || bedID == "" {
			continue
		}
		pairs = append(pairs, model.BedMapping{CCTVID: cctvID, BedID: bedID})
	}
	return NewMapper(cfg.CCTVIDs, pairs)
}

// DeviceLabel returns the 1-based ordinal label of a camera, "-" if the
// camera is not in the device list.
func (m *Mapper) DeviceLabel(cctvID string) string {
	idx, ok := m.cctvIndex[cctvID]
	if !ok {
		return Unknown
	}
	return fmt.Sprintf("%d번 CCTV", idx+1)
}

// PatientLabel returns the 1-based patient label for a bed within the given
// camera's bed set, "-" when the camera or the bed is absent from the table.
func (m *Mapper) PatientLabel(cctvID, bedID string) string {
	beds, ok := m.bedsByCam[cctvID]
	if !ok {
		return Unknown
	}
	for i, b := range beds {
		if b == bedID {
			return fmt.Sprintf("환자%d", i+1)
		}
	}
	return Unknown
}

// DeviceCount reports how many cameras the mapper knows about
func (m *Mapper) DeviceCount() int {
	return len(m.cctvIndex)
}

// BedCount reports how many beds are paired across all cameras
func (m *Mapper) BedCount() int {
	n := 0
	for _, beds := range m.bedsByCam {
		n += len(beds)
	}
	return n
}

func containsBed(beds []string, bedID string) bool {
	for _, b := range beds {
		if b == bedID {
			return true
		}
	}
	return false
}

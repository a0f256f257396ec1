package controls

import "github.com/Agrid-Dev/easycontrols/internal/catalog"

// planReads groups descriptors sharing a device variable so each variable
// is read once per refresh. Groups keep address order.
func planReads(ds []catalog.Descriptor) [][]catalog.Descriptor {
	var groups [][]catalog.Descriptor
	index := make(map[uint16]int)
	for _, d := range ds {
		if i, ok := index[d.Address]; ok {
			groups[i] = append(groups[i], d)
			continue
		}
		index[d.Address] = len(groups)
		groups = append(groups, []catalog.Descriptor{d})
	}
	return groups
}

package runtime

import "maps"

// additionalData holds the scope-local singletons that do not belong to a
// frame. Copies are shallow.
type additionalData struct {
	topology  any
	gui       GUI
	types     any
	graphics  any
	lastError *RuntimeError
	values    map[string]any
}

func (d *additionalData) copy() *additionalData {
	cp := *d
	if d.values != nil {
		cp.values = maps.Clone(d.values)
	}
	return &cp
}

func (d *additionalData) clear() {
	d.topology = nil
	d.types = nil
	d.graphics = nil
	d.lastError = nil
	d.values = nil
}

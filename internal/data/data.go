package data

// Data is the capability set the orchestrator needs from any object a
// plugin emits.
type Data interface {
	Identity() string
	Kind() Kind
	Subtype() string
	// Links returns the objects this one refers to.
	Links() []Link
	// Discovered returns sub-resources found while creating this object.
	// They are submitted separately unless already stored.
	Discovered() []Data
}

// Link is a reference to another data object.
type Link struct {
	Identity string `json:"identity"`
	Kind     Kind   `json:"kind"`
}

// LinkTo builds a link to d.
func LinkTo(d Data) Link {
	return Link{Identity: d.Identity(), Kind: d.Kind()}
}

// ResourceLinks filters links down to resources.
func ResourceLinks(d Data) []Link {
	var out []Link
	for _, l := range d.Links() {
		if l.Kind == KindResource {
			out = append(out, l)
		}
	}
	return out
}

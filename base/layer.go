package base

// LayerInfo describes one layer as it was constructed.
type LayerInfo struct {
	Name    string
	Kind    string
	In      int64
	Out     int64
	Kernel  int64
	Padding string
}

// PrefixLayers returns layers with prefix prepended to every name.
func PrefixLayers(prefix string, layers []LayerInfo) []LayerInfo {
	out := make([]LayerInfo, len(layers))
	for i, l := range layers {
		l.Name = prefix + l.Name
		out[i] = l
	}
	return out
}

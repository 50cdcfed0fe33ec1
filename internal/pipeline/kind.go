package pipeline

// BlockKind is the closed set of block flavors. The kind decides the
// directory a block's source lives in and the variables a successful run
// must produce.
type BlockKind string

const (
	KindDataLoader   BlockKind = "data_loader"
	KindTransformer  BlockKind = "transformer"
	KindDataExporter BlockKind = "data_exporter"
	KindScratchpad   BlockKind = "scratchpad"
)

// Valid reports whether k names a known kind.
func (k BlockKind) Valid() bool {
	switch k {
	case KindDataLoader, KindTransformer, KindDataExporter, KindScratchpad:
		return true
	default:
		return false
	}
}

// Dir returns the project subdirectory holding source files of this kind.
func (k BlockKind) Dir() string {
	return string(k) + "s"
}

// OutputVariables returns the ordered variable names a block of this kind
// publishes on success. Loaders and transformers emit their primary frame;
// exporters and scratchpads emit nothing.
func (k BlockKind) OutputVariables() []string {
	switch k {
	case KindDataLoader, KindTransformer:
		return []string{"df"}
	default:
		return nil
	}
}

// Kinds lists every block kind in a stable order.
func Kinds() []BlockKind {
	return []BlockKind{KindDataLoader, KindTransformer, KindDataExporter, KindScratchpad}
}

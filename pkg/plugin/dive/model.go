package dive

// Export is the layer analysis written by `dive --json <file>`.
type Export struct {
	Layers []Layer `json:"layer"`
	Image  Image   `json:"image"`
}

type Layer struct {
	Index     int    `json:"index"`
	ID        string `json:"id"`
	DigestID  string `json:"digestId"`
	SizeBytes int64  `json:"sizeBytes"`
	Command   string `json:"command"`
}

type Image struct {
	SizeBytes        int64           `json:"sizeBytes"`
	InefficientBytes int64           `json:"inefficientBytes"`
	EfficiencyScore  float64         `json:"efficiencyScore"`
	FileReferences   []FileReference `json:"fileReference"`
}

type FileReference struct {
	Count     int    `json:"count"`
	SizeBytes int64  `json:"sizeBytes"`
	File      string `json:"file"`
}

// Analysis is what lookout needs from either output format.
type Analysis struct {
	// Efficiency is in the range [0, 1].
	Efficiency  float64
	WastedBytes int64
	// TopWasted lists the paths wasting the most space, if known.
	TopWasted []string
}

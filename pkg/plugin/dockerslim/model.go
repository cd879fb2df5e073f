package dockerslim

// Report is the subset of the `creport.json` command report written by
// `docker-slim build`.
type Report struct {
	Version           string      `json:"version"`
	Type              string      `json:"type"`
	State             string      `json:"state"`
	TargetReference   string      `json:"target_reference"`
	SourceImage       SourceImage `json:"source_image"`
	MinifiedBy        float64     `json:"minified_by"`
	MinifiedImageSize int64       `json:"minified_image_size"`
	MinifiedImage     string      `json:"minified_image"`
}

type SourceImage struct {
	Size      int64  `json:"size"`
	SizeHuman string `json:"size_human"`
}

// Analysis compares the original image with its minified counterpart.
type Analysis struct {
	OriginalSize int64
	SlimSize     int64
	SlimLayers   int
	Ratio        float64
}

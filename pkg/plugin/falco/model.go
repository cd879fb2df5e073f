package falco

import "time"

// Event is a single alert written by Falco with json_output enabled.
type Event struct {
	Time         time.Time              `json:"time"`
	Rule         string                 `json:"rule"`
	Priority     string                 `json:"priority"`
	Output       string                 `json:"output"`
	Source       string                 `json:"source"`
	Hostname     string                 `json:"hostname"`
	Tags         []string               `json:"tags"`
	OutputFields map[string]interface{} `json:"output_fields"`
}

const fieldImageRepository = "container.image.repository"

func (e Event) imageRepository() string {
	if value, ok := e.OutputFields[fieldImageRepository].(string); ok {
		return value
	}
	return ""
}

package lookout

// BuildInfo holds build metadata injected at link time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

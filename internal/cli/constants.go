package cli

// Default values for CLI flags and output formatting.
const (
	// TabWidth is the width of tabs in formatted output.
	TabWidth = 2
	// MaxDescriptionLength is the maximum length of a dataset description in list output.
	MaxDescriptionLength = 50
	// progressStep is the number of bytes between two download progress lines.
	progressStep = 8 << 20
)

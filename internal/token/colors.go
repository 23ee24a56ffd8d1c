package token

// Color is the human-checkable label shown alongside the QR code. A proctor
// announces it out loud so a phone scanning a photo of a stale screen can be
// caught by cross-check; it is a supplementary defense, not the primary one.
type Color struct {
	Name string
	Hex  string
	Text string
}

var palette = [7]Color{
	{Name: "Black", Hex: "#1a1a1a", Text: "#ffffff"},
	{Name: "Red", Hex: "#dc2626", Text: "#ffffff"},
	{Name: "Blue", Hex: "#2563eb", Text: "#ffffff"},
	{Name: "Green", Hex: "#16a34a", Text: "#ffffff"},
	{Name: "Purple", Hex: "#9333ea", Text: "#ffffff"},
	{Name: "Orange", Hex: "#ea580c", Text: "#ffffff"},
	{Name: "Brown", Hex: "#92400e", Text: "#ffffff"},
}

// ColorFor returns the palette entry for a window index.
func ColorFor(window int64) Color {
	i := window % int64(len(palette))
	if i < 0 {
		i += int64(len(palette))
	}
	return palette[i]
}

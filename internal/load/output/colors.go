package output

import (
	"github.com/fatih/color"
)

// Palette defines the colors used for the elements of the summary.
type Palette struct {
	Title  *color.Color
	Rule   *color.Color
	Header *color.Color
	Metric *color.Color
	Value  *color.Color
	Dim    *color.Color
	Pass   *color.Color
	Warn   *color.Color
	Fail   *color.Color
}

// DefaultPalette returns the default palette.
func DefaultPalette() *Palette {
	return &Palette{
		Title:  color.New(color.Bold),
		Rule:   color.New(color.FgCyan),
		Header: color.New(color.FgMagenta, color.Bold),
		Metric: color.New(color.FgWhite),
		Value:  color.New(color.FgCyan),
		Dim:    color.New(color.Faint),
		Pass:   color.New(color.FgGreen),
		Warn:   color.New(color.FgYellow),
		Fail:   color.New(color.FgRed, color.Bold),
	}
}

// NoColorPalette returns a palette with every color disabled.
func NoColorPalette() *Palette {
	p := DefaultPalette()
	for _, c := range []*color.Color{p.Title, p.Rule, p.Header, p.Metric, p.Value, p.Dim, p.Pass, p.Warn, p.Fail} {
		c.DisableColor()
	}
	return p
}

// Icon returns the ✓ or ✗ mark for ok.
func (p *Palette) Icon(ok bool) string {
	if ok {
		return p.Pass.Sprint("✓")
	}
	return p.Fail.Sprint("✗")
}

// rateColor picks a color for a failure ratio.
func (p *Palette) rateColor(failRatio float64) *color.Color {
	switch {
	case failRatio > 0.05:
		return p.Fail
	case failRatio > 0.01:
		return p.Warn
	default:
		return p.Pass
	}
}

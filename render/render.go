// Package render draws diagnostic heatmaps of t-DM planes with an axis grid
// and optional candidate markers. Not required for search correctness.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/frbseek/frbseek/dedisperse"
	"github.com/frbseek/frbseek/store"
)

var (
	// Colors defining the gradient in the heatmap. The higher the index, the warmer.
	colors = map[int]color.RGBA{
		0: {0, 0, 0, 255},       // black
		1: {0, 0, 255, 255},     // blue
		2: {0, 255, 255, 255},   // cyan
		3: {0, 255, 0, 255},     // green
		4: {255, 255, 0, 255},   // yellow
		5: {255, 0, 0, 255},     // red
		6: {255, 255, 255, 255}, // white
	}

	gridColor           = color.RGBA{0, 0, 0, 255}
	gridBackgroundColor = color.RGBA{255, 255, 255, 255}
	markerColor         = color.RGBA{255, 0, 255, 255}
)

const (
	gridMarginTop  = 20  // pixels
	gridMarginLeft = 90  // pixels
	gridTickLen    = 10  // pixels
	gridMinStepX   = 100 // pixels
	gridMinStepY   = 20  // pixels
	markerRadius   = 6   // pixels
)

type Options struct {
	AddGrid bool
	// Marks are candidate centers to circle on the plane.
	Marks []store.Candidate
}

// GetColor determines the color of a pixel based on a color gradient and a pixel "level".
// http://www.andrewnoske.com/wiki/Code_-_heatmaps_and_color_gradients
func GetColor(lvl uint16) color.RGBA {
	// Find the first color in the gradient where the "level" is higher than the level we're looking for.
	// Then determine how far along we are between the previous and next color in the gradient and use that
	// to calculate the color between the two.
	for i := 0; i < len(colors); i++ {
		currC := colors[i]
		currV := uint16(i * math.MaxUint16 / len(colors))
		if lvl < currV {
			prevC := colors[int(math.Max(0.0, float64(i-1)))]
			diff := uint16(math.Max(0.0, float64(i-1)))*math.MaxUint16/uint16(len(colors)) - currV
			fract := 0.0
			if diff != 0 {
				fract = float64(lvl) - float64(currV)/float64(diff)
			}
			return color.RGBA{
				uint8(float64(prevC.R-currC.R)*fract + float64(currC.R)),
				uint8(float64(prevC.G-currC.G)*fract + float64(currC.G)),
				uint8(float64(prevC.B-currC.B)*fract + float64(currC.B)),
				uint8(float64(prevC.A-currC.A)*fract + float64(currC.A)),
			}
		}
	}
	return colors[len(colors)-1]
}

// Plane renders the t-DM surface as a heatmap, time along X and trial DM
// along Y (lowest DM at the top).
func Plane(p *dedisperse.Plane, opts Options) *image.RGBA {
	nTime, nDM := p.NumTime(), p.NumDM()
	canvas := image.NewRGBA(image.Rectangle{
		Min: image.Point{0, 0},
		Max: image.Point{nTime, nDM},
	})

	min, max := math.Inf(1), math.Inf(-1)
	for t := 0; t < nTime; t++ {
		for d := 0; d < nDM; d++ {
			v := p.Amp[t][d]
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}
	ampRange := max - min
	if ampRange == 0 {
		ampRange = 1
	}

	for t := 0; t < nTime; t++ {
		for d := 0; d < nDM; d++ {
			lvl := uint16((p.Amp[t][d] - min) * math.MaxUint16 / ampRange)
			canvas.SetRGBA(t, d, GetColor(lvl))
		}
	}

	for _, c := range opts.Marks {
		x := int(math.Round((c.TimeSec - p.StartSec) / p.SampleSec))
		y := 0
		if step := p.StepDM(); step > 0 {
			y = int(math.Round((c.DM - p.DMs[0]) / step))
		}
		drawMarker(canvas, x, y)
	}

	if opts.AddGrid {
		canvas = drawGrid(canvas, p)
	}
	return canvas
}

func drawMarker(canvas *image.RGBA, cx, cy int) {
	for a := 0.0; a < 2*math.Pi; a += 0.05 {
		x := cx + int(math.Round(markerRadius*math.Cos(a)))
		y := cy + int(math.Round(markerRadius*math.Sin(a)))
		if image.Pt(x, y).In(canvas.Bounds()) {
			canvas.SetRGBA(x, y, markerColor)
		}
	}
}

func drawTick(canvas *image.RGBA, start image.Point, length int, horizontal bool) {
	for i := 0; i <= length; i++ {
		if horizontal {
			canvas.SetRGBA(start.X+i, start.Y, gridColor)
		} else {
			canvas.SetRGBA(start.X, start.Y+i, gridColor)
		}
	}
}

func findGridStepSize(step int, horizontal bool) int {
	gridMinStep := gridMinStepY
	if horizontal {
		gridMinStep = gridMinStepX
	}
	for step > gridMinStep {
		n := step / 2
		if n < gridMinStep {
			return step
		}
		step = n
	}
	return step
}

// drawGrid enlarges the heatmap and labels the time (X) and trial-DM (Y) axes.
func drawGrid(source *image.RGBA, p *dedisperse.Plane) *image.RGBA {
	canvas := image.NewRGBA(image.Rectangle{
		Min: image.Point{source.Bounds().Min.X, source.Bounds().Min.Y},
		Max: image.Point{source.Bounds().Max.X - 1 + gridMarginLeft, source.Bounds().Max.Y - 1 + gridMarginTop},
	})
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{gridBackgroundColor}, canvas.Bounds().Min, draw.Src)
	r := canvas.Bounds()
	r.Min.X += gridMarginLeft
	r.Min.Y += gridMarginTop
	draw.Draw(canvas, r, source, source.Bounds().Min, draw.Src)

	// X ticks: time in seconds since chunk start.
	xStep := findGridStepSize(source.Bounds().Max.X, true)
	for i := source.Bounds().Min.X; i < source.Bounds().Max.X; i += xStep {
		drawTick(canvas, image.Point{
			canvas.Bounds().Min.X + gridMarginLeft + i,
			canvas.Bounds().Min.Y + gridMarginTop - gridTickLen,
		}, gridTickLen, false)
		point := fixed.Point26_6{
			X: fixed.Int26_6((canvas.Bounds().Min.X + gridMarginLeft + i + 5) * 64),
			Y: fixed.Int26_6((canvas.Bounds().Min.Y + gridMarginTop - 2) * 64),
		}
		d := &font.Drawer{
			Dst:  canvas,
			Src:  image.NewUniform(gridColor),
			Face: basicfont.Face7x13,
			Dot:  point,
		}
		d.DrawString(fmt.Sprintf("%.2fs", float64(i)*p.SampleSec))
	}

	// Y ticks: trial DM.
	yStep := findGridStepSize(source.Bounds().Max.Y, false)
	for i := source.Bounds().Min.Y; i < source.Bounds().Max.Y; i += yStep {
		drawTick(canvas, image.Point{
			canvas.Bounds().Min.X + gridMarginLeft - gridTickLen,
			canvas.Bounds().Min.Y + gridMarginTop + i,
		}, gridTickLen, true)
		point := fixed.Point26_6{
			X: fixed.Int26_6((canvas.Bounds().Min.X + 5) * 64),
			Y: fixed.Int26_6((canvas.Bounds().Min.Y + gridMarginTop + i + 5) * 64),
		}
		d := &font.Drawer{
			Dst:  canvas,
			Src:  image.NewUniform(gridColor),
			Face: basicfont.Face7x13,
			Dot:  point,
		}
		dm := p.DMs[0] + float64(i)*p.StepDM()
		d.DrawString(fmt.Sprintf("DM %.1f", dm))
	}

	return canvas
}

// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package liveplot

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"

	"github.com/labtools/asyncsession/internal/store"
)

const (
	plotWidth  = 640
	plotHeight = 480
	plotMargin = 32
)

var seriesColors = []color.RGBA{
	{230, 57, 70, 255},
	{29, 53, 87, 255},
	{69, 123, 157, 255},
	{42, 157, 143, 255},
	{233, 196, 106, 255},
}

// renderLinePlot draws one line per variable in buffers (in the order
// given by names) over a shared y-axis and writes it as a PNG to path.
// yScale is currently ignored for anything but "linear"/"log"; log-scale
// values are transformed before plotting.
func renderLinePlot(path string, names []string, buffers map[string][]store.LogSample, yScale string) error {
	img := image.NewRGBA(image.Rect(0, 0, plotWidth, plotHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	drawAxes(img)

	minY, maxY, ok := yRange(names, buffers, yScale)
	if !ok {
		return writePNG(path, img)
	}

	for i, name := range names {
		samples := buffers[name]
		if len(samples) < 2 {
			continue
		}
		c := seriesColors[i%len(seriesColors)]
		for j := 1; j < len(samples); j++ {
			x0, y0 := plotPoint(samples, j-1, minY, maxY, yScale)
			x1, y1 := plotPoint(samples, j, minY, maxY, yScale)
			drawLine(img, x0, y0, x1, y1, c)
		}
	}
	return writePNG(path, img)
}

func yRange(names []string, buffers map[string][]store.LogSample, yScale string) (min, max float64, ok bool) {
	min, max = math.Inf(1), math.Inf(-1)
	for _, name := range names {
		for _, s := range buffers[name] {
			v := s.Value
			if yScale == "log" {
				if v <= 0 {
					continue
				}
				v = math.Log10(v)
			}
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
			ok = true
		}
	}
	if ok && min == max {
		min -= 1
		max += 1
	}
	return min, max, ok
}

func plotPoint(samples []store.LogSample, i int, minY, maxY float64, yScale string) (x, y int) {
	first, last := samples[0].Timestamp, samples[len(samples)-1].Timestamp
	span := last - first
	var fracX float64
	if span > 0 {
		fracX = (samples[i].Timestamp - first) / span
	}
	v := samples[i].Value
	if yScale == "log" && v > 0 {
		v = math.Log10(v)
	}
	fracY := (v - minY) / (maxY - minY)

	x = plotMargin + int(fracX*float64(plotWidth-2*plotMargin))
	y = plotHeight - plotMargin - int(fracY*float64(plotHeight-2*plotMargin))
	return x, y
}

func drawAxes(img *image.RGBA) {
	axisColor := color.RGBA{0, 0, 0, 255}
	drawLine(img, plotMargin, plotMargin, plotMargin, plotHeight-plotMargin, axisColor)
	drawLine(img, plotMargin, plotHeight-plotMargin, plotWidth-plotMargin, plotHeight-plotMargin, axisColor)
}

// drawLine is a simple Bresenham rasterizer; the corpus has no charting
// library, so this keeps the in-process renderer to the standard library.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := sign(x1-x0), sign(y1-y0)
	err := dx + dy
	for {
		if x0 >= 0 && x0 < plotWidth && y0 >= 0 && y0 < plotHeight {
			img.SetRGBA(x0, y0, c)
		}
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func writePNG(path string, img *image.RGBA) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encode png %s: %w", path, err)
	}
	return nil
}

// Package render draws the stall overlay and the lot map as JPEG images
package render

import (
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"
	"slices"
	"strconv"

	"stallwatch/internal/core/geometry"
	"stallwatch/internal/core/smoother"
	perr "stallwatch/internal/platform/errors"
	pstrings "stallwatch/internal/platform/strings"

	"github.com/golang/geo/r2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Quality is the JPEG quality used for every rendered artifact
const Quality = 85

var (
	colOccupied = color.RGBA{R: 220, G: 30, B: 30, A: 255}
	colOpen     = color.RGBA{R: 0, G: 200, B: 0, A: 255}
	colUnknown  = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	colBox      = color.RGBA{R: 0, G: 220, B: 220, A: 255}
	colWhite    = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colLane     = color.RGBA{R: 255, G: 220, B: 0, A: 255}
	colBG       = color.RGBA{R: 35, G: 35, B: 35, A: 255}
	colBanner   = color.RGBA{A: 200}
)

// Tile is one stall as drawn
type Tile struct {
	ID      string
	Lane    int
	Polygon geometry.Polygon
	State   smoother.State
}

func stateColor(s smoother.State) color.RGBA {
	switch s {
	case smoother.Occupied:
		return colOccupied
	case smoother.Open:
		return colOpen
	default:
		return colUnknown
	}
}

// Decode reads a JPEG frame
func Decode(r io.Reader) (image.Image, error) {
	img, err := jpeg.Decode(r)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "decode jpeg")
	}
	return img, nil
}

// Overlay draws stall outlines (red occupied, green open) and the detector boxes on frame
func Overlay(w io.Writer, frame image.Image, tiles []Tile, boxes []r2.Rect) error {
	b := frame.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, frame, b.Min, draw.Src)

	for _, bx := range boxes {
		rect(dst, int(bx.X.Lo), int(bx.Y.Lo), int(bx.X.Hi), int(bx.Y.Hi), colBox, 1)
	}
	occupied := 0
	for _, t := range tiles {
		c := stateColor(t.State)
		if t.State == smoother.Occupied {
			occupied++
		}
		n := len(t.Polygon)
		for i := 0; i < n; i++ {
			p, q := t.Polygon[i], t.Polygon[(i+1)%n]
			line(dst, int(p.X), int(p.Y), int(q.X), int(q.Y), c, 2)
		}
		ctr := t.Polygon.Centroid()
		label(dst, int(ctr.X)-len(t.ID)*3, int(ctr.Y)+4, t.ID, c)
	}

	banner := "occupied " + strconv.Itoa(occupied) + "/" + strconv.Itoa(len(tiles))
	fill(dst, image.Rect(b.Min.X+10, b.Min.Y+10, b.Min.X+10+len(banner)*7+20, b.Min.Y+36), colBanner)
	label(dst, b.Min.X+20, b.Min.Y+28, banner, colWhite)

	return encode(w, dst)
}

const (
	tileW, tileH = 120, 80
	padX, padY   = 30, 25
	marginX      = 80
	marginY      = 80
)

// Map draws a schematic grid: one column per lane, stalls ordered back (smaller y) to front
func Map(w io.Writer, tiles []Tile) error {
	lanes := map[int][]Tile{}
	for _, t := range tiles {
		lanes[t.Lane] = append(lanes[t.Lane], t)
	}
	ids := make([]int, 0, len(lanes))
	rows := 1
	for l, ts := range lanes {
		ids = append(ids, l)
		rows = max(rows, len(ts))
		slices.SortStableFunc(ts, func(a, b Tile) int {
			ay, by := a.Polygon.Centroid().Y, b.Polygon.Centroid().Y
			switch {
			case ay < by:
				return -1
			case ay > by:
				return 1
			}
			return pstrings.CompareIDs(a.ID, b.ID)
		})
	}
	slices.Sort(ids)
	cols := max(1, len(ids))

	dst := image.NewRGBA(image.Rect(0, 0, marginX*2+cols*(tileW+padX), marginY*2+rows*(tileH+padY)))
	fill(dst, dst.Bounds(), colBG)

	for c, l := range ids {
		x0 := marginX + c*(tileW+padX)
		label(dst, x0+5, 40, "Lane "+strconv.Itoa(l), colLane)
		for r, t := range lanes[l] {
			y0 := marginY + r*(tileH+padY)
			fill(dst, image.Rect(x0, y0, x0+tileW, y0+tileH), stateColor(t.State))
			rect(dst, x0, y0, x0+tileW, y0+tileH, colWhite, 2)
			label(dst, x0+tileW/2-len(t.ID)*3, y0+tileH/2+4, t.ID, colWhite)
		}
	}
	return encode(w, dst)
}

func encode(w io.Writer, img image.Image) error {
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: Quality}); err != nil {
		return perr.Wrap(err, perr.ErrorCodeResource, "encode jpeg")
	}
	return nil
}

func fill(dst *image.RGBA, r image.Rectangle, c color.Color) {
	draw.Draw(dst, r.Intersect(dst.Bounds()), &image.Uniform{C: c}, image.Point{}, draw.Over)
}

func rect(dst *image.RGBA, x0, y0, x1, y1 int, c color.RGBA, thick int) {
	line(dst, x0, y0, x1, y0, c, thick)
	line(dst, x1, y0, x1, y1, c, thick)
	line(dst, x1, y1, x0, y1, c, thick)
	line(dst, x0, y1, x0, y0, c, thick)
}

// line is Bresenham with a square brush
func line(dst *image.RGBA, x0, y0, x1, y1 int, c color.RGBA, thick int) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		for ox := 0; ox < thick; ox++ {
			for oy := 0; oy < thick; oy++ {
				if image.Pt(x0+ox, y0+oy).In(dst.Rect) {
					dst.SetRGBA(x0+ox, y0+oy, c)
				}
			}
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func label(dst *image.RGBA, x, y int, s string, c color.Color) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

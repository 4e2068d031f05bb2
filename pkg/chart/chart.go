// Package chart renders trend series as PNG images.
//
// Water consumption is drawn as one bar per day, inventory balance as a
// step line. Both charts share the frame: a title, a horizontal grid with
// value labels on the left and time labels along the bottom.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"math"
	"sync"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/trend"
)

var (
	// ErrNoData is returned for an empty series.
	ErrNoData = errors.New("no data to chart")
	// ErrTooSmall is returned when the margins leave no plot area.
	ErrTooSmall = errors.New("chart too small")
)

// Options controls the image.
type Options struct {
	Width  int
	Height int
	Title  string
	// Unit is appended to the largest value label, e.g. "L".
	Unit string
	// Color is the series color as a hex string.
	Color string
}

// DefaultOptions returns a 640x320 chart.
func DefaultOptions() Options {
	return Options{
		Width:  640,
		Height: 320,
		Color:  "#2b7bb9",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Width <= 0 {
		o.Width = d.Width
	}
	if o.Height <= 0 {
		o.Height = d.Height
	}
	if o.Color == "" {
		o.Color = d.Color
	}
	return o
}

const (
	marginLeft   = 52.0
	marginRight  = 16.0
	marginTop    = 36.0
	marginBottom = 32.0
	gridLines    = 4
)

var (
	fontOnce sync.Once
	fontData *truetype.Font
	fontErr  error
)

func face(size float64) (font.Face, error) {
	fontOnce.Do(func() {
		fontData, fontErr = truetype.Parse(goregular.TTF)
	})
	if fontErr != nil {
		return nil, fontErr
	}
	return truetype.NewFace(fontData, &truetype.Options{Size: size}), nil
}

// frame holds the plot area of one chart.
type frame struct {
	dc     *gg.Context
	x0, y0 float64 // bottom-left of the plot area
	w, h   float64
	max    float64
}

func newFrame(opts Options, maxValue float64) (*frame, error) {
	dc := gg.NewContext(opts.Width, opts.Height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	f := &frame{
		dc:  dc,
		x0:  marginLeft,
		y0:  float64(opts.Height) - marginBottom,
		w:   float64(opts.Width) - marginLeft - marginRight,
		h:   float64(opts.Height) - marginTop - marginBottom,
		max: niceMax(maxValue),
	}
	if f.w <= 0 || f.h <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooSmall, opts.Width, opts.Height)
	}

	ff, err := face(11)
	if err != nil {
		return nil, fmt.Errorf("loading font: %w", err)
	}
	dc.SetFontFace(ff)

	if opts.Title != "" {
		dc.SetRGB(0.1, 0.1, 0.1)
		dc.DrawStringAnchored(opts.Title, float64(opts.Width)/2, marginTop/2, 0.5, 0.5)
	}

	// Grid and value labels.
	dc.SetLineWidth(1)
	for i := 0; i <= gridLines; i++ {
		v := f.max * float64(i) / gridLines
		y := f.y(v)
		dc.SetRGB(0.88, 0.88, 0.88)
		dc.DrawLine(f.x0, y, f.x0+f.w, y)
		dc.Stroke()

		label := formatValue(v)
		if i == gridLines && opts.Unit != "" {
			label += " " + opts.Unit
		}
		dc.SetRGB(0.35, 0.35, 0.35)
		dc.DrawStringAnchored(label, f.x0-6, y, 1, 0.5)
	}
	return f, nil
}

func (f *frame) y(v float64) float64 {
	return f.y0 - f.h*v/f.max
}

func (f *frame) bottomLabel(s string, x float64) {
	f.dc.SetRGB(0.35, 0.35, 0.35)
	f.dc.DrawStringAnchored(s, x, f.y0+marginBottom/2, 0.5, 0.5)
}

func (f *frame) encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, f.dc.Image()); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderWater draws daily consumption as bars, oldest day on the left.
func RenderWater(points []trend.DayPoint, opts Options) ([]byte, error) {
	if len(points) == 0 {
		return nil, ErrNoData
	}
	opts = opts.withDefaults()

	var maxValue float64
	for _, p := range points {
		maxValue = math.Max(maxValue, p.Amount)
	}
	f, err := newFrame(opts, maxValue)
	if err != nil {
		return nil, err
	}

	slot := f.w / float64(len(points))
	bar := slot * 0.7
	for i, p := range points {
		cx := f.x0 + slot*(float64(i)+0.5)
		if p.Amount > 0 {
			top := f.y(p.Amount)
			f.dc.SetHexColor(opts.Color)
			f.dc.DrawRectangle(cx-bar/2, top, bar, f.y0-top)
			f.dc.Fill()
		}
		f.bottomLabel(shortDay(p.Day), cx)
	}
	return f.encode()
}

// RenderSteps draws a balance step series. Points must be in time order,
// as trend.Inventory returns them.
func RenderSteps(points []trend.StepPoint, opts Options) ([]byte, error) {
	if len(points) == 0 {
		return nil, ErrNoData
	}
	opts = opts.withDefaults()

	var maxValue float64
	for _, p := range points {
		maxValue = math.Max(maxValue, p.Balance)
	}
	f, err := newFrame(opts, maxValue)
	if err != nil {
		return nil, err
	}

	start, end := points[0].At, points[len(points)-1].At
	span := end.Sub(start)
	x := func(t time.Time) float64 {
		if span <= 0 {
			return f.x0 + f.w
		}
		return f.x0 + f.w*float64(t.Sub(start))/float64(span)
	}

	f.dc.SetHexColor(opts.Color)
	f.dc.SetLineWidth(2)
	f.dc.MoveTo(x(points[0].At), f.y(points[0].Balance))
	for _, p := range points[1:] {
		f.dc.LineTo(x(p.At), f.y(p.Balance))
	}
	f.dc.Stroke()

	for _, p := range points {
		if p.Kind == trend.PointEvent {
			f.dc.DrawCircle(x(p.At), f.y(p.Balance), 2.5)
			f.dc.Fill()
		}
	}

	f.bottomLabel(start.Format("01-02"), f.x0)
	f.bottomLabel(end.Format("01-02 15:04"), f.x0+f.w-24)
	return f.encode()
}

// niceMax rounds v up to a value that divides evenly into grid lines.
func niceMax(v float64) float64 {
	if !(v > 0) || math.IsInf(v, 0) {
		return 1
	}
	exp := math.Pow(10, math.Floor(math.Log10(v)))
	for _, m := range []float64{1, 2, 2.5, 5, 10} {
		if m*exp >= v {
			return m * exp
		}
	}
	return 10 * exp
}

func formatValue(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.1f", v)
}

// shortDay turns "2006-01-02" into "01-02".
func shortDay(day string) string {
	if len(day) == len("2006-01-02") {
		return day[5:]
	}
	return day
}

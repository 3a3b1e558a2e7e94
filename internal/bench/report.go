package bench

import (
	"encoding/csv"
	"errors"
	"fmt"
	"image/color"
	"io"
	"log"
	"math"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/Motorfan/gpso/internal/opt"
)

var (
	ErrWritingFile = errors.New("error writing file")

	plotLineColor  = color.RGBA{R: 37, G: 150, B: 190, A: 255}
	plotMarkerShap = draw.SquareGlyph{}
)

const (
	plotH = 4 * vg.Inch
	plotW = 6 * vg.Inch

	maxTicks = 10
)

// Write per-iteration records csv file to writer.
//
// There are four columns: "Iteration", "XI", "Selected Leaves", "Best Score"
func WriteIterationsToCSV(iters []opt.IterRecord, w io.Writer) (err error) {
	data := make([][]string, len(iters)+1)
	data[0] = []string{"Iteration", "XI", "Selected Leaves", "Best Score"}
	for i, rec := range iters {
		data[i+1] = []string{
			strconv.FormatInt(int64(i+1), 10),
			strconv.FormatFloat(rec.XI, 'f', -1, 64),
			strconv.FormatInt(int64(rec.NSelected), 10),
			strconv.FormatFloat(rec.LB, 'f', -1, 64),
		}
	}
	writer := csv.NewWriter(w)
	defer func() {
		writer.Flush()
		if err == nil {
			err = writer.Error()
		} else if writer.Error() != nil {
			log.Printf("error when flushing output csv, %s", writer.Error())
		}
	}()
	if err = writer.WriteAll(data); err != nil {
		err = fmt.Errorf("%w, %s", ErrWritingFile, err)
		return
	}
	return
}

// Write evaluated samples csv file to writer: one coordinate column per
// dimension followed by the objective value.
func WriteSamplesToCSV(samples []opt.Sample, w io.Writer) (err error) {
	if len(samples) == 0 {
		return fmt.Errorf("%w, no samples to write", ErrWritingFile)
	}
	dim := len(samples[0].X)
	header := make([]string, dim+1)
	for i := range dim {
		header[i] = fmt.Sprintf("x%d", i+1)
	}
	header[dim] = "f"
	data := make([][]string, len(samples)+1)
	data[0] = header
	for i, s := range samples {
		row := make([]string, dim+1)
		for j, v := range s.X {
			row[j] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		row[dim] = strconv.FormatFloat(s.F, 'f', -1, 64)
		data[i+1] = row
	}
	writer := csv.NewWriter(w)
	defer func() {
		writer.Flush()
		if err == nil {
			err = writer.Error()
		} else if writer.Error() != nil {
			log.Printf("error when flushing output csv, %s", writer.Error())
		}
	}()
	if err = writer.WriteAll(data); err != nil {
		err = fmt.Errorf("%w, %s", ErrWritingFile, err)
		return
	}
	return
}

// WriteConvergenceLineplot renders the best evaluated score per iteration.
func WriteConvergenceLineplot(iters []opt.IterRecord, prefix string) error {
	p := plot.New()
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "Best Evaluated Score"
	p.X.Min = 0
	p.X.Max = float64(len(iters))
	p.X.Tick.Marker = plot.TickerFunc(func(_, max float64) []plot.Tick {
		step := 1
		if int(max) > maxTicks {
			step = int(math.Ceil(max / maxTicks))
		}
		ticks := make([]plot.Tick, 0, int(max)/step+2)
		for i := range int(max) + 1 {
			if i%step == 0 {
				ticks = append(ticks, plot.Tick{Value: float64(i), Label: fmt.Sprintf("%d", i)})
			} else {
				ticks = append(ticks, plot.Tick{Value: float64(i)})
			}
		}
		return ticks
	})
	pts := make(plotter.XYs, len(iters))
	for i, rec := range iters {
		pts[i].X = float64(i + 1)
		pts[i].Y = rec.LB
	}
	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return err
	}
	line.Color = plotLineColor
	line.Dashes = []vg.Length{vg.Points(6), vg.Points(3)}
	points.Color = plotLineColor
	points.Shape = plotMarkerShap
	points.Radius = vg.Points(4)
	p.Add(line, points)
	return p.Save(plotW, plotH, fmt.Sprintf("%s.png", prefix))
}

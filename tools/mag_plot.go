package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/b3nn0/stratux-mag/datalog"
)

// projections splits logged samples into the three axis pairs. A well
// calibrated sensor rotated through all headings draws circles centred on 0.
func projections(samples []datalog.Sample) (xy, xz, yz plotter.XYs, bound float64) {
	xy = make(plotter.XYs, len(samples))
	xz = make(plotter.XYs, len(samples))
	yz = make(plotter.XYs, len(samples))
	for i, s := range samples {
		xy[i].X, xy[i].Y = s.X, s.Y
		xz[i].X, xz[i].Y = s.X, s.Z
		yz[i].X, yz[i].Y = s.Y, s.Z
		bound = math.Max(bound, math.Max(math.Abs(s.X), math.Max(math.Abs(s.Y), math.Abs(s.Z))))
	}
	return
}

func writePlot(samples []datalog.Sample, out string) error {
	p := plot.New()
	p.Title.Text = "Magnetometer Plot"
	p.X.Label.Text = "µT"
	p.Y.Label.Text = "µT"

	xy, xz, yz, bound := projections(samples)
	bound = math.Ceil(bound/10)*10 + 10
	p.X.Min, p.X.Max = -bound, bound
	p.Y.Min, p.Y.Max = -bound, bound

	if err := plotutil.AddScatters(p, "X/Y", xy, "X/Z", xz, "Y/Z", yz); err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 8*vg.Inch, out)
}

func main() {
	dbPath := flag.String("db", "mag.db", "sqlite sample log written by magmon")
	out := flag.String("out", "mag_xy.png", "output image")
	limit := flag.Int("n", 0, "plot only the last n samples, 0 for all")
	flag.Parse()

	l, err := datalog.Open(*dbPath)
	if err != nil {
		fmt.Printf("datalog.Open(): %s\n", err.Error())
		os.Exit(1)
	}
	defer l.Close()

	samples, err := l.Samples(*limit)
	if err != nil {
		fmt.Printf("Samples(): %s\n", err.Error())
		os.Exit(1)
	}
	if err = writePlot(samples, *out); err != nil {
		fmt.Printf("writePlot(): %s\n", err.Error())
		os.Exit(1)
	}
	fmt.Printf("%d samples plotted to %s\n", len(samples), *out)
}

package planarsim

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ExportConfig configures the streaming export of a run.
type ExportConfig struct {
	Filename  string
	OutputDir string // defaults to the package output directory
	CSV       bool
	JSON      bool
	Plot      bool // PNG plot of the first body's (x, y) trajectory
	Timestamp bool // append a timestamp to the file names
}

// IsUseless returns whether this configuration would not export anything.
func (c ExportConfig) IsUseless() bool {
	return !c.CSV && !c.JSON && !c.Plot
}

func (c ExportConfig) path(ext string) string {
	dir := c.OutputDir
	if dir == "" {
		dir = outputDir()
	}
	name := c.Filename
	if c.Timestamp {
		name += "-" + time.Now().Format("2006-01-02-15.04.05")
	}
	return fmt.Sprintf("%s/run-%s.%s", dir, name, ext)
}

// StreamSamples drains the sample channel into the configured files. It runs
// until the channel is closed, so the caller can stream while simulating; the
// driver closes the channel when the run completes.
func StreamSamples(conf ExportConfig, sampleChan <-chan Sample) {
	if conf.IsUseless() {
		for range sampleChan {
		}
		return
	}
	var csvFile *os.File
	var csvW *csv.Writer
	var collected []Sample
	defer func() {
		if csvW != nil {
			csvW.Flush()
			csvFile.Close()
		}
		if conf.JSON {
			writeJSON(conf, collected)
		}
		if conf.Plot {
			writePlot(conf, collected)
		}
	}()

	for smp := range sampleChan {
		if conf.JSON || conf.Plot {
			collected = append(collected, smp)
		}
		if !conf.CSV {
			continue
		}
		if csvW == nil {
			f, err := os.Create(conf.path("csv"))
			if err != nil {
				panic(err)
			}
			csvFile = f
			csvW = csv.NewWriter(f)
			header := []string{"t"}
			for i := range smp.Bodies {
				p := fmt.Sprintf("body%d_", i)
				header = append(header, p+"x", p+"y", p+"theta", p+"vx", p+"vy", p+"omega")
			}
			header = append(header, "Ek", "Ep", "Em")
			csvW.Write(header)
		}
		row := []string{fmtF(smp.T)}
		for _, b := range smp.Bodies {
			row = append(row, fmtF(b.X), fmtF(b.Y), fmtF(b.Theta), fmtF(b.VX), fmtF(b.VY), fmtF(b.Omega))
		}
		row = append(row, fmtF(smp.Energy.Ek), fmtF(smp.Energy.Ep), fmtF(smp.Energy.Em))
		csvW.Write(row)
	}
}

func fmtF(v float64) string {
	return strconv.FormatFloat(v, 'g', 12, 64)
}

func writeJSON(conf ExportConfig, samples []Sample) {
	f, err := os.Create(conf.path("json"))
	if err != nil {
		panic(err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	if err := enc.Encode(samples); err != nil {
		panic(err)
	}
	fmt.Printf("Saved trace to %s.\n", f.Name())
}

func writePlot(conf ExportConfig, samples []Sample) {
	if len(samples) == 0 || len(samples[0].Bodies) == 0 {
		return
	}
	p := plot.New()
	p.Title.Text = conf.Filename
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"
	pts := make(plotter.XYs, len(samples))
	for i, s := range samples {
		pts[i].X = s.Bodies[0].X
		pts[i].Y = s.Bodies[0].Y
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		panic(err)
	}
	p.Add(line, plotter.NewGrid())
	if err := p.Save(6*vg.Inch, 4*vg.Inch, conf.path("png")); err != nil {
		panic(err)
	}
}

// ExportTrace writes a completed trace in one call, for callers that did not
// stream during the run.
func ExportTrace(conf ExportConfig, tr *Trace) {
	ch := make(chan Sample, len(tr.Samples))
	for _, s := range tr.Samples {
		ch <- s
	}
	close(ch)
	StreamSamples(conf, ch)
}

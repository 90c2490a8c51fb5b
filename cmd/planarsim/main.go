package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/ChristopherRabotin/planarsim"
)

// This binary reads a contract document, runs the simulation and prints the
// acceptance report. With -verbose it logs the run; with -export it also
// writes the recorded samples to CSV, JSON and a PNG plot.

const defaultContract = "~~unset~~"

var (
	contractPath string
	exportName   string
	verbose      bool
)

func init() {
	flag.StringVar(&contractPath, "contract", defaultContract, "contract JSON or TOML file")
	flag.StringVar(&exportName, "export", "", "export the trace (CSV+JSON+plot) under this run name")
	flag.BoolVar(&verbose, "verbose", false, "log every event and warning")
}

func main() {
	flag.Parse()
	if contractPath == defaultContract {
		log.Fatal("no contract provided")
	}
	contract, err := planarsim.LoadContract(contractPath)
	if err != nil {
		log.Fatalf("%s", err)
	}

	opts := []planarsim.Option{}
	if verbose {
		opts = append(opts, planarsim.WithLogger(planarsim.SimLogInit(contractPath)))
	}
	if exportName != "" {
		opts = append(opts, planarsim.WithExport(planarsim.ExportConfig{
			Filename: exportName, CSV: true, JSON: true, Plot: true,
		}))
	}

	sim, err := planarsim.NewSim(*contract, opts...)
	if err != nil {
		log.Fatalf("%s", err)
	}
	result := sim.Run()
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	if result.Fatal != nil {
		fmt.Fprintf(os.Stderr, "fatal: %s (trace truncated)\n", result.Fatal)
	}

	report := planarsim.RunAcceptance(contract, result)
	for _, a := range report.PerAssertion {
		status := "PASS"
		if !a.Passed {
			status = "FAIL"
		}
		if a.HardError {
			status = "ERROR"
		}
		fmt.Printf("%-5s %-20s score=%.4f  %s\n", status, a.ID, a.Score, a.Message)
	}
	fmt.Printf("success=%v score=%.4f passed=%d/%d steps=%d rejects=%d\n",
		report.Success, report.OverallScore, report.Summary.Passed, report.Summary.Total,
		result.Trace.Stats.Steps, result.Trace.Stats.Rejects)
	if !report.Success {
		os.Exit(1)
	}
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// kreduce builds a reduction from a formula given in the command line, runs it on random data
// with the selected backend, and prints a report.
//
// Example:
//
//	kreduce -aliases="x=Vi(0,3);y=Vj(1,3);b=Vj(2,1);g=Pm(3,1)" -formula="GaussKernel(g,x,y,b)" \
//		-nx=100000 -ny=10000 -backend=cpu
//
// With -grad=x it runs instead the gradient of the (Sum) reduction with respect to the variable
// aliased as x, fed with a random gradient input.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kreduce/backends"
	_ "github.com/gomlx/kreduce/backends/default"
	"github.com/gomlx/kreduce/bridge"
	"github.com/gomlx/kreduce/formula"
	"github.com/gomlx/kreduce/reduction"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagAliases = flag.String("aliases", "x=Vi(0,3);y=Vj(1,3);b=Vj(2,1);g=Pm(3,1)",
		"Semicolon separated list of variable declarations, in the form name=Vi(index,dim), name=Vj(index,dim) or name=Pm(index,dim).")
	flagFormula = flag.String("formula", "GaussKernel(g,x,y,b)", "Formula to reduce, using the aliases declared with -aliases.")
	flagOp      = flag.String("op", "Sum", "Reduction operation: Sum, Max, Min, ArgMax, ArgMin or LogSumExp.")
	flagAxis    = flag.String("axis", "j", "Index reduced over: \"j\" produces one output row per i point, \"i\" one per j point.")
	flagDType   = flag.String("dtype", "float32", "Precision of the computation: float32 or float64.")
	flagNX      = flag.Int("nx", 10_000, "Number of points indexed by i.")
	flagNY      = flag.Int("ny", 10_000, "Number of points indexed by j.")
	flagBackend = flag.String("backend", "",
		fmt.Sprintf("Backend tags, e.g. \"cpu\" or \"gpu:2d:host\". Defaults to $%s or %q.",
			backends.KREDUCE_BACKEND, backends.DefaultConfig))
	flagGrad     = flag.String("grad", "", "If set, run the gradient of the reduction with respect to the variable with this alias.")
	flagSeed     = flag.Uint64("seed", 42, "Seed for the random data.")
	flagRows     = flag.Int("rows", 5, "Number of output rows to print.")
	flagProgress = flag.Bool("progress", true, "Display a progress bar while reducing.")
	flagColor    = flag.Bool("color", true, "Use colors in the report, if the terminal supports it.")
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() > 0 {
		klog.Errorf("Unexpected arguments %q. See 'kreduce -help'.", flag.Args())
		os.Exit(1)
	}
	setColorProfile(*flagColor)

	r, err := buildReduction()
	if err != nil {
		klog.Errorf("Failed to build reduction: %+v", err)
		os.Exit(1)
	}
	tags, err := selectedTags()
	if err != nil {
		klog.Errorf("%v", err)
		os.Exit(1)
	}
	switch r.Precision() {
	case dtypes.Float32:
		err = run[float32](r, tags)
	default:
		err = run[float64](r, tags)
	}
	if err != nil {
		klog.Errorf("Failed to run %s: %+v", r, err)
		os.Exit(1)
	}
}

func usage() {
	out := flag.CommandLine.Output()
	_, _ = fmt.Fprintf(out, "Usage of kreduce:\n")
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(out, "\nFormula functions: %s\n", strings.Join(formula.ParserFunctions(), ", "))
}

func selectedTags() (backends.Tags, error) {
	if *flagBackend == "" {
		return backends.DefaultTags()
	}
	return backends.ParseTags(*flagBackend)
}

func parseDType(name string) (dtypes.DType, error) {
	switch strings.ToLower(name) {
	case "float32", "f32":
		return dtypes.Float32, nil
	case "float64", "f64":
		return dtypes.Float64, nil
	}
	return dtypes.InvalidDType, errors.Errorf("unsupported -dtype=%q: use float32 or float64", name)
}

func parseAxis(name string) (reduction.Axis, error) {
	switch strings.ToLower(name) {
	case "j":
		return reduction.OverJ, nil
	case "i":
		return reduction.OverI, nil
	}
	return 0, errors.Errorf("invalid -axis=%q: use \"i\" or \"j\"", name)
}

// splitDeclarations splits the -aliases flag value.
func splitDeclarations(value string) []string {
	var declarations []string
	for _, decl := range strings.Split(value, ";") {
		if decl = strings.TrimSpace(decl); decl != "" {
			declarations = append(declarations, decl)
		}
	}
	return declarations
}

// buildReduction builds the reduction described by the flags, or its gradient if -grad is set.
func buildReduction() (*reduction.Reduction, error) {
	dtype, err := parseDType(*flagDType)
	if err != nil {
		return nil, err
	}
	axis, err := parseAxis(*flagAxis)
	if err != nil {
		return nil, err
	}
	op, err := reduction.OpFromString(*flagOp)
	if err != nil {
		return nil, err
	}
	return newReduction(splitDeclarations(*flagAliases), *flagFormula, op, axis, dtype, *flagGrad)
}

// newReduction parses the formula and builds its reduction. If grad is not empty, it returns
// instead the gradient with respect to the variable aliased as grad.
func newReduction(declarations []string, text string, op reduction.Op, axis reduction.Axis, dtype dtypes.DType,
	grad string) (r *reduction.Reduction, err error) {
	b := formula.NewBuilder("kreduce")
	aliases, err := formula.ParseAliases(b, declarations...)
	if err != nil {
		return nil, err
	}
	f, err := formula.Parse(b, text, aliases)
	if err != nil {
		return nil, err
	}
	err = exceptions.TryCatch[error](func() {
		r = reduction.New("kreduce", f, op, axis, dtype)
		if grad == "" {
			return
		}
		v, found := aliases[grad]
		if !found {
			exceptions.Panicf("-grad=%q is not one of the declared aliases", grad)
		}
		// The gradient input takes the next free variable index.
		var next int
		for _, declared := range b.Variables() {
			next = max(next, declared.VarIndex()+1)
		}
		gradIn := formula.Var(b, next, r.DimOut(), r.Axis().OutputCategory())
		r = r.Grad(v, gradIn)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// run generates the data, runs the reduction and prints the report.
func run[T formula.Float](r *reduction.Reduction, tags backends.Tags) error {
	nx, ny := *flagNX, *flagNY
	args := randomArrays[T](r, nx, ny, *flagSeed)
	var opts []backends.LaunchOption
	var bar *progressBar
	if *flagProgress {
		nOut := nx
		if r.Axis() == reduction.OverI {
			nOut = ny
		}
		bar = newProgressBar(nOut)
		opts = append(opts, backends.WithProgress(bar.Update))
	}
	start := time.Now()
	out, err := bridge.Genred(r, tags, args, opts...)
	elapsed := time.Since(start)
	if bar != nil {
		bar.Done()
	}
	if err != nil {
		return err
	}
	printReport(r, tags, nx, ny, out, elapsed, *flagRows)
	return nil
}

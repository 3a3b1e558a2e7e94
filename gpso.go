/*
GPSO is a global black-box maximizer combining a Gaussian-process surrogate
with upper-confidence-bound acquisition and a DIRECT-style ternary partition
of the search domain. This command drives the engine over a suite of
synthetic benchmark functions.

usage: gpso [flags]... <function>

positional arguments:

	<function>	benchmark function name, or "all" to run the whole suite

flags:

	-N int
	  	evaluation budget (default 50)
	-d int
	  	dimension, for functions that accept any (default 2)
	-eta float
	  	confidence parameter for the adaptive exploration schedule;
	  	overrides -vs when positive
	-it int
	  	conjugate-gradient iterations per hyperparameter training (default 100)
	-n int
	  	number of parallel processes ("all" only)
	-o string
	  	output prefix
	-save
	  	write a JSON snapshot of the final state
	-upc float
	  	hyperparameter retrain cadence constant (default 2*dim)
	-verb
	  	log per-iteration progress
	-vs float
	  	fixed exploration constant (default 3)
	-v	prints version number and exits
	-h	prints this message and exits

examples:

	gpso -o run -N 80 rastrigin
	gpso -n 4 all
*/
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Motorfan/gpso/internal/bench"
	"github.com/Motorfan/gpso/internal/opt"
)

const (
	Version      = "v0.1.0"
	ErrorMessage = "gpso encountered an error ::"
	TimeFormat   = "2006-01-02_15-04-05"

	DefaultBudget   = 50
	DefaultVarsigma = 3
)

type Args struct {
	prefix   string // output prefix
	function string // benchmark name or "all"
	dim      int
	budget   int
	nprocs   int
	save     bool
	opts     opt.Options
}

func Usage() {
	fmt.Fprint(flag.CommandLine.Output(), // nolint
		"usage: gpso [flags]... <function>\n",
		"\n",
		"positional arguments:\n\n",
		"  <function>\tbenchmark function name, or \"all\" to run the whole suite\n",
		"\n",
		"functions:\n\n",
		"  ", strings.Join(sortedNames(), " "), "\n",
		"\n",
		"flags:\n\n",
	)
	flag.PrintDefaults()
	fmt.Fprint(flag.CommandLine.Output(), // nolint
		"\n",
		"examples:\n\n",
		"\tgpso -o run -N 80 rastrigin\n",
		"\tgpso -n 4 all\n\n",
	)
}

func sortedNames() []string {
	names := bench.Names()
	slices.Sort(names)
	return names
}

func parseArgs() Args {
	flag.Usage = Usage
	budget := flag.Int("N", DefaultBudget, "evaluation budget")
	dim := flag.Int("d", 0, "dimension, for functions that accept any (default 2)")
	varsigma := flag.Float64("vs", DefaultVarsigma, "fixed exploration constant")
	eta := flag.Float64("eta", 0, "confidence parameter for the adaptive schedule; overrides -vs when positive")
	upc := flag.Float64("upc", 0, "hyperparameter retrain cadence constant (default 2*dim)")
	maxIter := flag.Int("it", opt.DefaultMaxIter, "conjugate-gradient iterations per hyperparameter training")
	prefix := flag.String("o", "", "output prefix")
	nprocs := flag.Int("n", 0, "number of parallel processes (\"all\" only)")
	save := flag.Bool("save", false, "write a JSON snapshot of the final state")
	verb := flag.Bool("verb", false, "log per-iteration progress")
	help := flag.Bool("h", false, "prints this message and exits")
	ver := flag.Bool("v", false, "prints version number and exits")
	flag.Parse()
	if *help {
		Usage()
		os.Exit(0)
	}
	if *ver {
		fmt.Printf("gpso %s\n", Version)
		os.Exit(0)
	}
	if flag.NArg() != 1 {
		parserError("one positional argument required: <function>")
	}
	vs, et := *varsigma, opt.DefaultEta
	if *eta > 0 {
		vs, et = 0, *eta
	}
	opts, err := opt.MakeOptions(0, et, vs, *upc, *maxIter, *verb)
	if err != nil {
		parserError(err.Error())
	}
	return Args{
		prefix:   *prefix,
		function: flag.Arg(0),
		dim:      *dim,
		budget:   *budget,
		nprocs:   setNProcs(*nprocs),
		save:     *save,
		opts:     *opts,
	}
}

// prints message, usage, and exits (status code 1)
func parserError(message string) {
	fmt.Fprintln(os.Stderr, message+"\n")
	Usage()
	os.Exit(1)
}

func setNProcs(nprocs int) int {
	maxProcs := runtime.GOMAXPROCS(0)
	switch {
	case nprocs > maxProcs:
		log.Printf("%d is greater than available processes (%d); limit set to %d\n", nprocs, maxProcs, maxProcs)
		return maxProcs
	case nprocs <= 0:
		return maxProcs
	default:
		return nprocs
	}
}

func defaultPrefix(function string) string {
	return fmt.Sprintf("gpso_%s_%s", function, time.Now().Local().Format(TimeFormat))
}

func main() {
	var exit int
	defer func() {
		os.Exit(exit)
	}()
	buf := &bytes.Buffer{} // capture pre logfile setup logging
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(io.MultiWriter(os.Stderr, buf))
	args := parseArgs()
	if args.prefix == "" {
		args.prefix = defaultPrefix(args.function)
		log.Printf("output prefix was not set, using \"%s\"", args.prefix)
	}
	if logf, err := os.Create(fmt.Sprintf("%s.log", args.prefix)); err == nil {
		logf.Write(buf.Bytes()) // nolint
		log.SetOutput(io.MultiWriter(os.Stderr, logf))
		defer func() {
			log.SetOutput(os.Stderr)
			_ = logf.Close()
		}()
	} else {
		log.Printf("failed to create log file %s.log, %s", args.prefix, err) // should continue to log to stderr
	}
	log.Printf("gpso %s", Version)
	log.Printf("invoked as: gpso %s", strings.Join(os.Args[1:], " "))
	if err := run(args); err != nil {
		log.Printf("%s %s", ErrorMessage, err)
		exit = 1
	}
}

func run(args Args) error {
	if args.function != "all" {
		return runFunction(args, args.function)
	}
	g := new(errgroup.Group)
	g.SetLimit(args.nprocs)
	for _, name := range sortedNames() {
		g.Go(func() error {
			return runFunction(args, name)
		})
	}
	return g.Wait()
}

func runFunction(args Args, name string) error {
	fn, dim, err := bench.Lookup(name, args.dim)
	if err != nil {
		return err
	}
	lower, upper := fn.Domain(dim)
	log.Printf("running %s in %d dimensions with budget %d", name, dim, args.budget)
	optimizer := opt.New(args.opts)
	result, err := optimizer.Run(fn.Eval, lower, upper, args.budget)
	if err != nil {
		return err
	}
	if result.Exhausted {
		log.Printf("%s terminated early with an exhausted frontier", name)
	}
	log.Printf("%s: best score %g at %v after %d evaluations",
		name, result.Solution.F, result.Solution.X, result.Evaluations)
	prefix := fmt.Sprintf("%s_%s", args.prefix, name)
	if err := writeCSV(fmt.Sprintf("%s_iters.csv", prefix), func(w io.Writer) error {
		return bench.WriteIterationsToCSV(optimizer.Iterations(), w)
	}); err != nil {
		return err
	}
	if err := writeCSV(fmt.Sprintf("%s_samples.csv", prefix), func(w io.Writer) error {
		return bench.WriteSamplesToCSV(result.Samples, w)
	}); err != nil {
		return err
	}
	if err := bench.WriteConvergenceLineplot(optimizer.Iterations(), prefix); err != nil {
		return err
	}
	if args.save {
		f, err := os.Create(fmt.Sprintf("%s.json", prefix))
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil {
				log.Printf("error closing %s.json, %s", prefix, closeErr)
			}
		}()
		if err := optimizer.Save(f); err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			log.Printf("error closing %s, %s", path, closeErr)
		}
	}()
	return write(f)
}

// Command ixzip creates, lists, extracts and queries indexed archives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strings"
	"text/tabwriter"

	"github.com/meigma/ixzip"
)

const usage = `usage: ixzip <command> [flags] <args>

commands:
  create  [flags] <archive> <dir>[=prefix]...
  list    [flags] <archive>
  extract [flags] <archive> <dest>
  lookup  [flags] <archive> <name>...
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// globalFlags are accepted by every command.
type globalFlags struct {
	verbose    bool
	cpuProfile string
	memProfile string
}

func (g *globalFlags) register(fs *flag.FlagSet) {
	fs.BoolVar(&g.verbose, "v", false, "log debug output")
	fs.StringVar(&g.cpuProfile, "cpuprofile", "", "write CPU profile to file")
	fs.StringVar(&g.memProfile, "memprofile", "", "write heap profile to file")
}

func (g *globalFlags) logger(stderr io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if g.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
}

// profile starts the requested profiles and returns a function that stops
// them.
func (g *globalFlags) profile(logger *slog.Logger) (func(), error) {
	stopCPU := func() {}
	if g.cpuProfile != "" {
		f, err := os.Create(g.cpuProfile)
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close() //nolint:errcheck // best-effort cleanup
			return nil, err
		}
		stopCPU = func() {
			pprof.StopCPUProfile()
			_ = f.Close() //nolint:errcheck // profile output is best-effort
		}
	}
	return func() {
		stopCPU()
		if g.memProfile == "" {
			return
		}
		runtime.GC()
		f, err := os.Create(g.memProfile)
		if err != nil {
			logger.Warn("heap profile", "error", err)
			return
		}
		defer f.Close()
		if err := pprof.WriteHeapProfile(f); err != nil {
			logger.Warn("heap profile", "error", err)
		}
	}, nil
}

var errUsage = errors.New("usage")

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	var cmd func(context.Context, []string, io.Writer, io.Writer) error
	switch args[0] {
	case "create":
		cmd = runCreate
	case "list":
		cmd = runList
	case "extract":
		cmd = runExtract
	case "lookup":
		cmd = runLookup
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "ixzip: unknown command %q\n%s", args[0], usage)
		return 2
	}
	err := cmd(ctx, args[1:], stdout, stderr)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		return 2
	default:
		fmt.Fprintf(stderr, "ixzip %s: %v\n", args[0], err)
		return 1
	}
}

func newFlagSet(name string, stderr io.Writer, g *globalFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	g.register(fs)
	return fs
}

func parseArgs(fs *flag.FlagSet, args []string, want int) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() < want {
		fmt.Fprint(fs.Output(), usage)
		return errUsage
	}
	return nil
}

func parseMethod(name string) (ixzip.Method, error) {
	switch strings.ToLower(name) {
	case "stored", "store", "none":
		return ixzip.MethodStored, nil
	case "deflate":
		return ixzip.MethodDeflate, nil
	case "zstd":
		return ixzip.MethodZstd, nil
	default:
		return 0, fmt.Errorf("unknown method %q", name)
	}
}

func parseDirEntries(name string) (ixzip.DirEntriesMode, error) {
	switch strings.ToLower(name) {
	case "none":
		return ixzip.DirEntriesNone, nil
	case "resources", "resource-only":
		return ixzip.DirEntriesResourceOnly, nil
	case "all":
		return ixzip.DirEntriesAll, nil
	default:
		return 0, fmt.Errorf("unknown directory entry mode %q", name)
	}
}

// parseSource splits "dir=prefix" into a Source.
func parseSource(arg string) ixzip.Source {
	dir, prefix, _ := strings.Cut(arg, "=")
	return ixzip.Source{Dir: dir, Prefix: prefix}
}

func runCreate(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var g globalFlags
	fs := newFlagSet("create", stderr, &g)
	method := fs.String("method", "deflate", "compression method: stored, deflate or zstd")
	level := fs.Int("level", -1, "compression level, -1 for the method default")
	dirs := fs.String("dirs", "resources", "directory entries: none, resources or all")
	workers := fs.Int("workers", 0, "compression workers, 0 for GOMAXPROCS")
	scratch := fs.String("scratch-dir", "", "directory for scratch files")
	noIndex := fs.Bool("no-index", false, "omit the index entry")
	strict := fs.Bool("strict", false, "fail if a source file changes while it is archived")
	maxFiles := fs.Int("max-files", ixzip.DefaultMaxFiles, "maximum number of files, negative for no limit")
	if err := parseArgs(fs, args, 2); err != nil {
		return err
	}

	m, err := parseMethod(*method)
	if err != nil {
		return err
	}
	mode, err := parseDirEntries(*dirs)
	if err != nil {
		return err
	}
	logger := g.logger(stderr)
	stop, err := g.profile(logger)
	if err != nil {
		return err
	}
	defer stop()

	opts := []ixzip.CreateOption{
		ixzip.CreateWithMethod(m),
		ixzip.CreateWithDirEntries(mode),
		ixzip.CreateWithScratchDir(*scratch),
		ixzip.CreateWithMaxFiles(*maxFiles),
		ixzip.CreateWithLogger(logger),
	}
	if *level >= 0 {
		opts = append(opts, ixzip.CreateWithLevel(*level))
	}
	if *workers > 0 {
		opts = append(opts, ixzip.CreateWithWorkers(*workers))
	}
	if *noIndex {
		opts = append(opts, ixzip.CreateWithoutIndex())
	}
	if *strict {
		opts = append(opts, ixzip.CreateWithChangeDetection(ixzip.ChangeDetectionStrict))
	}

	sources := make([]ixzip.Source, 0, fs.NArg()-1)
	for _, arg := range fs.Args()[1:] {
		sources = append(sources, parseSource(arg))
	}
	res, err := ixzip.Create(ctx, fs.Arg(0), sources, opts...)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %d files, %d directories, %d bytes, %s\n",
		res.Path, res.Files, res.Directories, res.Size, res.Digest)
	return nil
}

func runList(_ context.Context, args []string, stdout, stderr io.Writer) error {
	var g globalFlags
	fs := newFlagSet("list", stderr, &g)
	long := fs.Bool("l", false, "show method, sizes and offsets")
	if err := parseArgs(fs, args, 1); err != nil {
		return err
	}
	a, err := ixzip.Open(fs.Arg(0), ixzip.ReadWithLogger(g.logger(stderr)))
	if err != nil {
		return err
	}
	defer a.Close()

	if !*long {
		for _, e := range a.Entries() {
			fmt.Fprintln(stdout, e.Name)
		}
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "METHOD\tSIZE\tSTORED\tOFFSET\tCRC32\t NAME")
	for _, e := range a.Entries() {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%08x\t %s\n", e.Method, e.Size, e.CompressedSize, e.DataOffset, e.CRC32, e.Name)
	}
	return tw.Flush()
}

func runExtract(ctx context.Context, args []string, _, stderr io.Writer) error {
	var g globalFlags
	fs := newFlagSet("extract", stderr, &g)
	workers := fs.Int("workers", 0, "extraction workers, 0 for GOMAXPROCS")
	overwrite := fs.Bool("overwrite", false, "overwrite existing files")
	preserve := fs.Bool("preserve-mode", false, "apply recorded permission bits")
	if err := parseArgs(fs, args, 2); err != nil {
		return err
	}
	logger := g.logger(stderr)
	stop, err := g.profile(logger)
	if err != nil {
		return err
	}
	defer stop()

	return ixzip.Extract(ctx, fs.Arg(0), fs.Arg(1),
		ixzip.ExtractWithWorkers(*workers),
		ixzip.ExtractWithOverwrite(*overwrite),
		ixzip.ExtractWithPreserveMode(*preserve),
		ixzip.ExtractWithLogger(logger),
		ixzip.ExtractWithReadOptions(ixzip.ReadWithLogger(logger)),
	)
}

// runLookup resolves names through the index alone. Names ending in "/"
// are checked as class and resource packages instead.
func runLookup(_ context.Context, args []string, stdout, stderr io.Writer) error {
	var g globalFlags
	fs := newFlagSet("lookup", stderr, &g)
	if err := parseArgs(fs, args, 2); err != nil {
		return err
	}
	idx, err := ixzip.LoadIndex(fs.Arg(0), ixzip.ReadWithLogger(g.logger(stderr)))
	if err != nil {
		return err
	}

	missing := 0
	for _, name := range fs.Args()[1:] {
		if pkg, ok := strings.CutSuffix(name, "/"); ok {
			fmt.Fprintf(stdout, "%s\tclasses=%t resources=%t\n", name, idx.HasClassPackage(pkg), idx.HasResourcePackage(pkg))
			continue
		}
		e, ok := idx.LookupName(name)
		switch {
		case !ok:
			fmt.Fprintf(stdout, "%s\tnot found\n", name)
			missing++
		case e.IsDir():
			fmt.Fprintf(stdout, "%s\tdirectory\n", name)
		default:
			fmt.Fprintf(stdout, "%s\toffset=%d size=%d\n", name, e.Offset, e.Size)
		}
	}
	if missing > 0 {
		return fmt.Errorf("%d of %d names not found", missing, fs.NArg()-1)
	}
	return nil
}

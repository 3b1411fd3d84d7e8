// Command-line interface to the sliceview chunk scheduling server.
// Provides commands to serve, inspect precomputed volumes, and query a running server.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strings"
	"syscall"

	"github.com/blang/semver"

	"github.com/janelia-flyem/sliceview/server"
	"github.com/janelia-flyem/sliceview/storage/ngprecomputed"
	"github.com/janelia-flyem/sliceview/sv"
)

// Version of the sliceview server and API.
var Version = semver.MustParse("0.3.0")

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// Address for rpc communication.  Overrides the TOML setting when given.
	rpcAddress = flag.String("rpc", "", "")

	// Address for http communication.  Overrides the TOML setting when given.
	httpAddress = flag.String("http", "", "")

	// Profile CPU usage using standard gotest system.
	cpuprofile = flag.String("cpuprofile", "", "")

	// Number of logical CPUs to use.
	useCPU = flag.Int("numcpu", 0, "")
)

const helpMessage = `
sliceview schedules chunk downloads for 2D cross-sectional views of chunked volumes

Usage: sliceview [options] <command>

      -rpc        =string   Address for RPC communication.
      -http       =string   Address for HTTP communication.
      -cpuprofile =string   Write CPU profile to this file.
      -numcpu     =number   Number of logical CPUs to use.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Commands:

	about
	help
	serve  <config.toml>
	info   <volume URL>        e.g., gs://bucket/path or file:///data/volume
	view   <slice view id>     describe a slice view of a running server
	layer  <render layer id>   describe a render layer of a running server
`

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = func() {
		fmt.Print(helpMessage)
	}
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Args()[0]) == "help" {
		*showHelp = true
	}
	if *runVerbose {
		sv.SetLogMode(sv.DebugMode)
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}
	if *useCPU != 0 {
		runtime.GOMAXPROCS(*useCPU)
	}

	// Capture ctrl+c and other interrupts, then shut down gracefully.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := DoCommand(ctx, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// DoCommand serves as a switchboard for commands.
func DoCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("blank command")
	}
	switch args[0] {
	case "about":
		fmt.Printf("sliceview %s (%s)\n", Version, runtime.Version())
		return nil
	case "serve":
		if len(args) != 2 {
			return fmt.Errorf("serve requires a TOML configuration file")
		}
		return doServe(ctx, args[1])
	case "info":
		if len(args) != 2 {
			return fmt.Errorf("info requires a volume URL")
		}
		return doInfo(ctx, args[1])
	case "view", "layer":
		if len(args) != 2 {
			return fmt.Errorf("%s requires an id", args[0])
		}
		return doDescribe(args[0], args[1])
	default:
		return fmt.Errorf("unknown command %q; use 'sliceview help'", args[0])
	}
}

func doServe(ctx context.Context, configPath string) error {
	c, err := server.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if *httpAddress != "" {
		c.Server.HTTPAddress = *httpAddress
	}
	if *rpcAddress != "" {
		c.Server.RPCAddress = *rpcAddress
	}
	defer sv.Shutdown()
	sv.Infof("sliceview %s serving with configuration %q\n", Version, configPath)
	return server.Serve(ctx, c)
}

func doInfo(ctx context.Context, ref string) error {
	vol, err := ngprecomputed.Open(ctx, ref)
	if err != nil {
		return err
	}
	defer vol.Close()
	fmt.Printf("%s, %s voxels, %d scales\n", vol, vol.DataType(), vol.NumScales())
	for level, alternatives := range vol.Sources() {
		for _, src := range alternatives {
			spec := src.Spec()
			fmt.Printf("  %2d: %-16s voxel %s  chunk %s  bounds %s\n", level, src.Name(),
				sv.VectorString(spec.VoxelSize), spec.ChunkDataSize, spec.UpperVoxelBound)
		}
	}
	return nil
}

func doDescribe(kind, id string) error {
	addr := *rpcAddress
	if addr == "" {
		addr = server.DefaultRPCAddress
	}
	client := server.NewClient(addr)
	defer client.Close()

	var msg interface{} = server.DescribeView{View: id}
	if kind == "layer" {
		msg = server.DescribeLayer{Layer: id}
	}
	resp, err := client.Send(msg)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

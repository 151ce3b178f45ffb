// Command ionify is the thin CLI entry point wiring the Resolver, Graph
// Store, CAS, Watcher, Transform Engine, Worker Pool and HMR Coordinator
// into the three user-facing subcommands. Argument parsing follows the
// same go-flags Args-struct-plus-dispatch-map shape as please_js/main.go.
package main

import (
	"log"
	"os"

	flags "github.com/thought-machine/go-flags"

	"github.com/ionifyjs/ionify/internal/cmd/buildcmd"
	"github.com/ionifyjs/ionify/internal/cmd/devcmd"
	"github.com/ionifyjs/ionify/internal/cmd/gccmd"
	"github.com/ionifyjs/ionify/internal/logging"
)

var opts = struct {
	Usage string

	Verbose bool `short:"v" long:"verbose" description:"Enable debug logging"`

	Dev struct {
		Root     string `long:"root" default:"." description:"Project root to serve"`
		Port     int    `short:"p" long:"port" default:"3000" description:"HTTP port"`
		CASDir   string `long:"cas" default:".ionify/cas" description:"Content-addressable store directory"`
		GraphDir string `long:"graph" default:".ionify/graph.db" description:"Persistent graph store directory"`
		Refresh  bool   `long:"refresh" description:"Enable React Fast Refresh detection"`
	} `command:"dev" description:"Start the dev server with incremental transforms and HMR"`

	Build struct {
		Root     string   `long:"root" default:"." description:"Project root"`
		Entry    []string `short:"e" long:"entry" required:"true" description:"Entry point file(s)"`
		Out      string   `short:"o" long:"out" description:"Directory to write plan.json into"`
		CASDir   string   `long:"cas" default:".ionify/cas" description:"Content-addressable store directory"`
		GraphDir string   `long:"graph" default:".ionify/graph.db" description:"Persistent graph store directory"`
		Workers  int      `long:"workers" description:"Worker pool size (default: cpu_count-1)"`
	} `command:"build" description:"Walk the module graph and emit a build plan for an external planner"`

	GC struct {
		CASDir       string   `long:"cas" required:"true" description:"Content-addressable store directory"`
		KeepVersions []string `long:"keep-version" required:"true" description:"Version hash(es) to retain"`
	} `command:"gc" description:"Delete stale CAS version directories"`
}{
	Usage: `
ionify is a web build engine unifying dev serving and production bundling
behind one persistent module graph and content-addressable artifact store.

It provides these operations:
  - dev:   serve the project with incremental transforms and hot updates
  - build: walk the graph from the given entries and emit a build plan
  - gc:    delete CAS directories for versions no longer in use
`,
}

var subCommands = map[string]func() int{
	"dev": func() int {
		if err := devcmd.Run(devcmd.Args{
			Root:     opts.Dev.Root,
			Port:     opts.Dev.Port,
			CASDir:   opts.Dev.CASDir,
			GraphDir: opts.Dev.GraphDir,
			Refresh:  opts.Dev.Refresh,
		}); err != nil {
			log.Fatal(err)
		}
		return 0
	},
	"build": func() int {
		if err := buildcmd.Run(buildcmd.Args{
			Root:     opts.Build.Root,
			Entry:    opts.Build.Entry,
			Out:      opts.Build.Out,
			CASDir:   opts.Build.CASDir,
			GraphDir: opts.Build.GraphDir,
			Workers:  opts.Build.Workers,
		}); err != nil {
			log.Fatal(err)
		}
		return 0
	},
	"gc": func() int {
		if err := gccmd.Run(gccmd.Args{
			CASDir:       opts.GC.CASDir,
			KeepVersions: opts.GC.KeepVersions,
		}); err != nil {
			log.Fatal(err)
		}
		return 0
	},
}

func main() {
	p := flags.NewParser(&opts, flags.Default)
	cmd, err := p.Parse()
	if err != nil {
		os.Exit(1)
	}
	_ = cmd
	if p.Active == nil {
		p.WriteHelp(os.Stderr)
		os.Exit(1)
	}

	if _, err := logging.Init(opts.Verbose); err != nil {
		log.Fatal(err)
	}
	defer logging.Sync()

	os.Exit(subCommands[p.Active.Name]())
}

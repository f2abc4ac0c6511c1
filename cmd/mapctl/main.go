// Package main provides mapctl, a CLI for managing saved maps: listing,
// saving and loading snapshots, previewing layouts and running Lua scripts
// against a map.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/automapper/internal/config"
	"github.com/cory-johannsen/automapper/internal/mapper"
	"github.com/cory-johannsen/automapper/internal/observability"
	"github.com/cory-johannsen/automapper/internal/scripting"
	"github.com/cory-johannsen/automapper/internal/snapshot"
	"github.com/cory-johannsen/automapper/internal/storage/postgres"
	"github.com/cory-johannsen/automapper/internal/transfer"
)

const usage = `usage: mapctl [-config file] <command> [flags]

commands:
  list                                   list saved snapshots
  save   -name N [-description D] -in F  import a transfer file as snapshot N
  load   -name N [-out F]                export snapshot N (stdout when -out is empty)
  delete -name N                         delete snapshot N
  layout (-name N | -in F) [-start ID] [-width W] [-height H]
                                         print the screen layout around a room
  script -name N -scripts DIR [-hook H] [-save]
                                         run Lua hook H against snapshot N
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("mapctl: %v", err)
	}
}

// app bundles what every command needs.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	svc    *snapshot.Service
	out    io.Writer
}

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"list":   runList,
	"save":   runSave,
	"load":   runLoad,
	"delete": runDelete,
	"layout": runLayout,
	"script": runScript,
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("mapctl", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	configPath := fs.String("config", "", "path to configuration file (defaults and AUTOMAPPER_* env when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}
	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		fs.Usage()
		return fmt.Errorf("unknown command %q", fs.Arg(0))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	metrics := observability.NewMetrics()
	defer metrics.LogSummary(logger)

	a := &app{
		cfg:    cfg,
		logger: logger,
		svc:    snapshot.NewService(repo, logger, metrics),
		out:    out,
	}
	return cmd(ctx, a, fs.Args()[1:])
}

// openRepository builds the snapshot backend selected by cfg.
//
// Postcondition: Returns the repository and a release function, or an error.
func openRepository(ctx context.Context, cfg config.Config, logger *zap.Logger) (snapshot.Repository, func(), error) {
	switch cfg.Snapshots.Backend {
	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		return postgres.NewSnapshotRepository(pool.DB()), pool.Close, nil
	default:
		repo, err := snapshot.NewFileRepository(cfg.Snapshots.Dir)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() {}, nil
	}
}

func runList(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	metas := a.svc.List(ctx)
	if len(metas) == 0 {
		fmt.Fprintln(a.out, "no snapshots")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tROOMS\tUPDATED\tDESCRIPTION")
	for _, m := range metas {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", m.Name, m.RoomCount,
			time.Unix(m.UpdatedAt, 0).UTC().Format(time.RFC3339), m.Description)
	}
	return tw.Flush()
}

func runSave(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("save", flag.ContinueOnError)
	name := fs.String("name", "", "snapshot name (required)")
	description := fs.String("description", "", "snapshot description")
	in := fs.String("in", "", "transfer file to import (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *in == "" {
		return errors.New("save: -name and -in are required")
	}

	g, err := readTransferFile(a, *in)
	if err != nil {
		return err
	}
	if err := a.svc.Save(ctx, *name, *description, g); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "saved %s (%d rooms)\n", strings.TrimSpace(*name), len(g.Rooms))
	return nil
}

// readTransferFile decodes path and reports skipped records on the logger.
func readTransferFile(a *app, path string) (mapper.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return mapper.Graph{}, fmt.Errorf("reading %s: %w", path, err)
	}
	g, rep, err := transfer.Decode(data, transfer.FormatFromPath(path))
	if err != nil {
		return mapper.Graph{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	for _, r := range rep.Rejects {
		a.logger.Warn("skipped room record", zap.String("key", r.Key), zap.String("reason", r.Reason))
	}
	a.logger.Info("import finished", zap.String("file", path), zap.Stringer("report", rep))
	return g, nil
}

func runLoad(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	name := fs.String("name", "", "snapshot name (required)")
	out := fs.String("out", "", "output file; .yaml/.yml selects YAML (stdout JSON when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("load: -name is required")
	}

	g, err := a.svc.Load(ctx, *name)
	if err != nil {
		return err
	}
	data, err := transfer.Encode(g, transfer.FormatFromPath(*out))
	if err != nil {
		return err
	}
	if *out == "" {
		_, err = a.out.Write(data)
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", *out, err)
	}
	fmt.Fprintf(a.out, "exported %s to %s (%d rooms)\n", *name, *out, len(g.Rooms))
	return nil
}

func runDelete(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	name := fs.String("name", "", "snapshot name (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.svc.Delete(ctx, *name); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "deleted %s\n", strings.TrimSpace(*name))
	return nil
}

func runLayout(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("layout", flag.ContinueOnError)
	name := fs.String("name", "", "snapshot to lay out")
	in := fs.String("in", "", "transfer file to lay out")
	start := fs.String("start", "", "room to centre on (defaults to the current room)")
	width := fs.Float64("width", 0, "canvas width (defaults to layout.canvas_width)")
	height := fs.Float64("height", 0, "canvas height (defaults to layout.canvas_height)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var g mapper.Graph
	var err error
	switch {
	case *name != "" && *in == "":
		g, err = a.svc.Load(ctx, *name)
	case *in != "" && *name == "":
		g, err = readTransferFile(a, *in)
	default:
		return errors.New("layout: exactly one of -name or -in is required")
	}
	if err != nil {
		return err
	}

	startID := *start
	if startID == "" {
		startID = g.CurrentRoomID
	}
	if _, ok := g.Rooms[startID]; !ok {
		return fmt.Errorf("layout: start room %q not in map", startID)
	}

	p := layoutParams(a.cfg.Layout, *width, *height)
	placed := mapper.ComputeLayout(g.Rooms, startID, p)
	writeLayout(a.out, g, placed)
	return nil
}

func layoutParams(cfg config.LayoutConfig, width, height float64) mapper.LayoutParams {
	if width <= 0 {
		width = cfg.CanvasWidth
	}
	if height <= 0 {
		height = cfg.CanvasHeight
	}
	return mapper.LayoutParams{
		CenterX:      width / 2,
		CenterY:      height / 2,
		RoomSize:     cfg.RoomSize,
		RoomSpacing:  cfg.RoomSpacing,
		Scale:        cfg.Scale,
		CanvasWidth:  width,
		CanvasHeight: height,
	}
}

// writeLayout prints placed rooms top to bottom, left to right.
func writeLayout(w io.Writer, g mapper.Graph, placed map[string]mapper.ScreenInfo) {
	ids := make([]string, 0, len(placed))
	for id := range placed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := placed[ids[i]], placed[ids[j]]
		if a.GridY != b.GridY {
			return a.GridY < b.GridY
		}
		return a.GridX < b.GridX
	})

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GRID\tX\tY\tID\tNAME\tUNEXPLORED")
	for _, id := range ids {
		si := placed[id]
		r := g.Rooms[id]
		var open []string
		for _, d := range r.UnexploredExits() {
			open = append(open, d.Code())
		}
		fmt.Fprintf(tw, "%d,%d\t%.1f\t%.1f\t%s\t%s\t%s\n",
			si.GridX, si.GridY, si.X, si.Y, id, r.Name, strings.Join(open, " "))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%d of %d rooms placed\n", len(placed), len(g.Rooms))
}

func runScript(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("script", flag.ContinueOnError)
	name := fs.String("name", "", "snapshot to run against (required)")
	scripts := fs.String("scripts", "", "directory of *.lua files (required)")
	hook := fs.String("hook", "main", "global Lua function to call")
	save := fs.Bool("save", false, "save the modified map back under -name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *scripts == "" {
		return errors.New("script: -name and -scripts are required")
	}

	g, err := a.svc.Load(ctx, *name)
	if err != nil {
		return err
	}
	store := mapper.NewStore()
	res := store.ImportGraph(g)
	a.logger.Debug("map loaded into store", zap.Stringer("result", res))

	mgr := scripting.NewManager(store, a.logger)
	defer mgr.Close()
	if err := mgr.LoadGlobal(*scripts, a.cfg.Scripting.InstructionLimit); err != nil {
		return err
	}
	stop := mgr.Watch()
	ret, err := mgr.CallHook("", *hook)
	stop()
	if err != nil {
		return err
	}
	if ret != lua.LNil {
		fmt.Fprintln(a.out, ret.String())
	}

	if !*save {
		return nil
	}
	metas := a.svc.List(ctx)
	description := ""
	for _, m := range metas {
		if m.Name == strings.TrimSpace(*name) {
			description = m.Description
		}
	}
	return a.svc.Save(ctx, *name, description, store.Snapshot())
}

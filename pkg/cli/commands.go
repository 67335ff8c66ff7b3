package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/devicelab-dev/autosdk/pkg/click"
	"github.com/devicelab-dev/autosdk/pkg/core"
	"github.com/devicelab-dev/autosdk/pkg/event"
	"github.com/devicelab-dev/autosdk/pkg/gesture"
	"github.com/devicelab-dev/autosdk/pkg/jsengine"
	"github.com/devicelab-dev/autosdk/pkg/node"
	"github.com/devicelab-dev/autosdk/pkg/pagesource"
	"github.com/devicelab-dev/autosdk/pkg/selector"
)

// selectorFlags build a selector.Spec; find and click share them.
var selectorFlags = []cli.Flag{
	&cli.StringFlag{Name: "text", Usage: "Text equals"},
	&cli.StringFlag{Name: "text-contains", Usage: "Text contains"},
	&cli.StringFlag{Name: "text-matches", Usage: "Whole text matches the regular expression"},
	&cli.StringFlag{Name: "text-starts-with", Usage: "Text starts with"},
	&cli.StringFlag{Name: "class", Usage: "Class name equals"},
	&cli.StringFlag{Name: "id", Usage: "Resource id equals"},
	&cli.StringFlag{Name: "package", Usage: "Package name equals"},
	&cli.StringFlag{Name: "desc", Usage: "Content description equals"},
	&cli.BoolFlag{Name: "clickable", Usage: "Clickable flag equals (use --clickable=false to negate)"},
	&cli.BoolFlag{Name: "visible", Usage: "Only nodes visible to the user"},
	&cli.StringFlag{Name: "selector-file", Usage: "YAML selector; flags are applied on top"},
}

// selectorSpec reads the selector flags.
func selectorSpec(c *cli.Context) (selector.Spec, error) {
	var spec selector.Spec
	if path := c.String("selector-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return spec, fmt.Errorf("read selector: %w", err)
		}
		if spec, err = selector.ParseSpec(data); err != nil {
			return spec, err
		}
	}

	set := func(dst *string, flag string) {
		if c.IsSet(flag) {
			*dst = c.String(flag)
		}
	}
	set(&spec.Text, "text")
	set(&spec.TextContains, "text-contains")
	set(&spec.TextMatches, "text-matches")
	set(&spec.TextStartsWith, "text-starts-with")
	set(&spec.ClassName, "class")
	set(&spec.ID, "id")
	set(&spec.Package, "package")
	set(&spec.Description, "desc")
	if c.IsSet("clickable") {
		clickable := c.Bool("clickable")
		spec.Clickable = &clickable
	}
	if c.Bool("visible") {
		spec.Visible = true
	}
	return spec, nil
}

// query evaluates the selector flags against the host's current tree.
func query(c *cli.Context, s *session) ([]node.Node, selector.Spec, error) {
	spec, err := selectorSpec(c)
	if err != nil {
		return nil, spec, err
	}
	root := s.host.Root()
	if root == nil {
		return nil, spec, core.ErrNoTree
	}
	q := selector.New(root)
	if err := spec.Apply(q); err != nil {
		return nil, spec, err
	}
	return q.Evaluate(), spec, nil
}

var hierarchyCommand = &cli.Command{
	Name:  "hierarchy",
	Usage: "Print the accessibility tree of the foreground app",
	Description: `Print out the view hierarchy in JSON, CSV or UIAutomator XML format.

Examples:
  autosdk hierarchy
  autosdk hierarchy --compact
  autosdk hierarchy --xml > screen.xml`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "compact",
			Usage: "Output in CSV format",
		},
		&cli.BoolFlag{
			Name:  "xml",
			Usage: "Output a UIAutomator dump the mock driver can load",
		},
	},
	Action: runHierarchy,
}

func runHierarchy(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.close()

	root := s.host.Root()
	if root == nil {
		return core.ErrNoTree
	}

	w := c.App.Writer
	switch {
	case c.Bool("xml"):
		return pagesource.WriteXML(w, root)
	case c.Bool("compact"):
		return writeCSV(w, root)
	default:
		data, err := json.MarshalIndent(pagesource.Export(root), "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
}

var findCommand = &cli.Command{
	Name:  "find",
	Usage: "List the nodes matching a selector",
	Description: `Examples:
  autosdk find --class android.widget.Button
  autosdk find --text-matches "Sign (in|up)" --clickable`,
	Flags:  selectorFlags,
	Action: runFind,
}

func runFind(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.close()

	nodes, _, err := query(c, s)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		fmt.Fprintln(c.App.Writer, "No matching nodes")
		return nil
	}
	nodeTable(c.App.Writer, nodes)
	return nil
}

// Click strategies selectable on the command line.
const (
	strategyAction  = "action"
	strategyMatch   = "match"
	strategyGesture = "gesture"
	strategyLong    = "long"
)

var clickCommand = &cli.Command{
	Name:  "click",
	Usage: "Click the first node matching a selector",
	Description: `Strategies:
  action   semantic click on the node itself
  match    semantic click on the node or its nearest clickable ancestor
  gesture  tap a random point inside the node's bounds
  long     semantic long click

Examples:
  autosdk click --text OK
  autosdk click --text "Sign in" --strategy match
  autosdk click --id com.app:id/ok --strategy gesture`,
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:  "strategy",
			Usage: "action, match, gesture or long",
			Value: strategyAction,
		},
		&cli.IntFlag{
			Name:  "index",
			Usage: "Which match to click, in traversal order",
		},
	}, selectorFlags...),
	Action: runClick,
}

func runClick(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.close()

	nodes, spec, err := query(c, s)
	if err != nil {
		return err
	}
	idx := c.Int("index")
	if idx < 0 || idx >= len(nodes) {
		return fmt.Errorf("no node %d matching %s (%d found)", idx, spec.Describe(), len(nodes))
	}
	target := nodes[idx]

	var ok bool
	switch strategy := c.String("strategy"); strategy {
	case strategyAction:
		ok = click.ClickNode(s.host, target)
	case strategyMatch:
		ok = click.ClickMatchNode(s.host, target)
	case strategyLong:
		ok = click.LongClickNode(s.host, target)
	case strategyGesture:
		outcome, err := click.ClickAsync(s.host, target, s.clickOptions()...).Wait(c.Context)
		if err != nil {
			return err
		}
		ok = outcome == gesture.Completed
		fmt.Fprintf(c.App.Writer, "gesture %s\n", outcome)
	default:
		return fmt.Errorf("unknown strategy %q (use action, match, gesture or long)", strategy)
	}

	if !ok {
		return fmt.Errorf("click on %s was not performed", node.Describe(target))
	}
	fmt.Fprintf(c.App.Writer, "%s✓%s clicked %s\n", color(colorGreen), color(colorReset), node.Describe(target))
	return nil
}

// floatArgs parses exactly n positional float arguments.
func floatArgs(c *cli.Context, names ...string) ([]float64, error) {
	if c.NArg() != len(names) {
		return nil, fmt.Errorf("expected arguments: %s", strings.Join(names, " "))
	}
	out := make([]float64, len(names))
	for i, name := range names {
		v, err := strconv.ParseFloat(c.Args().Get(i), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", name, c.Args().Get(i), err)
		}
		out[i] = v
	}
	return out, nil
}

// submit sends spec and waits for the outcome.
func submit(c *cli.Context, s *session, spec gesture.Spec) error {
	outcome, err := gesture.Submit(s.host, spec).Wait(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s %s\n", spec, outcome)
	if outcome != gesture.Completed {
		return fmt.Errorf("gesture %s", outcome)
	}
	return nil
}

var tapCommand = &cli.Command{
	Name:      "tap",
	Usage:     "Tap a screen coordinate",
	ArgsUsage: "<x> <y>",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "duration",
			Usage: "Press duration (defaults to tap.durationMs)",
		},
	},
	Action: func(c *cli.Context) error {
		xy, err := floatArgs(c, "x", "y")
		if err != nil {
			return err
		}
		s, err := openSession(c)
		if err != nil {
			return err
		}
		defer s.close()

		d := s.cfg.TapDuration()
		if c.IsSet("duration") {
			d = c.Duration("duration")
		}
		return submit(c, s, gesture.Tap(xy[0], xy[1], d))
	},
}

var swipeCommand = &cli.Command{
	Name:      "swipe",
	Usage:     "Swipe between two screen coordinates",
	ArgsUsage: "<x1> <y1> <x2> <y2>",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "duration",
			Usage: "Stroke duration",
			Value: 300 * time.Millisecond,
		},
	},
	Action: func(c *cli.Context) error {
		p, err := floatArgs(c, "x1", "y1", "x2", "y2")
		if err != nil {
			return err
		}
		s, err := openSession(c)
		if err != nil {
			return err
		}
		defer s.close()

		from := gesture.Point{X: p[0], Y: p[1]}
		to := gesture.Point{X: p[2], Y: p[3]}
		return submit(c, s, gesture.Swipe(from, to, c.Duration("duration")))
	},
}

var watchCommand = &cli.Command{
	Name:  "watch",
	Usage: "Print accessibility events as the screen changes",
	Description: `Runs until interrupted or until --for elapses.

Examples:
  autosdk watch
  autosdk -d mock --hierarchy-file screen.xml watch --for 1m`,
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "for",
			Usage: "Stop after this long",
		},
	},
	Action: runWatch,
}

func runWatch(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()
	if d := c.Duration("for"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	return watchEvents(ctx, s, c.App.Writer)
}

// watchEvents runs the session watcher and prints every event until ctx
// ends. Stopping because ctx ended is not an error.
func watchEvents(ctx context.Context, s *session, w io.Writer) error {
	ch := make(chan event.Event, 64)
	id := s.events.Subscribe(func(e event.Event) {
		select {
		case ch <- e:
		default:
		}
	})
	defer s.events.Unsubscribe(id)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.watch(gctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case e := <-ch:
				fmt.Fprintf(w, "%s %s\n", e.Time.Format("15:04:05.000"), e)
			}
		}
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run an automation script",
	ArgsUsage: "<script.js>",
	Description: `Scripts see selector(), root(), click(), clickNode(), clickMatchNode(),
longClick(), tap(), swipe(), gesture(), sleep() and console.

Examples:
  autosdk run login.js
  autosdk run login.js --var user=alice --var pass=secret`,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "var",
			Usage: "Script variable as name=value (repeatable)",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Abort the script after this long",
		},
	},
	Action: runScript,
}

func runScript(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one script path")
	}
	vars := make(map[string]interface{})
	for _, kv := range c.StringSlice("var") {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return fmt.Errorf("invalid --var %q, want name=value", kv)
		}
		vars[name] = value
	}

	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.close()

	engine := jsengine.New(s.host, jsengine.Options{
		Click:       s.clickOptions(),
		TapDuration: s.cfg.TapDuration(),
		Stdout:      c.App.Writer,
	})
	defer engine.Close()
	engine.SetVariables(vars)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()
	if d := c.Duration("timeout"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	result, err := engine.RunFile(ctx, c.Args().First())
	if err != nil {
		return err
	}
	if result != nil {
		fmt.Fprintln(c.App.Writer, result)
	}
	return nil
}

var doctorCommand = &cli.Command{
	Name:  "doctor",
	Usage: "Check the accessibility service and permissions",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "permission",
			Usage: "Permission to check (repeatable)",
			Value: cli.NewStringSlice(core.PermissionSystemAlertWindow),
		},
		&cli.BoolFlag{
			Name:  "requested",
			Usage: "Also check every permission the app requests",
		},
	},
	Action: runDoctor,
}

// withRequested appends the permissions host's app requests to perms,
// skipping duplicates.
func withRequested(host core.Host, perms []string) ([]string, error) {
	lister, ok := host.(core.PermissionLister)
	if !ok {
		return nil, fmt.Errorf("host cannot list requested permissions")
	}
	requested, err := lister.RequestedPermissions()
	if err != nil {
		return nil, fmt.Errorf("requested permissions: %w", err)
	}
	out := slices.Clone(perms)
	for _, p := range requested {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func runDoctor(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.close()

	perms := c.StringSlice("permission")
	if c.Bool("requested") {
		if perms, err = withRequested(s.host, perms); err != nil {
			return err
		}
	}
	report := core.CheckCapabilities(s.host, perms...)

	t := table.NewWriter()
	t.SetOutputMirror(c.App.Writer)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Check", "OK"})
	t.AppendRow(table.Row{"service declared", status(report.ServiceDeclared)})
	t.AppendRow(table.Row{"service enabled", status(report.ServiceEnabled)})
	for _, p := range perms {
		t.AppendRow(table.Row{p, status(report.Permissions[p])})
	}
	t.Render()

	if !report.Ready() {
		return fmt.Errorf("automation service not ready")
	}
	return nil
}

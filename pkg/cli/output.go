package cli

import (
	"encoding/csv"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/devicelab-dev/autosdk/pkg/node"
	"github.com/devicelab-dev/autosdk/pkg/walker"
)

const (
	colorReset = "\033[0m"
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
	colorCyan  = "\033[36m"
)

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

// printSetupStep prints a progress line to stderr so stdout stays parseable.
func printSetupStep(msg string) {
	fmt.Fprintf(os.Stderr, "  %s⏳%s %s\n", color(colorCyan), color(colorReset), msg)
}

// printSetupSuccess prints a success message for setup
func printSetupSuccess(msg string) {
	fmt.Fprintf(os.Stderr, "  %s✓%s %s\n", color(colorGreen), color(colorReset), msg)
}

// status renders a pass/fail cell.
func status(ok bool) string {
	if ok {
		return color(colorGreen) + "yes" + color(colorReset)
	}
	return color(colorRed) + "no" + color(colorReset)
}

// isSocketInUse reports whether another process is serving socketPath.
// A stale socket file is removed.
func isSocketInUse(socketPath string) bool {
	if socketPath == "" {
		return false
	}
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return false
	}

	conn, err := net.DialTimeout("unix", socketPath, 500*time.Millisecond)
	if err != nil {
		os.Remove(socketPath)
		return false
	}
	conn.Close()
	return true
}

// nodeTable renders nodes as a table, one row per node.
func nodeTable(w io.Writer, nodes []node.Node) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Class", "Text", "ID", "Description", "Bounds", "Clickable"})
	for i, n := range nodes {
		text, _ := n.Text()
		id, _ := n.ResourceID()
		desc, _ := n.Description()
		t.AppendRow(table.Row{i, n.ClassName(), text, id, desc, n.Bounds().String(), n.Clickable()})
	}
	t.Render()
}

// writeCSV writes the tree under root, one row per node with its depth.
func writeCSV(w io.Writer, root node.Node) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"depth", "class", "text", "resource_id", "description", "package", "bounds", "clickable", "visible"}); err != nil {
		return err
	}
	base := walker.Depth(root)
	for n := range walker.All(root) {
		text, _ := n.Text()
		id, _ := n.ResourceID()
		desc, _ := n.Description()
		pkg, _ := n.PackageName()
		row := []string{
			strconv.Itoa(walker.Depth(n) - base - 1),
			n.ClassName(), text, id, desc, pkg,
			n.Bounds().String(),
			strconv.FormatBool(n.Clickable()),
			strconv.FormatBool(n.VisibleToUser()),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

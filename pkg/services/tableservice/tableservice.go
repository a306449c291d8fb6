// Package tableservice renders a Runtime's pushed snapshots as a
// human-readable, ANSI-colored console table, along with a humanized
// report of process-scope arena growth.
//
// go-pretty/v6/table renders the table itself, fatih/color styles the
// header row, and dustin/go-humanize formats the "3.2 MB" arena line.
package tableservice

import (
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/phroun/calipergo/pkg/caliper"
	"github.com/phroun/calipergo/pkg/snapshot"
)

// poolByter is satisfied by *arena.Pool[ctxtree.Node]; kept as a narrow
// interface so this package does not need to import the generic type.
type poolByter interface {
	Bytes() uint64
}

// Config controls table rendering.
type Config struct {
	// Color enables ANSI styling of the header row. Disable for
	// non-terminal output (CI logs, piped output).
	Color bool
}

// Service renders each push_snapshot's record as a table on Out.
type Service struct {
	out   io.Writer
	rt    *caliper.Runtime
	pool  poolByter
	color bool
}

// New constructs a Service that writes to out. rt and the process pool are
// bound when Register's ServiceFunc runs, so New can be called before a
// Runtime exists (the usual caliper.RegisterService ordering).
func New(out io.Writer, cfg Config) *Service {
	return &Service{out: out, color: cfg.Color}
}

// Register returns a caliper.ServiceFunc that binds s to rt and subscribes
// it to rt's event bus, suitable for caliper.RegisterService.
func (s *Service) Register() caliper.ServiceFunc {
	return func(rt *caliper.Runtime) {
		s.rt = rt
		s.pool = rt.Scopes().Process().Pool()
		rt.Events().OnProcessSnapshot(s.render)
	}
}

func (s *Service) render(_ snapshot.Entry, rec *snapshot.Record) {
	rows := flatten(s.rt, rec)

	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })

	tw := table.NewWriter()
	tw.SetOutputMirror(s.out)

	header := table.Row{"attribute", "value"}
	if s.color {
		bold := color.New(color.FgHiCyan, color.Bold).SprintFunc()
		header = table.Row{bold("attribute"), bold("value")}
	}

	tw.AppendHeader(header)

	for _, r := range rows {
		tw.AppendRow(table.Row{r.name, r.value})
	}

	tw.Render()

	if s.pool != nil {
		fmt.Fprintf(s.out, "arena: %s\n", humanize.Bytes(s.pool.Bytes()))
	}
}

type row struct {
	name  string
	value string
}

// flatten walks every entry in rec into (attribute name, rendered value)
// rows: node entries are expanded across their full ancestry so a merged
// key-attribute node still yields one row per original attribute.
func flatten(rt *caliper.Runtime, rec *snapshot.Record) []row {
	var rows []row

	for _, e := range rec.Entries() {
		if !e.IsNode() {
			rows = append(rows, row{name: nameFor(rt, e.AttributeID), value: e.Value.String()})

			continue
		}

		for n := e.Node; n != nil && !n.IsRoot(); n = n.Parent() {
			rows = append(rows, row{name: nameFor(rt, n.AttributeID()), value: n.Value().String()})
		}
	}

	return rows
}

func nameFor(rt *caliper.Runtime, attrID uint64) string {
	a := rt.GetAttributeByID(attrID)
	if !a.Valid() {
		return fmt.Sprintf("attr#%d", attrID)
	}

	return a.Name()
}

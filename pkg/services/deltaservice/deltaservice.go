// Package deltaservice renders consecutive snapshots as sorted
// "key=value" text blocks and diffs them line-by-line, surfacing only the
// attributes that changed between two triggers. Intended for interactive
// debugging of context state, the way a developer might diff two
// consecutive `cali-query` dumps by hand.
//
// Diffing is github.com/sergi/go-diff/diffmatchpatch in line mode:
// DiffLinesToChars maps each line to one rune, DiffMain diffs those, and
// DiffCharsToLines maps the result back, so every reported change is a
// whole line.
package deltaservice

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/phroun/calipergo/pkg/caliper"
	"github.com/phroun/calipergo/pkg/snapshot"
)

// Change describes one line that differs between two consecutive
// snapshots.
type Change struct {
	// Added is true when Line is new in the later snapshot, false when it
	// was present in the earlier one and is now gone.
	Added bool
	Line  string
}

// Service tracks the previous snapshot's rendered text and reports the
// line-level diff against each new one.
type Service struct {
	onChange func([]Change)

	mu   sync.Mutex
	prev string
	dmp  *diffmatchpatch.DiffMatchPatch
}

// New constructs a Service that calls onChange with the changed lines
// after every push_snapshot beyond the first (the first snapshot has no
// predecessor to diff against).
func New(onChange func([]Change)) *Service {
	return &Service{onChange: onChange, dmp: diffmatchpatch.New()}
}

// Register returns a caliper.ServiceFunc that subscribes s to rt's event
// bus, suitable for caliper.RegisterService.
func (s *Service) Register() caliper.ServiceFunc {
	return func(rt *caliper.Runtime) {
		rt.Events().OnProcessSnapshot(func(_ snapshot.Entry, rec *snapshot.Record) {
			s.observe(rt, rec)
		})
	}
}

func (s *Service) observe(rt *caliper.Runtime, rec *snapshot.Record) {
	text := render(rt, rec)

	s.mu.Lock()
	prev := s.prev
	s.prev = text
	s.mu.Unlock()

	if prev == "" {
		return
	}

	prevChars, textChars, lines := s.dmp.DiffLinesToChars(prev, text)
	diffs := s.dmp.DiffMain(prevChars, textChars, false)
	diffs = s.dmp.DiffCharsToLines(diffs, lines)

	changes := changesFromDiffs(diffs)
	if len(changes) > 0 && s.onChange != nil {
		s.onChange(changes)
	}
}

func changesFromDiffs(diffs []diffmatchpatch.Diff) []Change {
	var changes []Change

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			changes = append(changes, linesOf(d.Text, true)...)
		case diffmatchpatch.DiffDelete:
			changes = append(changes, linesOf(d.Text, false)...)
		case diffmatchpatch.DiffEqual:
			// unchanged region, nothing to report
		}
	}

	return changes
}

func linesOf(text string, added bool) []Change {
	var out []Change

	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}

		out = append(out, Change{Added: added, Line: line})
	}

	return out
}

// render flattens rec into sorted "name=value" lines, one per active
// (attribute, value) pair including node ancestry.
func render(rt *caliper.Runtime, rec *snapshot.Record) string {
	var lines []string

	for _, e := range rec.Entries() {
		if !e.IsNode() {
			lines = append(lines, fmt.Sprintf("%s=%s", nameFor(rt, e.AttributeID), e.Value.String()))

			continue
		}

		for n := e.Node; n != nil && !n.IsRoot(); n = n.Parent() {
			lines = append(lines, fmt.Sprintf("%s=%s", nameFor(rt, n.AttributeID()), n.Value().String()))
		}
	}

	sort.Strings(lines)

	return strings.Join(lines, "\n")
}

func nameFor(rt *caliper.Runtime, attrID uint64) string {
	a := rt.GetAttributeByID(attrID)
	if !a.Valid() {
		return fmt.Sprintf("attr#%d", attrID)
	}

	return a.Name()
}

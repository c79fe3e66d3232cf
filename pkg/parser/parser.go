// Package parser reads and writes the plain-text files around the engine:
// edge lists, compacted edge lists and singleton-spread tables. Files ending
// in .gz, or starting with the gzip magic bytes, are transparently
// (de)compressed.
package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/gilchrisn/budgeted-influence-service/pkg/models"
)

// ErrMalformedLine is returned for an edge-list or spread line that cannot be
// parsed. The error names the line number only, never its contents.
var ErrMalformedLine = errors.New("parser: malformed line")

// DefaultMaxNodes is the node-id bound applied when none is given.
const DefaultMaxNodes = 2_000_000

// GraphType controls how edge-list entries become arcs.
type GraphType int

const (
	// Directed adds one arc per entry.
	Directed GraphType = iota
	// Undirected adds both directions for every entry.
	Undirected
)

func (t GraphType) String() string {
	if t == Undirected {
		return "undirected"
	}
	return "directed"
}

// ParseGraphType accepts "directed" or "undirected" in any case.
func ParseGraphType(name string) (GraphType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "directed", "d":
		return Directed, nil
	case "undirected", "u":
		return Undirected, nil
	}
	return Directed, fmt.Errorf("unknown graph type %q", name)
}

// Edge is one edge-list entry.
type Edge struct {
	From   int
	To     int
	Weight float64
}

// LoadGraph reads an edge list from path and builds the graph. Node ids must
// be below maxNodes; a non-positive maxNodes means DefaultMaxNodes.
func LoadGraph(path string, typ GraphType, maxNodes int) (*models.Graph, error) {
	r, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	g, err := ReadGraph(r, typ, maxNodes)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return g, nil
}

// ReadGraph builds a graph from an edge list. The node count is one past the
// largest id seen, and every id must be below maxNodes.
func ReadGraph(r io.Reader, typ GraphType, maxNodes int) (*models.Graph, error) {
	edges, err := ParseEdgeList(r, maxNodes)
	if err != nil {
		return nil, err
	}

	g := models.NewGraph(0)
	for _, e := range edges {
		if err := g.AddEdge(e.From, e.To, e.Weight); err != nil {
			return nil, err
		}
		if typ == Undirected {
			if err := g.AddEdge(e.To, e.From, e.Weight); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// ParseEdgeList parses "u,v" or "u v" lines with an optional third weight
// column. Blank lines and lines starting with # or % are skipped, as is a
// non-numeric header on the first data line. An id at or above maxNodes
// fails with models.ErrNodeOutOfRange.
func ParseEdgeList(r io.Reader, maxNodes int) ([]Edge, error) {
	if maxNodes <= 0 {
		maxNodes = DefaultMaxNodes
	}
	var edges []Edge
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNo := 0
	seenData := false
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "%") {
			continue
		}

		parts := splitFields(line)
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: line %d", ErrMalformedLine, lineNo)
		}

		from, errFrom := strconv.Atoi(parts[0])
		to, errTo := strconv.Atoi(parts[1])
		if errFrom != nil || errTo != nil {
			if !seenData {
				seenData = true
				continue
			}
			return nil, fmt.Errorf("%w: line %d", ErrMalformedLine, lineNo)
		}
		seenData = true
		if from >= maxNodes || to >= maxNodes {
			return nil, fmt.Errorf("%w: line %d: id exceeds limit of %d nodes", models.ErrNodeOutOfRange, lineNo, maxNodes)
		}

		weight := 1.0
		if len(parts) >= 3 {
			w, err := strconv.ParseFloat(parts[2], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: bad weight", ErrMalformedLine, lineNo)
			}
			weight = w
		}

		edges = append(edges, Edge{From: from, To: to, Weight: weight})
	}

	return edges, scanner.Err()
}

// SaveEdges writes edges as "u,v" lines.
func SaveEdges(w io.Writer, edges []Edge) error {
	bw := bufio.NewWriter(w)
	for _, e := range edges {
		if _, err := fmt.Fprintf(bw, "%d,%d\n", e.From, e.To); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Compact renumbers the nodes of g that have at least one incident edge to
// 0..m-1 in id order and returns the renumbered arcs. index maps old ids to
// new ones, -1 for dropped nodes.
func Compact(g *models.Graph) (edges []Edge, index []int) {
	index = make([]int, g.NumNodes)
	next := 0
	for u := 0; u < g.NumNodes; u++ {
		if g.InDegree[u] == 0 && g.OutDegree[u] == 0 {
			index[u] = -1
			continue
		}
		index[u] = next
		next++
	}

	edges = make([]Edge, 0, g.NumEdges)
	for u := 0; u < g.NumNodes; u++ {
		for _, e := range g.Out[u] {
			edges = append(edges, Edge{From: index[u], To: index[e.To], Weight: 1})
		}
	}
	return edges, index
}

// CompactFile loads the directed edge list at in and writes its compacted
// form to out. maxNodes bounds the ids of in as for LoadGraph.
func CompactFile(in, out string, maxNodes int) (nodes int, err error) {
	g, err := LoadGraph(in, Directed, maxNodes)
	if err != nil {
		return 0, err
	}
	edges, index := Compact(g)
	for _, v := range index {
		if v >= 0 {
			nodes++
		}
	}

	w, err := createFile(out)
	if err != nil {
		return 0, err
	}
	if err := SaveEdges(w, edges); err != nil {
		w.Close()
		return 0, fmt.Errorf("failed to write %s: %w", out, err)
	}
	return nodes, w.Close()
}

func splitFields(line string) []string {
	return strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ';' || unicode.IsSpace(r)
	})
}

func checkFileExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", path)
	}
	return nil
}

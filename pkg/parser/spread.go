package parser

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadSpreads parses a singleton-spread table: line i holds the expected
// spread of node i.
func ReadSpreads(r io.Reader) ([]float64, error) {
	var spreads []float64
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d", ErrMalformedLine, lineNo)
		}
		spreads = append(spreads, v)
	}
	return spreads, scanner.Err()
}

// WriteSpreads writes one spread per line with ten significant digits.
func WriteSpreads(w io.Writer, spreads []float64) error {
	bw := bufio.NewWriter(w)
	for _, v := range spreads {
		if _, err := bw.WriteString(strconv.FormatFloat(v, 'g', 10, 64) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// LoadSpreads reads a singleton-spread file.
func LoadSpreads(path string) ([]float64, error) {
	r, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	spreads, err := ReadSpreads(r)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return spreads, nil
}

// SaveSpreads writes a singleton-spread file.
func SaveSpreads(path string, spreads []float64) error {
	w, err := createFile(path)
	if err != nil {
		return err
	}
	if err := WriteSpreads(w, spreads); err != nil {
		w.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return w.Close()
}

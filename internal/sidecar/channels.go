// Package sidecar reads the per-recording channels.tsv annotation file.
package sidecar

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ResectedDescription marks a channel over surgically removed tissue.
const ResectedDescription = "resected"

// ErrMissingColumn is returned when a required column is absent from the header.
var ErrMissingColumn = errors.New("missing column")

// Channel is one row of channels.tsv.
type Channel struct {
	Name        string
	Type        string
	Status      string
	Description string
}

// ReadChannels parses a tab-separated channels file. The "name" and
// "description" columns are required; "type" and "status" are optional.
func ReadChannels(path string) ([]Channel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open channels sidecar: %w", err)
	}
	defer f.Close()

	channels, err := parseChannels(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return channels, nil
}

func parseChannels(r io.Reader) ([]Channel, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, required := range []string{"name", "description"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w %q", ErrMissingColumn, required)
		}
	}

	field := func(row []string, col string) string {
		i, ok := cols[col]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var channels []Channel
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		channels = append(channels, Channel{
			Name:        field(row, "name"),
			Type:        field(row, "type"),
			Status:      field(row, "status"),
			Description: field(row, "description"),
		})
	}
	return channels, nil
}

// Resected returns the names of channels whose description is exactly "resected".
func Resected(channels []Channel) []string {
	var names []string
	for _, ch := range channels {
		if ch.Description == ResectedDescription {
			names = append(names, ch.Name)
		}
	}
	return names
}

// ResectedChannels reads path and returns its resected channel subset.
func ResectedChannels(path string) ([]string, error) {
	channels, err := ReadChannels(path)
	if err != nil {
		return nil, err
	}
	return Resected(channels), nil
}

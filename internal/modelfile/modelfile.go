// Package modelfile parses the runner model file for channel bindings.
//
// The relevant grammar fragment is the CLIENTSOCK block, whose lines have
// the shape
//
//	CHAN {IN|OUT} <channel-name> ... <port>
//
// Each port carries exactly one input channel and one output channel; the
// adapter listens on the port and maps lines to those channels.
package modelfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Binding is one port with its channel pair.
type Binding struct {
	Port       int
	InChannel  string
	OutChannel string
}

// Parse reads the model file at path and returns its bindings sorted by
// port.
func Parse(path string) ([]Binding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model file: %w", err)
	}
	defer f.Close()
	bindings, err := ParseReader(f)
	if err != nil {
		return nil, fmt.Errorf("model file %s: %w", path, err)
	}
	return bindings, nil
}

// ParseReader parses model text from r.
func ParseReader(r io.Reader) ([]Binding, error) {
	byPort := make(map[int]*Binding)
	inBlock := false
	lineNo := 0

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		if !inBlock {
			if containsToken(fields, "CLIENTSOCK") {
				inBlock = true
			}
			continue
		}
		if fields[0] == "ENDDEF" {
			inBlock = false
			continue
		}
		if fields[0] != "CHAN" {
			continue
		}
		if len(fields) < 4 {
			return nil, fmt.Errorf("line %d: short CHAN line %q", lineNo, line)
		}
		dir := fields[1]
		name := fields[2]
		port, err := strconv.Atoi(strings.Trim(fields[len(fields)-1], `"`))
		if err != nil {
			return nil, fmt.Errorf("line %d: CHAN line %q has no trailing port", lineNo, line)
		}

		b, ok := byPort[port]
		if !ok {
			b = &Binding{Port: port}
			byPort[port] = b
		}
		switch dir {
		case "IN":
			if b.InChannel != "" {
				return nil, fmt.Errorf("line %d: port %d has two input channels (%s, %s)", lineNo, port, b.InChannel, name)
			}
			b.InChannel = name
		case "OUT":
			if b.OutChannel != "" {
				return nil, fmt.Errorf("line %d: port %d has two output channels (%s, %s)", lineNo, port, b.OutChannel, name)
			}
			b.OutChannel = name
		default:
			return nil, fmt.Errorf("line %d: CHAN direction %q, want IN or OUT", lineNo, dir)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}

	out := make([]Binding, 0, len(byPort))
	for _, b := range byPort {
		if b.InChannel == "" || b.OutChannel == "" {
			return nil, fmt.Errorf("port %d is missing its %s channel", b.Port, missingDirection(b))
		}
		out = append(out, *b)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no CLIENTSOCK channel bindings found")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out, nil
}

func missingDirection(b *Binding) string {
	if b.InChannel == "" {
		return "input"
	}
	return "output"
}

func containsToken(fields []string, token string) bool {
	for _, f := range fields {
		if f == token {
			return true
		}
	}
	return false
}

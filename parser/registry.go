package parser

import "fmt"

// Registry maps each FileType to the parser that handles it.
type Registry struct {
	parsers map[FileType]Parser
}

// NewRegistry returns a registry holding the built-in parsers.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[FileType]Parser)}
	for _, p := range []Parser{&TextParser{}, &DOCXParser{}, &PDFParser{}, &XLSXParser{}} {
		for _, t := range p.SupportedFormats() {
			r.parsers[t] = p
		}
	}
	return r
}

// Get returns the parser for t.
func (r *Registry) Get(t FileType) (Parser, error) {
	p, ok := r.parsers[t]
	if !ok {
		return nil, fmt.Errorf("no parser for format: %s", t)
	}
	return p, nil
}

// Register installs p for t, replacing any previous parser.
func (r *Registry) Register(t FileType, p Parser) {
	r.parsers[t] = p
}

package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Chunk is one parsed piece of a source file, ordered by Ordinal.
type Chunk struct {
	Content   string
	ChunkType string
	Ordinal   int
	Metadata  map[string]any
}

// Parser extracts chunks from a local file. Implementations are selected by
// file suffix; a missing parser is not an error, the file row simply gets no
// chunks.
type Parser interface {
	// SupportedExtensions lists lowercase extensions including the dot.
	SupportedExtensions() []string
	// Parse reads the file at localPath and returns its chunks in order.
	Parse(localPath string) ([]Chunk, error)
}

// ParserRegistry maps file extensions to parsers. Populated once at startup.
type ParserRegistry struct {
	byExt map[string]Parser
}

// NewParserRegistry returns an empty registry.
func NewParserRegistry() *ParserRegistry {
	return &ParserRegistry{byExt: make(map[string]Parser)}
}

// Register adds a parser for all its supported extensions. A duplicate
// extension panics: two parsers for one suffix is a wiring bug.
func (r *ParserRegistry) Register(p Parser) {
	for _, ext := range p.SupportedExtensions() {
		ext = strings.ToLower(ext)
		if _, dup := r.byExt[ext]; dup {
			panic(fmt.Sprintf("worker: duplicate parser for %s", ext))
		}
		r.byExt[ext] = p
	}
}

// Get returns the parser for a path's extension, if any.
func (r *ParserRegistry) Get(path string) (Parser, bool) {
	p, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return p, ok
}

// Extensions returns every registered extension.
func (r *ParserRegistry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for e := range r.byExt {
		exts = append(exts, e)
	}
	return exts
}

// NewDefaultParserRegistry registers the built-in parsers.
func NewDefaultParserRegistry() *ParserRegistry {
	r := NewParserRegistry()
	r.Register(NewTextParser())
	return r
}

// ── text parser ───────────────────────────────────────────────────────────

// maxChunkRunes bounds a text chunk. Paragraphs merge until the next one
// would cross the bound; oversized single paragraphs are split hard.
const maxChunkRunes = 4000

// TextParser chunks plain-text formats paragraph-wise.
type TextParser struct{}

// NewTextParser returns the plain-text parser.
func NewTextParser() *TextParser { return &TextParser{} }

func (p *TextParser) SupportedExtensions() []string {
	return []string{".txt", ".md", ".markdown", ".log", ".csv", ".html", ".htm"}
}

func (p *TextParser) Parse(localPath string) ([]Chunk, error) {
	raw, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", localPath, err)
	}

	pieces := splitText(string(raw), maxChunkRunes)
	chunks := make([]Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = Chunk{
			Content:   piece,
			ChunkType: "text",
			Ordinal:   i,
			Metadata:  map[string]any{"chars": len(piece)},
		}
	}
	return chunks, nil
}

// splitText merges paragraphs into chunks no longer than maxRunes.
func splitText(text string, maxRunes int) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	paragraphs := strings.Split(text, "\n\n")

	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		// A single paragraph larger than the bound is split on rune count.
		for len([]rune(para)) > maxRunes {
			flush()
			runes := []rune(para)
			out = append(out, strings.TrimSpace(string(runes[:maxRunes])))
			para = strings.TrimSpace(string(runes[maxRunes:]))
		}
		if para == "" {
			continue
		}

		if cur.Len() > 0 && len([]rune(cur.String()))+len([]rune(para))+2 > maxRunes {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	flush()
	return out
}

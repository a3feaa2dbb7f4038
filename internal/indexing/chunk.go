package indexing

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/ternarybob/quaero/internal/jobqueue"
)

// DefaultChunkSize and DefaultChunkOverlap mirror the original system's
// RecursiveCharacterTextSplitter(chunk_size=500, chunk_overlap=100) defaults
// (original_source/src/chunking/service.py), so chunk boundaries behave the
// same way a reader of that system would expect.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 100
)

// Chunker splits documents into overlapping chunks, using goldmark to chunk
// along markdown block boundaries (headings/paragraphs) when the content
// parses as structured markdown, and falling back to a fixed-size/overlap
// character splitter otherwise.
type Chunker struct {
	ChunkSize    int
	ChunkOverlap int
}

// NewChunker builds a Chunker using the default size/overlap.
func NewChunker() *Chunker {
	return &Chunker{ChunkSize: DefaultChunkSize, ChunkOverlap: DefaultChunkOverlap}
}

var _ jobqueue.Chunker = (*Chunker)(nil)

// Chunk splits every document into one or more jobqueue.Chunk, copying its
// Metadata onto each resulting chunk.
func (c *Chunker) Chunk(documents []jobqueue.Document) []jobqueue.Chunk {
	var chunks []jobqueue.Chunk
	for _, doc := range documents {
		for _, piece := range c.splitMarkdown(doc.Content) {
			md := make(map[string]any, len(doc.Metadata))
			for k, v := range doc.Metadata {
				md[k] = v
			}
			chunks = append(chunks, jobqueue.Chunk{Content: piece, Metadata: md})
		}
	}
	return chunks
}

// splitMarkdown chunks content along goldmark block boundaries (so a
// heading/paragraph/list item is never split mid-sentence when it already
// fits within ChunkSize), falling back to fixed-size/overlap splitting for
// any block that's still too long, or when content doesn't parse into any
// blocks at all (e.g. plain unstructured text).
func (c *Chunker) splitMarkdown(content string) []string {
	blocks := markdownBlocks(content)
	if len(blocks) == 0 {
		return c.splitFixed(content)
	}

	var out []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, strings.TrimSpace(buf.String()))
			buf.Reset()
		}
	}
	for _, block := range blocks {
		if len(block) > c.ChunkSize {
			flush()
			out = append(out, c.splitFixed(block)...)
			continue
		}
		if buf.Len()+len(block) > c.ChunkSize {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(block)
	}
	flush()
	return out
}

// markdownBlocks returns the raw source text of every top-level markdown
// block (paragraph, heading, list item, etc) in content, in document order.
func markdownBlocks(content string) []string {
	src := []byte(content)
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(src))

	var blocks []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		block := blockText(n, src)
		if strings.TrimSpace(block) != "" {
			blocks = append(blocks, strings.TrimSpace(block))
		}
	}
	return blocks
}

// blockText concatenates the source text of every ast.KindText leaf under n,
// in document order, separated by spaces — enough to recover a block's
// plain-text content regardless of its inline structure (emphasis, links).
func blockText(n ast.Node, src []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch child.Kind() {
		case ast.KindText:
			t := child.(*ast.Text)
			sb.Write(t.Text(src))
			sb.WriteByte(' ')
		case ast.KindCodeBlock, ast.KindFencedCodeBlock:
			lines := child.Lines()
			for i := 0; i < lines.Len(); i++ {
				sb.Write(lines.At(i).Value(src))
			}
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}

// splitFixed splits text into ChunkSize-rune windows overlapping by
// ChunkOverlap runes, the same numeric behavior as the original system's
// RecursiveCharacterTextSplitter fallback.
func (c *Chunker) splitFixed(s string) []string {
	runes := []rune(s)
	if len(runes) == 0 {
		return nil
	}
	size := c.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	overlap := c.ChunkOverlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var out []string
	step := size - overlap
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, strings.TrimSpace(string(runes[start:end])))
		if end == len(runes) {
			break
		}
	}
	return out
}

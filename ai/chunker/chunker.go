// Package chunker splits documents and tabular data into chunks for
// embedding.
package chunker

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Strategy names a chunking strategy.
type Strategy string

const (
	FixedSize Strategy = "fixed_size"
	Sentence  Strategy = "sentence"
	Paragraph Strategy = "paragraph"
	Semantic  Strategy = "semantic"
	RowBased  Strategy = "row_based"
)

// Config controls how input is split.
type Config struct {
	Strategy Strategy
	// ChunkSize is characters for text strategies and rows for
	// RowBased.
	ChunkSize int
	// Overlap is the number of trailing units repeated at the
	// start of the next chunk. Must be smaller than ChunkSize.
	Overlap int
	// SemanticThreshold is the cosine-similarity floor for the
	// semantic strategy. Zero means DefaultSemanticThreshold.
	SemanticThreshold float32
}

// Chunk is one unit of chunked input. Start and End are unit offsets
// into the source (characters for text, rows for tabular data); End
// is inclusive.
type Chunk struct {
	Text     string
	Start    int
	End      int
	Metadata map[string]string
}

// Chunker splits text into chunks per its config.
type Chunker struct {
	cfg Config
}

// New validates the config and creates a Chunker.
func New(cfg Config) (*Chunker, error) {
	switch cfg.Strategy {
	case FixedSize, Sentence, Paragraph, Semantic, RowBased:
	default:
		return nil, errors.Errorf("chunker: unknown strategy %q", cfg.Strategy)
	}
	if cfg.ChunkSize <= 0 {
		return nil, errors.Errorf("chunker: chunk size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.ChunkSize {
		return nil, errors.Errorf("chunker: overlap %d must be in [0, %d)", cfg.Overlap, cfg.ChunkSize)
	}
	return &Chunker{cfg: cfg}, nil
}

// ChunkText splits free text. Empty or whitespace-only input yields no
// chunks.
func (c *Chunker) ChunkText(text string) ([]Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	switch c.cfg.Strategy {
	case FixedSize:
		return c.chunkFixed(text), nil
	case Sentence:
		return c.chunkUnits(splitSentences(text)), nil
	case Paragraph:
		return c.chunkUnits(splitParagraphs(text)), nil
	case Semantic:
		// Without an embedder, paragraph breaks stand in for
		// topic boundaries. ChunkSemantic does the real grouping.
		return c.chunkUnits(splitParagraphs(text)), nil
	case RowBased:
		return nil, errors.New("chunker: row_based strategy requires ChunkRows")
	default:
		return nil, errors.Errorf("chunker: unknown strategy %q", c.cfg.Strategy)
	}
}

// ChunkRows splits tabular data by whole rows. A row is never split
// across chunks. The header is not a row; it is repeated into every
// chunk's text and recorded in metadata so each chunk is
// self-describing.
func (c *Chunker) ChunkRows(header []string, rows [][]string) ([]Chunk, error) {
	if c.cfg.Strategy != RowBased {
		return nil, errors.Errorf("chunker: ChunkRows requires row_based strategy, have %q", c.cfg.Strategy)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	headerLine := strings.Join(header, ",")
	step := c.cfg.ChunkSize - c.cfg.Overlap

	var chunks []Chunk
	for start := 0; start < len(rows); start += step {
		end := start + c.cfg.ChunkSize
		if end > len(rows) {
			end = len(rows)
		}

		var sb strings.Builder
		if headerLine != "" {
			sb.WriteString(headerLine)
			sb.WriteByte('\n')
		}
		for _, row := range rows[start:end] {
			sb.WriteString(strings.Join(row, ","))
			sb.WriteByte('\n')
		}

		chunks = append(chunks, Chunk{
			Text:  sb.String(),
			Start: start,
			End:   end - 1,
			Metadata: map[string]string{
				"header":  headerLine,
				"rows":    fmt.Sprintf("%d", end-start),
				"columns": fmt.Sprintf("%d", len(header)),
			},
		})
	}
	return chunks, nil
}

// chunkFixed slices text into fixed-size character windows with
// overlap. Offsets are rune-based so multi-byte text does not split
// mid-character.
func (c *Chunker) chunkFixed(text string) []Chunk {
	runes := []rune(text)
	step := c.cfg.ChunkSize - c.cfg.Overlap

	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := start + c.cfg.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{
			Text:  string(runes[start:end]),
			Start: start,
			End:   end - 1,
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// chunkUnits greedily packs pre-split units (sentences or paragraphs)
// into chunks up to ChunkSize characters. A single unit longer than
// ChunkSize becomes its own oversized chunk rather than being split.
func (c *Chunker) chunkUnits(units []unit) []Chunk {
	var chunks []Chunk
	var cur []unit
	var curLen int

	flush := func() {
		if len(cur) == 0 {
			return
		}
		var sb strings.Builder
		for i, u := range cur {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(u.text)
		}
		chunks = append(chunks, Chunk{
			Text:  sb.String(),
			Start: cur[0].start,
			End:   cur[len(cur)-1].end,
		})
		cur = nil
		curLen = 0
	}

	for _, u := range units {
		n := len([]rune(u.text))
		if curLen > 0 && curLen+n > c.cfg.ChunkSize {
			flush()
		}
		cur = append(cur, u)
		curLen += n
	}
	flush()
	return chunks
}

type unit struct {
	text  string
	start int
	end   int
}

// splitSentences splits on sentence terminators followed by
// whitespace. Offsets are rune positions in the original text.
func splitSentences(text string) []unit {
	runes := []rune(text)
	var units []unit
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		atEnd := i == len(runes)-1
		isTerm := r == '.' || r == '!' || r == '?'
		if isTerm && !atEnd && isSpace(runes[i+1]) || atEnd {
			u := strings.TrimSpace(string(runes[start : i+1]))
			if u != "" {
				units = append(units, unit{text: u, start: start, end: i})
			}
			start = i + 1
		}
	}
	return units
}

// splitParagraphs splits on blank lines.
func splitParagraphs(text string) []unit {
	runes := []rune(text)
	var units []unit
	start := 0
	i := 0
	for i < len(runes) {
		// A paragraph break is a newline followed by an
		// optionally-whitespace-padded second newline.
		if runes[i] == '\n' {
			j := i + 1
			for j < len(runes) && (runes[j] == ' ' || runes[j] == '\t' || runes[j] == '\r') {
				j++
			}
			if j < len(runes) && runes[j] == '\n' {
				u := strings.TrimSpace(string(runes[start:i]))
				if u != "" {
					units = append(units, unit{text: u, start: start, end: i - 1})
				}
				start = j + 1
				i = j + 1
				continue
			}
		}
		i++
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		units = append(units, unit{text: tail, start: start, end: len(runes) - 1})
	}
	return units
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}

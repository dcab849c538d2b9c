package chunker

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/tejulabs/corpora/internal/core"
)

const (
	// cl100k_base matches the tokenizers used by current embedding models.
	encodingName = "cl100k_base"

	minChunkSize = 100
	// overlap is clamped so the window always advances by at least this much.
	minAdvance = 50
)

// Chunk is one token-and-character-addressed slice of a source text.
// Token offsets are half-open [TokenStart, TokenEnd); char offsets are byte
// offsets into the original string.
type Chunk struct {
	Content    string `json:"content"`
	TokenStart int    `json:"tokenStart"`
	TokenEnd   int    `json:"tokenEnd"`
	CharStart  int    `json:"charStart"`
	CharEnd    int    `json:"charEnd"`
	Index      int    `json:"-"`
	Total      int    `json:"-"`
}

// Chunker splits text into overlapping token windows using a real tokenizer,
// so chunk boundaries line up with what the embedding model actually sees.
type Chunker struct {
	enc *tiktoken.Tiktoken
}

func New() (*Chunker, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", encodingName, err)
	}
	return &Chunker{enc: enc}, nil
}

// Chunk tokenizes text once and emits windows of chunkSize tokens advancing
// by chunkSize-overlap. chunkSize is clamped to >= 100 and overlap to
// [0, chunkSize-50]. Character offsets are recovered by locating each
// decoded window's first occurrence in the source; for repeated substrings
// that can pick an earlier occurrence. First match wins, deliberately.
func (c *Chunker) Chunk(text string, chunkSize, overlap int) ([]Chunk, error) {
	if chunkSize < minChunkSize {
		chunkSize = minChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap > chunkSize-minAdvance {
		overlap = chunkSize - minAdvance
	}

	if strings.TrimSpace(text) == "" {
		return nil, core.ErrChunking
	}

	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) == 0 {
		return nil, core.ErrChunking
	}

	step := chunkSize - overlap
	out := make([]Chunk, 0, (len(tokens)+step-1)/step)

	for start := 0; start < len(tokens); start += step {
		end := start + chunkSize
		if end > len(tokens) {
			end = len(tokens)
		}

		content := c.enc.Decode(tokens[start:end])
		charStart := strings.Index(text, content)
		if charStart < 0 {
			// Decoded window did not recompose to a source substring; the
			// tokenizer round-trip is broken for this input.
			return nil, fmt.Errorf("%w: offset recovery failed at token %d", core.ErrChunking, start)
		}

		out = append(out, Chunk{
			Content:    content,
			TokenStart: start,
			TokenEnd:   end,
			CharStart:  charStart,
			CharEnd:    charStart + len(content),
		})

		if end == len(tokens) {
			break
		}
	}

	if len(out) == 0 {
		return nil, core.ErrChunking
	}
	for i := range out {
		out[i].Index = i
		out[i].Total = len(out)
	}
	return out, nil
}

// CountTokens reports the token length of text under the chunker's encoding.
func (c *Chunker) CountTokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

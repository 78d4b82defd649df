// Package chunker groups scanned file content into bounded-size review
// units. A chunk never splits a line: files are cut at line boundaries and
// a file larger than the budget spans several chunks. Chunk order is a
// pure function of the input sequence, so unchanged content yields the
// same chunks and therefore the same fingerprints downstream.
package chunker

import (
	"fmt"
	"strings"

	"basegraph.app/auditor/internal/scanner"
)

// Fragment is a contiguous line range of one file. Text preserves the
// original bytes including line terminators; StartLine and EndLine are
// 1-based and inclusive.
type Fragment struct {
	Path      string
	StartLine int
	EndLine   int
	Text      string
}

// Chunk is an ordered set of fragments whose combined size fits the
// configured budget, except for the single-oversized-line case.
type Chunk struct {
	Index     int
	Fragments []Fragment
}

// Size returns the combined byte size of the chunk's fragments.
func (c Chunk) Size() int {
	total := 0
	for _, f := range c.Fragments {
		total += len(f.Text)
	}
	return total
}

// Render produces the chunk text submitted to the model. Each fragment is
// prefixed with a header naming the file and the absolute line range it
// covers.
func (c Chunk) Render() string {
	var b strings.Builder
	for i, f := range c.Fragments {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "--- file: %s (lines %d-%d) ---\n", f.Path, f.StartLine, f.EndLine)
		b.WriteString(f.Text)
		if !strings.HasSuffix(f.Text, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Fragment returns the fragment covering path, if the chunk has one. Each
// file contributes at most one fragment per chunk.
func (c Chunk) Fragment(path string) (Fragment, bool) {
	for _, f := range c.Fragments {
		if f.Path == path {
			return f, true
		}
	}
	return Fragment{}, false
}

type Chunker struct {
	budget  int
	overlap int
}

// New creates a Chunker with a byte budget per chunk and an overlap window
// in lines. Overlap applies only where one file is split across chunks;
// an overlapping window can surface the same issue twice, which the
// deduplicator collapses.
func New(budget, overlap int) *Chunker {
	if overlap < 0 {
		overlap = 0
	}
	return &Chunker{budget: budget, overlap: overlap}
}

// Chunk consumes file records in order and emits chunks. Small files are
// packed together; oversized files are split at line boundaries. A single
// line exceeding the whole budget is placed alone in its own chunk rather
// than dropped.
func (c *Chunker) Chunk(files []scanner.FileRecord) []Chunk {
	var chunks []Chunk
	var open []Fragment
	used := 0

	flush := func() {
		if len(open) == 0 {
			return
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Fragments: open})
		open = nil
		used = 0
	}

	for _, file := range files {
		lines := splitLines(file.Content)
		if len(lines) == 0 {
			continue
		}

		start := 0
		for start < len(lines) {
			end := start
			size := 0
			for end < len(lines) {
				lineSize := len(lines[end])
				// An empty chunk always accepts its first line, even one
				// that alone overflows the budget: unavoidable overflow,
				// never dropped.
				if used+size > 0 && used+size+lineSize > c.budget {
					break
				}
				size += lineSize
				end++
			}

			if end == start {
				// Nothing fit into the remaining space; close the current
				// chunk and retry against an empty one.
				flush()
				continue
			}

			open = append(open, Fragment{
				Path:      file.Path,
				StartLine: start + 1,
				EndLine:   end,
				Text:      strings.Join(lines[start:end], ""),
			})
			used += size

			if end < len(lines) {
				// File continues into the next chunk; back up by the
				// overlap window, always making progress.
				flush()
				next := end - c.overlap
				if next <= start {
					next = start + 1
				}
				start = next
			} else {
				start = end
			}
		}
	}
	flush()

	return chunks
}

// splitLines splits content into lines keeping terminators attached, so
// concatenating a file's fragments in order reconstructs it byte for byte.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	var lines []string
	for {
		i := strings.IndexByte(content, '\n')
		if i < 0 {
			lines = append(lines, content)
			break
		}
		lines = append(lines, content[:i+1])
		content = content[i+1:]
		if content == "" {
			break
		}
	}
	return lines
}

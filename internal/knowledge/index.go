// Package knowledge indexes markdown help articles and answers term queries
// against them for the search_knowledge_base tool.
package knowledge

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/text/cases"
)

// MaxResults caps the number of hits a single search returns.
const MaxResults = 5

// Hit is one matching knowledge chunk.
type Hit struct {
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

// Searcher retrieves knowledge chunks relevant to a query.
type Searcher interface {
	Search(query string, k int) []Hit
}

type chunk struct {
	source  string
	content string
	terms   map[string]struct{}
}

// Index is an in-memory term index over heading-delimited markdown chunks.
type Index struct {
	chunks []chunk
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{}
}

// LoadDir indexes every .md file under dir. A missing directory yields an
// empty index.
func LoadDir(dir string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	idx := NewIndex()

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Warn("knowledge directory not found, search disabled", "dir", dir)
		return idx, nil
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rel, _ := filepath.Rel(dir, path)
		idx.Add(filepath.ToSlash(rel), data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load knowledge: %w", err)
	}

	logger.Info("knowledge index loaded", "dir", dir, "chunks", idx.Len())
	return idx, nil
}

// Add parses a markdown document and indexes one chunk per heading section.
// Text before the first heading forms its own chunk.
func (i *Index) Add(name string, source []byte) {
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var (
		title string
		body  strings.Builder
	)
	flush := func() {
		content := strings.TrimSpace(body.String())
		if content == "" {
			return
		}
		src := name
		if title != "" {
			src = name + "#" + title
			content = title + "\n" + content
		}
		i.chunks = append(i.chunks, chunk{source: src, content: content, terms: i.terms(content)})
		body.Reset()
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok {
			flush()
			title = strings.TrimSpace(blockText(h, source))
			continue
		}
		if t := strings.TrimSpace(blockText(n, source)); t != "" {
			body.WriteString(t)
			body.WriteString("\n")
		}
	}
	flush()
}

// Len returns the number of indexed chunks.
func (i *Index) Len() int {
	return len(i.chunks)
}

// Search scores chunks by the share of query terms they contain and returns
// up to k hits, best first. k is clamped to [1, MaxResults].
func (i *Index) Search(query string, k int) []Hit {
	if k <= 0 || k > MaxResults {
		k = MaxResults
	}
	q := i.terms(query)
	if len(q) == 0 {
		return nil
	}

	var hits []Hit
	for _, c := range i.chunks {
		matched := 0
		for term := range q {
			if _, ok := c.terms[term]; ok {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, Hit{
			Content: c.content,
			Source:  c.source,
			Score:   float64(matched) / float64(len(q)),
		})
	}

	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// terms folds and splits s into distinct words of at least three runes.
func (i *Index) terms(s string) map[string]struct{} {
	words := strings.FieldsFunc(cases.Fold().String(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if len([]rune(w)) < 3 {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

// blockText concatenates the raw lines of the leaf blocks under n.
func blockText(n ast.Node, source []byte) string {
	var sb strings.Builder
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		if lines := n.Lines(); lines != nil && lines.Len() > 0 {
			for j := 0; j < lines.Len(); j++ {
				seg := lines.At(j)
				sb.Write(seg.Value(source))
			}
			sb.WriteString("\n")
			return
		}
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

var _ Searcher = (*Index)(nil)

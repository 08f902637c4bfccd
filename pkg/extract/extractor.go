package extract

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jobscan/jobscan/pkg/detect"
	"github.com/jobscan/jobscan/pkg/models"
	"github.com/jobscan/jobscan/pkg/utils"
)

// Extractor turns fetched documents into job candidates. Strategy dispatch
// happens once per document on the source's strategy tag. Extraction does no
// I/O and is safe for concurrent use.
type Extractor struct {
	strategies map[models.StrategyTag]Strategy
	cleaner    *textCleaner
	log        *logrus.Entry
}

// NewExtractor creates an Extractor with the built-in strategies registered
func NewExtractor(detector *detect.Detector, log *logrus.Entry) *Extractor {
	e := &Extractor{
		strategies: make(map[models.StrategyTag]Strategy),
		cleaner:    newTextCleaner(),
		log:        log,
	}
	e.Register(&staticPageStrategy{detector: detector, log: log})
	e.Register(&listingStrategy{detector: detector, log: log})
	e.Register(newMarkdownStrategy(log))
	return e
}

// Register adds or replaces the strategy for its tag
func (e *Extractor) Register(s Strategy) {
	e.strategies[s.Tag()] = s
}

// Extract runs the structural pass over doc and returns an iterator that runs
// the field pass lazily, one block per Next call. A document with no postings
// yields an empty iterator, not an error.
func (e *Extractor) Extract(doc *models.RawDocument, src models.Source) (*CandidateIterator, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil document for source %s", utils.ErrParsing, src.ID)
	}
	strategy, ok := e.strategies[doc.Strategy]
	if !ok {
		return nil, fmt.Errorf("%w: no extraction strategy for %q", utils.ErrParsing, doc.Strategy)
	}

	skip, err := utils.CompileRegexPatterns(src.SkipTitles)
	if err != nil {
		return nil, err
	}

	blocks, err := strategy.Blocks(doc, src)
	if err != nil {
		return nil, err
	}

	extractLog := e.log.WithFields(logrus.Fields{"source_id": src.ID, "strategy": doc.Strategy})
	extractLog.WithFields(logrus.Fields{"pages": len(doc.Pages), "blocks": len(blocks)}).Debug("Structural pass complete")

	return &CandidateIterator{
		blocks:        blocks,
		sourceID:      src.ID,
		titleSelector: src.TitleSelector,
		pass: &fieldPass{
			cleaner:    e.cleaner,
			skipTitles: skip,
			strategy:   doc.Strategy,
			log:        extractLog,
		},
	}, nil
}

// CandidateIterator yields the candidates of one document. It is finite and
// cannot be restarted; extracting again requires a fresh document.
type CandidateIterator struct {
	blocks        []Block
	next          int
	sourceID      string
	titleSelector string
	pass          *fieldPass
	skipped       int
}

// Next returns the next candidate, or false when the document is exhausted.
// Blocks that do not look like postings are skipped.
func (it *CandidateIterator) Next() (*models.JobCandidate, bool) {
	for it.next < len(it.blocks) {
		b := it.blocks[it.next]
		it.blocks[it.next] = Block{} // Release the parsed node
		it.next++

		if c, ok := it.pass.candidate(b, it.sourceID, it.titleSelector); ok {
			return c, true
		}
		it.skipped++
	}
	return nil, false
}

// Blocks is the number of blocks found by the structural pass
func (it *CandidateIterator) Blocks() int { return len(it.blocks) }

// Skipped is the number of blocks consumed so far that were not postings
func (it *CandidateIterator) Skipped() int { return it.skipped }

// Collect drains the iterator
func (it *CandidateIterator) Collect() []*models.JobCandidate {
	var out []*models.JobCandidate
	for {
		c, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, c)
	}
}

// Package batch classifies every phrase of an uploaded CSV file.
//
// The first column holds the phrases, whatever its header says. Blank cells
// are skipped. The first failed classification aborts the whole batch and
// nothing classified so far is returned.
package batch

import (
	"bytes"
	"context"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/eapache/queue/v2"
	"github.com/teilomillet/econochat/errors"
	"github.com/teilomillet/econochat/server/metrics"
	"github.com/teilomillet/econochat/server/sentiment"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Messages returned for unusable files.
const (
	MessageNoColumns   = "No se detectaron columnas en el CSV."
	MessageNoRows      = "No se encontraron frases válidas para analizar."
	MessageInvalidCSV  = "El archivo CSV no es válido."
	MessageTooManyRows = "El archivo supera el máximo de frases permitido."
)

// Filename is the name of the downloadable result.
const Filename = "analisis_sentimientos.csv"

// Header is the first line of the result file.
var Header = []string{"phrase", "label", "confidence"}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Classifier classifies one phrase.
type Classifier interface {
	Classify(ctx context.Context, text string) (sentiment.Result, error)
}

// Row is one classified phrase.
type Row struct {
	Phrase string
	Result sentiment.Result
}

// AbortError reports the phrase whose classification stopped the batch. It
// unwraps to the classification error.
type AbortError struct {
	Line   int
	Phrase string
	Err    error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("batch aborted at line %d: %v", e.Line, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// Options bound the work done for one file.
type Options struct {
	// Concurrency is the number of phrases classified at once; values
	// below 2 classify strictly one after another.
	Concurrency int

	// MaxRows rejects files with more phrases. 0 means no limit.
	MaxRows int
}

// Pipeline runs batches. It is safe for concurrent use.
type Pipeline struct {
	classifier Classifier
	options    atomic.Pointer[Options]
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// New creates a Pipeline. m may be nil.
func New(c Classifier, opts Options, logger *zap.Logger, m *metrics.Metrics) *Pipeline {
	p := &Pipeline{classifier: c, logger: logger, metrics: m}
	p.options.Store(&opts)
	return p
}

// SetOptions replaces the options used by later runs.
func (p *Pipeline) SetOptions(opts Options) {
	p.options.Store(&opts)
}

type phrase struct {
	line int
	text string
}

// Run reads a CSV file from r and classifies its phrases in file order.
func (p *Pipeline) Run(ctx context.Context, r io.Reader) ([]Row, error) {
	opts := *p.options.Load()

	phrases, err := p.readPhrases(r, opts.MaxRows)
	if err != nil {
		return nil, err
	}
	if phrases.Length() == 0 {
		return nil, errors.NewValidationError("", MessageNoRows, nil)
	}

	var rows []Row
	if opts.Concurrency > 1 {
		rows, err = p.classifyConcurrent(ctx, phrases, opts.Concurrency)
	} else {
		rows, err = p.classifySequential(ctx, phrases)
	}
	if err != nil {
		var abort *AbortError
		if stderrors.As(err, &abort) {
			p.logger.Info("batch aborted",
				zap.Int("line", abort.Line),
				zap.Error(abort.Err),
			)
		}
		return nil, err
	}

	p.count("classified", len(rows))
	return rows, nil
}

// readPhrases queues the trimmed, non-empty first-column values. Invalid
// UTF-8 sequences are dropped and a leading byte order mark is ignored.
func (p *Pipeline) readPhrases(r io.Reader, maxRows int) (*queue.Queue[phrase], error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewValidationError("", MessageInvalidCSV, map[string]interface{}{"reason": err.Error()})
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	data = bytes.ToValidUTF8(data, nil)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return nil, errors.NewValidationError("", MessageNoColumns, nil)
		}
		return nil, invalidCSV(err)
	}

	phrases := queue.New[phrase]()
	skipped := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, invalidCSV(err)
		}

		text := strings.TrimSpace(record[0])
		if text == "" {
			skipped++
			continue
		}
		if maxRows > 0 && phrases.Length() >= maxRows {
			return nil, errors.NewValidationError("", MessageTooManyRows, map[string]interface{}{"max_rows": maxRows})
		}
		line, _ := reader.FieldPos(0)
		phrases.Add(phrase{line: line, text: text})
	}

	p.count("skipped", skipped)
	return phrases, nil
}

func invalidCSV(err error) error {
	details := map[string]interface{}{"reason": err.Error()}
	var parseErr *csv.ParseError
	if stderrors.As(err, &parseErr) {
		details["line"] = parseErr.Line
	}
	return errors.NewValidationError("", MessageInvalidCSV, details)
}

// classifySequential issues one call at a time and stops at the first
// failure.
func (p *Pipeline) classifySequential(ctx context.Context, phrases *queue.Queue[phrase]) ([]Row, error) {
	rows := make([]Row, 0, phrases.Length())
	for phrases.Length() > 0 {
		ph := phrases.Remove()
		res, err := p.classifier.Classify(ctx, ph.text)
		if err != nil {
			return nil, &AbortError{Line: ph.line, Phrase: ph.text, Err: err}
		}
		rows = append(rows, Row{Phrase: ph.text, Result: res})
	}
	return rows, nil
}

// classifyConcurrent keeps up to limit calls in flight. Results keep file
// order; the first failure cancels the calls still running.
func (p *Pipeline) classifyConcurrent(ctx context.Context, phrases *queue.Queue[phrase], limit int) ([]Row, error) {
	rows := make([]Row, phrases.Length())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i := 0; phrases.Length() > 0; i++ {
		if gctx.Err() != nil {
			break
		}
		i, ph := i, phrases.Remove()
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			res, err := p.classifier.Classify(gctx, ph.text)
			if err != nil {
				return &AbortError{Line: ph.line, Phrase: ph.text, Err: err}
			}
			rows[i] = Row{Phrase: ph.text, Result: res}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (p *Pipeline) count(disposition string, n int) {
	if p.metrics != nil && n > 0 {
		p.metrics.BatchRows.WithLabelValues(disposition).Add(float64(n))
	}
}

// WriteCSV writes rows under Header with confidences at two decimals.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			row.Phrase,
			string(row.Result.Label),
			strconv.FormatFloat(row.Result.Confidence, 'f', 2, 64),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

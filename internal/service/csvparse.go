package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jask/debtdesk/internal/creditors"
	"github.com/jask/debtdesk/internal/database/repository"
	"github.com/jask/debtdesk/internal/observability"
)

// ParseState is the lifecycle of a Parser run.
type ParseState int32

const (
	StateIdle ParseState = iota
	StateParsing
	StateEnriching
	StateComplete
	StateCancelled
	StateFailed
)

func (s ParseState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateParsing:
		return "parsing"
	case StateEnriching:
		return "enriching"
	case StateComplete:
		return "complete"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("ParseState(%d)", int32(s))
}

var (
	ErrCancelled  = errors.New("parsing cancelled")
	ErrParserBusy = errors.New("parser already running")
)

const DefaultChunkRows = 1000

// RowError is a validation failure of one CSV row. Row is 1-based.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// CreditorWarning records a placer name that did not match a creditor
// exactly and was resolved by similarity or to the default creditor.
type CreditorWarning struct {
	Row      int             `json:"row"`
	Placer   string          `json:"placer"`
	Resolved string          `json:"resolved"`
	Match    creditors.Match `json:"match"`
}

type ParseStats struct {
	TotalRows   int               `json:"totalRows"`
	ValidRows   int               `json:"validRows"`
	InvalidRows int               `json:"invalidRows"`
	Errors      []RowError        `json:"errors"`
	Warnings    []CreditorWarning `json:"warnings,omitempty"`
	IsComplete  bool              `json:"isComplete"`
	Progress    int               `json:"progress"`
	SyncMessage string            `json:"syncMessage,omitempty"`
}

func (s ParseStats) snapshot() ParseStats {
	s.Errors = slices.Clone(s.Errors)
	s.Warnings = slices.Clone(s.Warnings)
	return s
}

type ParseResult struct {
	Records []repository.Debtor
	Stats   ParseStats
}

// ProgressFunc receives cumulative statistics. Each call gets its own copy.
type ProgressFunc func(ParseStats)

// enrichFunc runs between parsing and completion on the valid records.
type enrichFunc func(ctx context.Context, records []repository.Debtor, stats ParseStats, onProgress ProgressFunc) []repository.Debtor

type ParserOptions struct {
	ChunkRows int
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// Parser validates debtor CSV files. A Parser runs one file at a time and can
// be reused once a run has finished.
type Parser struct {
	chunkRows int
	log       *zap.Logger
	metrics   *observability.Metrics

	state     atomic.Int32
	cancelled atomic.Bool
	mu        sync.Mutex
	stop      context.CancelFunc
}

func NewParser(opts ParserOptions) (*Parser, error) {
	if err := checkColumns(); err != nil {
		return nil, err
	}
	if opts.ChunkRows <= 0 {
		opts.ChunkRows = DefaultChunkRows
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Parser{chunkRows: opts.ChunkRows, log: log.Named("csv"), metrics: opts.Metrics}, nil
}

func (p *Parser) State() ParseState { return ParseState(p.state.Load()) }

// Cancel stops the current run. The chunk being validated finishes; no later
// chunk is looked at and Parse returns ErrCancelled.
func (p *Parser) Cancel() {
	p.cancelled.Store(true)
	p.mu.Lock()
	if p.stop != nil {
		p.stop()
	}
	p.mu.Unlock()
}

// Parse reads a headerless CSV of debtors from r. size is the total input
// length used for progress; pass 0 when unknown.
func (p *Parser) Parse(ctx context.Context, r io.Reader, size int64, onProgress ProgressFunc) (ParseResult, error) {
	return p.run(ctx, r, size, onProgress, nil)
}

func (p *Parser) run(ctx context.Context, r io.Reader, size int64, onProgress ProgressFunc, enrich enrichFunc) (ParseResult, error) {
	if !p.begin() {
		return ParseResult{}, ErrParserBusy
	}
	ctx, stop := context.WithCancel(ctx)
	p.mu.Lock()
	p.stop = stop
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.stop = nil
		p.mu.Unlock()
		stop()
	}()

	res, err := p.parse(ctx, r, size, onProgress)
	if err == nil && enrich != nil && len(res.Records) > 0 && !p.aborted(ctx) {
		p.state.Store(int32(StateEnriching))
		res.Records = enrich(ctx, res.Records, res.Stats, onProgress)
	}
	if err == nil && p.aborted(ctx) {
		err = ErrCancelled
	}

	switch {
	case errors.Is(err, ErrCancelled):
		p.state.Store(int32(StateCancelled))
		p.log.Info("parse cancelled", zap.Int("rows", res.Stats.TotalRows))
		return ParseResult{}, ErrCancelled
	case err != nil:
		p.state.Store(int32(StateFailed))
		p.log.Error("parse failed", zap.Int("rows", res.Stats.TotalRows), zap.Error(err))
		return ParseResult{}, err
	}

	res.Stats.IsComplete = true
	res.Stats.Progress = 100
	res.Stats.SyncMessage = ""
	p.metrics.AddRows("valid", res.Stats.ValidRows)
	p.metrics.AddRows("invalid", res.Stats.InvalidRows)
	p.state.Store(int32(StateComplete))
	if onProgress != nil {
		onProgress(res.Stats.snapshot())
	}
	p.log.Info("parse complete",
		zap.Int("rows", res.Stats.TotalRows),
		zap.Int("valid", res.Stats.ValidRows),
		zap.Int("invalid", res.Stats.InvalidRows),
		zap.Int("warnings", len(res.Stats.Warnings)))
	return res, nil
}

func (p *Parser) begin() bool {
	for {
		cur := ParseState(p.state.Load())
		if cur == StateParsing || cur == StateEnriching {
			return false
		}
		if p.state.CompareAndSwap(int32(cur), int32(StateParsing)) {
			p.cancelled.Store(false)
			return true
		}
	}
}

func (p *Parser) aborted(ctx context.Context) bool {
	return p.cancelled.Load() || ctx.Err() != nil
}

type rawRow struct {
	fields []string
	err    error
}

type rowChunk struct {
	rows   []rawRow
	offset int64
}

func (p *Parser) parse(ctx context.Context, r io.Reader, size int64, onProgress ProgressFunc) (ParseResult, error) {
	br := bufio.NewReaderSize(r, 64<<10)
	csvr := csv.NewReader(br)
	csvr.Comma = detectDelimiter(br)
	csvr.FieldsPerRecord = -1
	csvr.LazyQuotes = true
	// trimming would swallow empty tab-separated fields
	csvr.TrimLeadingSpace = csvr.Comma != '\t'

	chunks := make(chan rowChunk)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(chunks)
		buf := make([]rawRow, 0, p.chunkRows)
		send := func() error {
			c := rowChunk{rows: buf, offset: csvr.InputOffset()}
			select {
			case chunks <- c:
				buf = make([]rawRow, 0, p.chunkRows)
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		for {
			rec, err := csvr.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			var perr *csv.ParseError
			switch {
			case errors.As(err, &perr):
				buf = append(buf, rawRow{err: perr})
			case err != nil:
				return fmt.Errorf("read csv: %w", err)
			case blankRecord(rec):
				continue
			default:
				buf = append(buf, rawRow{fields: rec})
			}
			if len(buf) == p.chunkRows {
				if err := send(); err != nil {
					return err
				}
			}
		}
		if len(buf) > 0 {
			return send()
		}
		return nil
	})

	var res ParseResult
	stats := &res.Stats
	for c := range chunks {
		if p.aborted(ctx) {
			break
		}
		for _, raw := range c.rows {
			stats.TotalRows++
			row := stats.TotalRows
			if raw.err != nil {
				stats.InvalidRows++
				stats.Errors = append(stats.Errors, RowError{Row: row, Field: FieldGeneral, Message: raw.err.Error()})
				continue
			}
			d, errs, warn := validateRow(raw.fields, row)
			if len(errs) > 0 {
				stats.InvalidRows++
				stats.Errors = append(stats.Errors, errs...)
				continue
			}
			stats.ValidRows++
			res.Records = append(res.Records, d)
			if warn != nil {
				stats.Warnings = append(stats.Warnings, *warn)
			}
		}
		stats.Progress = percent(c.offset, size)
		if onProgress != nil {
			onProgress(stats.snapshot())
		}
	}
	if p.aborted(ctx) {
		// unblocks the reader goroutine
		p.mu.Lock()
		if p.stop != nil {
			p.stop()
		}
		p.mu.Unlock()
	}

	if err := g.Wait(); err != nil {
		if p.aborted(ctx) {
			return res, ErrCancelled
		}
		return res, err
	}
	if p.aborted(ctx) {
		return res, ErrCancelled
	}
	return res, nil
}

// validateRow maps positional fields and checks every one of them, so a bad
// row reports all of its problems at once.
func validateRow(fields []string, row int) (repository.Debtor, []RowError, *CreditorWarning) {
	if len(fields) < len(csvColumns) {
		return repository.Debtor{}, []RowError{{
			Row:     row,
			Field:   FieldGeneral,
			Value:   strings.Join(fields, ","),
			Message: "Fila incompleta",
		}}, nil
	}

	values := make(map[string]string, len(csvColumns))
	var errs []RowError
	for i, field := range csvColumns {
		v := strings.TrimSpace(fields[i])
		values[field] = v
		if v == "" {
			errs = append(errs, RowError{Row: row, Field: field, Value: fields[i],
				Message: fmt.Sprintf("Campo requerido '%s' está vacío o faltante", field)})
			continue
		}
		if msg := requiredFields[field](v); msg != "" {
			errs = append(errs, RowError{Row: row, Field: field, Value: v, Message: msg})
		}
	}
	if len(errs) > 0 {
		return repository.Debtor{}, errs, nil
	}

	placer := values[FieldPlacer]
	cred, match := creditors.Resolve(placer)
	var warn *CreditorWarning
	if match != creditors.MatchExact {
		warn = &CreditorWarning{Row: row, Placer: placer, Resolved: cred.ID, Match: match}
	}
	return repository.Debtor{
		TaxID:          onlyDigits(values[FieldTaxID]),
		Name:           values[FieldName],
		Email:          values[FieldEmail],
		Phone:          values[FieldPhone],
		Creditor:       cred,
		CreditNumber:   onlyDigits(values[FieldCreditNumber]),
		CurrentDebt:    ParseAmount(values[FieldCurrentDebt]),
		SettlementDebt: ParseAmount(values[FieldSettlementDebt]),
	}, nil, warn
}

// detectDelimiter picks the most frequent of ',', ';' and tab on the first
// non-empty line, defaulting to ','.
func detectDelimiter(br *bufio.Reader) rune {
	buf, _ := br.Peek(br.Size())
	for len(buf) > 0 {
		line := buf
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			line, buf = buf[:i], buf[i+1:]
		} else {
			buf = nil
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		best, bestN := ',', bytes.Count(line, []byte{','})
		for _, d := range []rune{';', '\t'} {
			if n := bytes.Count(line, []byte(string(d))); n > bestN {
				best, bestN = d, n
			}
		}
		return best
	}
	return ','
}

func blankRecord(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func percent(offset, size int64) int {
	if size <= 0 {
		return 0
	}
	p := int(math.Round(float64(offset) / float64(size) * 100))
	return max(0, min(100, p))
}

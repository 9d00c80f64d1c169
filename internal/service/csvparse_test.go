package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jask/debtdesk/internal/creditors"
	"github.com/jask/debtdesk/internal/observability"
	"github.com/jask/debtdesk/internal/testdata"
)

func newParser(t *testing.T, chunkRows int) *Parser {
	t.Helper()
	p, err := NewParser(ParserOptions{ChunkRows: chunkRows})
	require.NoError(t, err)
	return p
}

const threeRows = `20123456789,ANA PEREZ,ana@example.com,1144445555,SANJORGE,"$ 1.500,50","1.200,00",555
2012345678,LUIS GOMEZ,luis@example.com,1155556666,IXPAY,1000,900,777
27987654321,MARIA SOSA,maria@example.com,1166667777,CEFERINO,2000.00,1500.00,N° 999
`

func TestParseEndToEnd(t *testing.T) {
	t.Parallel()
	p := newParser(t, 0)
	res, err := p.Parse(context.Background(), strings.NewReader(threeRows), int64(len(threeRows)), nil)
	require.NoError(t, err)
	require.Equal(t, StateComplete, p.State())

	require.Equal(t, 3, res.Stats.TotalRows)
	require.Equal(t, 2, res.Stats.ValidRows)
	require.Equal(t, 1, res.Stats.InvalidRows)
	require.True(t, res.Stats.IsComplete)
	require.Equal(t, 100, res.Stats.Progress)
	require.Len(t, res.Stats.Errors, 1)
	require.Equal(t, 2, res.Stats.Errors[0].Row)
	require.Equal(t, FieldTaxID, res.Stats.Errors[0].Field)
	require.Equal(t, "CUIL debe tener 11 dígitos", res.Stats.Errors[0].Message)

	require.Len(t, res.Records, 2)
	ana := res.Records[0]
	require.Equal(t, "20123456789", ana.TaxID)
	require.Equal(t, "sanjorge", ana.Creditor.ID)
	require.Equal(t, "555", ana.CreditNumber)
	require.InDelta(t, 1500.5, ana.CurrentDebt, 1e-9)
	require.InDelta(t, 1200, ana.SettlementDebt, 1e-9)
	require.Equal(t, "999", res.Records[1].CreditNumber)
	require.Empty(t, res.Stats.Warnings)
}

func TestParseRecordsEveryFieldError(t *testing.T) {
	t.Parallel()
	in := "20123456789,,ana@example,1234,SANJORGE,0,-5,555\n"
	res, err := newParser(t, 0).Parse(context.Background(), strings.NewReader(in), 0, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Stats.InvalidRows)

	var fields []string
	for _, e := range res.Stats.Errors {
		require.Equal(t, 1, e.Row)
		fields = append(fields, e.Field)
	}
	require.Equal(t, []string{FieldName, FieldEmail, FieldPhone, FieldCurrentDebt, FieldSettlementDebt}, fields)
	require.Equal(t, "Campo requerido 'TITULAR' está vacío o faltante", res.Stats.Errors[0].Message)
	require.Empty(t, res.Records)
}

func TestParseIncompleteRowsAndBlankLines(t *testing.T) {
	t.Parallel()
	in := "\n20123456789;ANA\n   \n;;;\n20123456789;ANA PEREZ;ana@example.com;1144445555;IXPAY;10;9;1\n\n"
	res, err := newParser(t, 0).Parse(context.Background(), strings.NewReader(in), int64(len(in)), nil)
	require.NoError(t, err)
	require.Equal(t, 2, res.Stats.TotalRows)
	require.Equal(t, 1, res.Stats.ValidRows)
	require.Equal(t, []RowError{{Row: 1, Field: FieldGeneral, Value: "20123456789,ANA", Message: "Fila incompleta"}}, res.Stats.Errors)
	require.Equal(t, "ixpay", res.Records[0].Creditor.ID)
}

func TestParseTabDelimited(t *testing.T) {
	t.Parallel()
	in := "20123456789\tANA PEREZ\tana@example.com\t1144445555\tONCE DE JULIO\t$ 1.000\t800\t42\n"
	res, err := newParser(t, 0).Parse(context.Background(), strings.NewReader(in), 0, nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.Equal(t, "11dejulio", res.Records[0].Creditor.ID)
	require.InDelta(t, 1000, res.Records[0].CurrentDebt, 1e-9)
}

func TestParseCreditorWarnings(t *testing.T) {
	t.Parallel()
	in := "20123456789,A B,a@b.co,11444455,SAN JORJE,10,9,1\n" +
		"20123456789,A B,a@b.co,11444455,QQQQQQQQ,10,9,2\n" +
		"20123456789,A B,a@b.co,11444455,ixpay sa,10,9,3\n"
	res, err := newParser(t, 0).Parse(context.Background(), strings.NewReader(in), 0, nil)
	require.NoError(t, err)
	require.Equal(t, 3, res.Stats.ValidRows)
	require.Equal(t, []CreditorWarning{
		{Row: 1, Placer: "SAN JORJE", Resolved: "sanjorge", Match: creditors.MatchFuzzy},
		{Row: 2, Placer: "QQQQQQQQ", Resolved: "ceferino", Match: creditors.MatchDefault},
	}, res.Stats.Warnings)
}

func TestParseIsIdempotent(t *testing.T) {
	t.Parallel()
	debtors := testdata.Debtors(2500, 7)
	in := testdata.CSV(debtors, ';') + "bad;row\n"
	p := newParser(t, 100)

	var progress []int
	first, err := p.Parse(context.Background(), strings.NewReader(in), int64(len(in)), func(s ParseStats) {
		progress = append(progress, s.Progress)
	})
	require.NoError(t, err)
	second, err := p.Parse(context.Background(), strings.NewReader(in), int64(len(in)), nil)
	require.NoError(t, err)

	require.Empty(t, cmp.Diff(first, second))
	require.Equal(t, 2501, first.Stats.TotalRows)
	require.Equal(t, 2500, first.Stats.ValidRows)
	require.Empty(t, cmp.Diff(debtors, first.Records))

	// 26 chunks plus the final snapshot
	require.Len(t, progress, 27)
	for i := 1; i < len(progress); i++ {
		require.GreaterOrEqual(t, progress[i], progress[i-1])
	}
	require.Equal(t, 100, progress[len(progress)-1])
}

func TestParseCancelStopsAtChunkBoundary(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	in := testdata.CSV(testdata.Debtors(500, 1), ',')
	p := newParser(t, 10)

	calls := 0
	_, err := p.Parse(context.Background(), strings.NewReader(in), int64(len(in)), func(s ParseStats) {
		calls++
		require.Equal(t, 10, s.TotalRows)
		p.Cancel()
	})
	require.ErrorIs(t, err, ErrCancelled)
	require.Equal(t, 1, calls)
	require.Equal(t, StateCancelled, p.State())

	// reusable after a cancel
	res, err := p.Parse(context.Background(), strings.NewReader(in), int64(len(in)), nil)
	require.NoError(t, err)
	require.Equal(t, 500, res.Stats.ValidRows)
}

func TestParseContextCancelled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newParser(t, 0)
	_, err := p.Parse(ctx, strings.NewReader(threeRows), 0, nil)
	require.ErrorIs(t, err, ErrCancelled)
	require.Equal(t, StateCancelled, p.State())
}

func TestParseRejectsConcurrentRun(t *testing.T) {
	t.Parallel()
	p := newParser(t, 1)
	var inner error
	_, err := p.Parse(context.Background(), strings.NewReader(threeRows), 0, func(ParseStats) {
		if inner == nil {
			_, inner = p.Parse(context.Background(), strings.NewReader(threeRows), 0, nil)
		}
	})
	require.NoError(t, err)
	require.ErrorIs(t, inner, ErrParserBusy)
}

func TestParseReadFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("disk gone")
	r := io.MultiReader(strings.NewReader(threeRows), iotest.ErrReader(boom))
	p := newParser(t, 0)
	_, err := p.Parse(context.Background(), r, 0, nil)
	require.ErrorIs(t, err, boom)
	require.Equal(t, StateFailed, p.State())
}

func TestParseCountsRows(t *testing.T) {
	t.Parallel()
	m := observability.NewMetrics()
	p, err := NewParser(ParserOptions{Metrics: m})
	require.NoError(t, err)
	_, err = p.Parse(context.Background(), strings.NewReader(threeRows), 0, nil)
	require.NoError(t, err)
	require.Equal(t, 2.0, m.Rows("valid"))
	require.Equal(t, 1.0, m.Rows("invalid"))
}

package batch

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/econochat/errors"
	"github.com/teilomillet/econochat/server/metrics"
	"github.com/teilomillet/econochat/server/sentiment"
	"go.uber.org/zap"
)

// fakeClassifier labels phrases containing "odio" negative and the rest
// positive. Phrases listed in fail return failErr.
type fakeClassifier struct {
	mu      sync.Mutex
	seen    []string
	fail    map[string]bool
	failErr error
	delay   time.Duration

	inFlight    int32
	maxInFlight int32
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) (sentiment.Result, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&f.maxInFlight)
		if n <= peak || atomic.CompareAndSwapInt32(&f.maxInFlight, peak, n) {
			break
		}
	}

	f.mu.Lock()
	f.seen = append(f.seen, text)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return sentiment.Result{}, ctx.Err()
		}
	}
	if f.fail[text] {
		return sentiment.Result{}, f.failErr
	}
	if strings.Contains(strings.ToLower(text), "odio") {
		return sentiment.Result{Label: sentiment.Negative, Confidence: 88.5, Explanation: "x"}, nil
	}
	return sentiment.Result{Label: sentiment.Positive, Confidence: 91, Explanation: "x"}, nil
}

func (f *fakeClassifier) Seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

func requireValidation(t *testing.T, err error, message string) {
	t.Helper()
	require.Error(t, err)
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr), "expected *AppError, got %T", err)
	assert.Equal(t, errors.ValidationError, appErr.Type)
	assert.Equal(t, message, appErr.Message)
}

func TestRunSkipsBlankRows(t *testing.T) {
	input := "frase\nMe encanta el nuevo sistema\n\"\"\n   \nOdio las colas\n"
	fc := &fakeClassifier{}
	m := metrics.NewMetrics()
	p := New(fc, Options{Concurrency: 1}, zap.NewNop(), m)

	rows, err := p.Run(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Me encanta el nuevo sistema", rows[0].Phrase)
	assert.Equal(t, sentiment.Positive, rows[0].Result.Label)
	assert.Equal(t, "Odio las colas", rows[1].Phrase)
	assert.Equal(t, sentiment.Negative, rows[1].Result.Label)
	assert.Equal(t, []string{"Me encanta el nuevo sistema", "Odio las colas"}, fc.Seen())

	assert.Equal(t, float64(2), testutil.ToFloat64(m.BatchRows.WithLabelValues("classified")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.BatchRows.WithLabelValues("skipped")))
}

func TestRunUsesFirstColumnOnly(t *testing.T) {
	input := "texto,autor\n  Buen servicio ,ana\n,odio esto\nOdio esperar,luis\n"
	fc := &fakeClassifier{}
	p := New(fc, Options{}, zap.NewNop(), nil)

	rows, err := p.Run(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Buen servicio", rows[0].Phrase)
	assert.Equal(t, "Odio esperar", rows[1].Phrase)
}

func TestRunRaggedAndEncoding(t *testing.T) {
	input := append([]byte{0xEF, 0xBB, 0xBF}, []byte("frase,extra\nsolo\nmuy bien,1,2,3\nmal\xff\xfeo\n")...)
	fc := &fakeClassifier{}
	p := New(fc, Options{}, zap.NewNop(), nil)

	rows, err := p.Run(context.Background(), bytes.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "solo", rows[0].Phrase)
	assert.Equal(t, "muy bien", rows[1].Phrase)
	assert.Equal(t, "malo", rows[2].Phrase)
}

func TestRunAbortsOnFirstError(t *testing.T) {
	cause := errors.NewUpstreamError("", "Error al contactar con el servicio de IA.", nil)
	fc := &fakeClassifier{fail: map[string]bool{"dos": true}, failErr: cause}
	p := New(fc, Options{Concurrency: 1}, zap.NewNop(), nil)

	rows, err := p.Run(context.Background(), strings.NewReader("frase\nuno\ndos\ntres\n"))
	assert.Nil(t, rows, "no partial output")
	require.Error(t, err)

	var abort *AbortError
	require.True(t, errors.As(err, &abort))
	assert.Equal(t, 3, abort.Line)
	assert.Equal(t, "dos", abort.Phrase)

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, errors.UpstreamError, appErr.Type)

	assert.Equal(t, []string{"uno", "dos"}, fc.Seen(), "nothing after the failure is classified")
}

func TestRunValidationErrors(t *testing.T) {
	fc := &fakeClassifier{}
	p := New(fc, Options{MaxRows: 2}, zap.NewNop(), nil)

	tests := []struct {
		name    string
		input   string
		message string
	}{
		{"empty file", "", MessageNoColumns},
		{"bom only", "\xEF\xBB\xBF", MessageNoColumns},
		{"header only", "frase\n", MessageNoRows},
		{"blank rows only", "frase\n \n\"  \"\n", MessageNoRows},
		{"too many rows", "frase\na\nb\nc\n", MessageTooManyRows},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Run(context.Background(), strings.NewReader(tt.input))
			requireValidation(t, err, tt.message)
		})
	}
	assert.Empty(t, fc.Seen(), "rejected files cost no provider calls")
}

func TestRunConcurrentKeepsOrder(t *testing.T) {
	var b strings.Builder
	b.WriteString("frase\n")
	var want []string
	for i := 0; i < 40; i++ {
		phrase := "frase " + string(rune('a'+i%26)) + strings.Repeat("!", i/26)
		want = append(want, phrase)
		b.WriteString(phrase + "\n")
	}

	fc := &fakeClassifier{delay: 2 * time.Millisecond}
	p := New(fc, Options{Concurrency: 4}, zap.NewNop(), nil)

	rows, err := p.Run(context.Background(), strings.NewReader(b.String()))
	require.NoError(t, err)
	require.Len(t, rows, len(want))
	for i, row := range rows {
		assert.Equal(t, want[i], row.Phrase)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&fc.maxInFlight), int32(4))
}

func TestRunConcurrentAbortDiscards(t *testing.T) {
	cause := errors.NewClassificationError("", "bad", nil)
	fc := &fakeClassifier{fail: map[string]bool{"c": true}, failErr: cause, delay: time.Millisecond}
	p := New(fc, Options{Concurrency: 3}, zap.NewNop(), nil)

	rows, err := p.Run(context.Background(), strings.NewReader("frase\na\nb\nc\nd\ne\nf\ng\n"))
	assert.Nil(t, rows)

	var abort *AbortError
	require.True(t, errors.As(err, &abort))
	assert.Equal(t, "c", abort.Phrase)
	assert.True(t, errors.Is(err, &errors.AppError{Type: errors.ClassificationError}))
}

func TestSetOptions(t *testing.T) {
	fc := &fakeClassifier{}
	p := New(fc, Options{}, zap.NewNop(), nil)
	p.SetOptions(Options{MaxRows: 1})

	_, err := p.Run(context.Background(), strings.NewReader("frase\na\nb\n"))
	requireValidation(t, err, MessageTooManyRows)
}

func TestWriteCSV(t *testing.T) {
	rows := []Row{
		{Phrase: "Me encanta el nuevo sistema", Result: sentiment.Result{Label: sentiment.Positive, Confidence: 95}},
		{Phrase: "Odio las colas, de verdad", Result: sentiment.Result{Label: sentiment.Negative, Confidence: 87.456}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))
	assert.Equal(t,
		"phrase,label,confidence\n"+
			"Me encanta el nuevo sistema,positive,95.00\n"+
			"\"Odio las colas, de verdad\",negative,87.46\n",
		buf.String())
}

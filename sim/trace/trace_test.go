package trace

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clockSource counts up deterministically: point j reads time·10 + j.
type clockSource struct {
	clock float64
	runs  []float64
	fail  error
}

func (s *clockSource) Run(_ context.Context, until float64) error {
	if s.fail != nil {
		return s.fail
	}
	s.runs = append(s.runs, until)
	s.clock = until
	return nil
}

func (s *clockSource) GetTime() float64 { return s.clock }

func (s *clockSource) Counts(points [][2]int, dst []int64) (float64, error) {
	for j := range points {
		dst[j] = int64(s.clock*10) + int64(j)
	}
	return s.clock, nil
}

var twoPoints = []Point{{Tet: 0, Species: 0, Label: "A@0"}, {Tet: 3, Species: 1, Label: "B@3"}}

func TestCollect_GridAndTail(t *testing.T) {
	// GIVEN a source at t=0
	src := &clockSource{}

	// WHEN sampling every 1 up to 2.5
	tr, err := Collect(context.Background(), src, twoPoints, 1, 2.5)

	// THEN samples land on the grid plus the end time
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 2.5}, tr.Times())
	assert.Equal(t, []float64{1, 2, 2.5}, src.runs)
	assert.Equal(t, []int64{25, 26}, tr.Records[3].Counts)
	final, ok := tr.Final()
	assert.True(t, ok)
	assert.Equal(t, 2.5, final.Time)
}

func TestCollect_StartsFromCurrentTime(t *testing.T) {
	src := &clockSource{clock: 4}
	tr, err := Collect(context.Background(), src, twoPoints, 2, 8)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 6, 8}, tr.Times())
}

func TestCollect_EndEqualsStart(t *testing.T) {
	src := &clockSource{clock: 1}
	tr, err := Collect(context.Background(), src, twoPoints, 0.5, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, tr.Times())
	assert.Empty(t, src.runs)
}

func TestCollect_Errors(t *testing.T) {
	_, err := Collect(context.Background(), &clockSource{}, twoPoints, 0, 1)
	assert.Error(t, err)

	_, err = Collect(context.Background(), &clockSource{clock: 2}, twoPoints, 1, 1)
	assert.Error(t, err)

	// a failing run keeps the samples taken so far
	boom := errors.New("boom")
	tr, err := Collect(context.Background(), &clockSource{fail: boom}, twoPoints, 1, 3)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, tr.Records, 1)
}

func TestWriteCSV_LongFormat(t *testing.T) {
	tr, err := Collect(context.Background(), &clockSource{}, twoPoints, 1, 1)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, tr, tr))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	// header + 2 trajectories × 2 samples × 2 points
	require.Len(t, lines, 9)
	assert.Equal(t, "trajectory,time,point,tet,species,count", lines[0])
	assert.Equal(t, "0,0,A@0,0,0,0", lines[1])
	assert.Equal(t, "0,1,B@3,3,1,11", lines[4])
	assert.True(t, strings.HasPrefix(lines[5], "1,"))

	rows, err := ReadCSV(strings.NewReader(buf.String()))
	require.NoError(t, err)
	assert.Equal(t, Rows(0, tr, tr), rows)
}

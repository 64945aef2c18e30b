package selection

import (
	"context"
	"errors"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/Sube3494/bilidownloader/internal/metadata"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Selection
	}{
		{in: "", want: AllParts},
		{in: " ALL ", want: AllParts},
		{in: "a", want: AllParts},
		{in: "全部", want: AllParts},
		{in: "2", want: Selection{Kind: Single, Start: 2, End: 2}},
		{in: "1-3", want: Selection{Kind: Range, Start: 1, End: 3}},
		{in: "3-1", want: Selection{Kind: Range, Start: 3, End: 1}},
		{in: "1, 3", want: Selection{Kind: List, Indices: []int{1, 3}}},
		{in: "0", want: AllParts},
		{in: "4", want: AllParts},
		{in: "-1", want: AllParts},
		{in: "x-2", want: AllParts},
		{in: "1,x", want: AllParts},
		{in: "hello", want: AllParts},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Parse(tt.in, 3), "input %q", tt.in)
	}
}

func TestParse_OutOfRangeIsAll(t *testing.T) {
	for n := -5; n <= 10; n++ {
		got := Parse(strconv.Itoa(n), 3)
		if n >= 1 && n <= 3 {
			assert.Equal(t, Single, got.Kind)
			continue
		}
		assert.True(t, got.IsAll(), "n=%d", n)
	}
}

func TestSpecAndContains(t *testing.T) {
	assert.Equal(t, "ALL", AllParts.Spec())
	assert.Equal(t, "2", Selection{Kind: Single, Start: 2, End: 2}.Spec())
	assert.Equal(t, "1-3", Selection{Kind: Range, Start: 1, End: 3}.Spec())
	assert.Equal(t, "1,3", Selection{Kind: List, Indices: []int{1, 3}}.Spec())

	list := Selection{Kind: List, Indices: []int{1, 3}}
	assert.True(t, list.Contains(3))
	assert.False(t, list.Contains(2))
	assert.True(t, Selection{Kind: Range, Start: 2, End: 4}.Contains(4))
	assert.True(t, AllParts.Contains(99))
}

type recordPrompter struct {
	texts []string
	err   error
}

func (p *recordPrompter) Prompt(_ context.Context, text string) error {
	p.texts = append(p.texts, text)
	return p.err
}

type replyWaiter struct {
	reply string
}

func (w replyWaiter) Wait(context.Context) (string, error) {
	return w.reply, nil
}

type silentWaiter struct{}

func (silentWaiter) Wait(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type brokenWaiter struct{}

func (brokenWaiter) Wait(context.Context) (string, error) {
	return "", errors.New("transport closed")
}

func threeParts() metadata.Video {
	return metadata.Video{
		Title: "Demo",
		Parts: []metadata.Part{
			{Index: 1, ID: "11", Title: "one"},
			{Index: 2, ID: "22", Title: "two"},
			{Index: 3, ID: "33", Title: "three"},
		},
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestSelector_SkipsSinglePart(t *testing.T) {
	s := NewSelector(time.Second, quietLogger())
	p := &recordPrompter{}
	out := s.Select(context.Background(), metadata.Video{Title: "x", Parts: []metadata.Part{{Index: 1}}}, p, brokenWaiter{})
	assert.Equal(t, AllParts, out.Selection)
	assert.Equal(t, ReasonSkipped, out.Reason)
	assert.Equal(t, Idle, out.State)
	assert.Empty(t, p.texts)
}

func TestSelector_ReplyList(t *testing.T) {
	s := NewSelector(time.Second, quietLogger())
	p := &recordPrompter{}
	out := s.Select(context.Background(), threeParts(), p, replyWaiter{reply: "1,3"})
	require.Len(t, p.texts, 1)
	assert.Contains(t, p.texts[0], "P3: three")
	assert.Equal(t, Selection{Kind: List, Indices: []int{1, 3}}, out.Selection)
	assert.Equal(t, "1,3", out.Selection.Spec())
	assert.Equal(t, Resolved, out.State)
}

func TestSelector_TimeoutIsAll(t *testing.T) {
	s := NewSelector(20*time.Millisecond, quietLogger())
	out := s.Select(context.Background(), threeParts(), &recordPrompter{}, silentWaiter{})
	assert.Equal(t, AllParts, out.Selection)
	assert.Equal(t, ReasonTimeout, out.Reason)
}

func TestSelector_CancelAndErrorsAreAll(t *testing.T) {
	s := NewSelector(time.Second, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := s.Select(ctx, threeParts(), &recordPrompter{}, silentWaiter{})
	assert.Equal(t, AllParts, out.Selection)
	assert.Equal(t, ReasonCancelled, out.Reason)

	out = s.Select(context.Background(), threeParts(), &recordPrompter{}, brokenWaiter{})
	assert.Equal(t, AllParts, out.Selection)
	assert.Equal(t, ReasonError, out.Reason)

	out = s.Select(context.Background(), threeParts(), &recordPrompter{err: errors.New("send failed")}, replyWaiter{reply: "2"})
	assert.Equal(t, AllParts, out.Selection)
}

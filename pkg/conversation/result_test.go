package conversation

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/llminster/llminster/pkg/session"
)

func describe(r Result[string]) string {
	return Match(r,
		func(v string) string { return "value:" + v },
		func() string { return "empty" },
		func(err error) string { return "error:" + err.Error() },
	)
}

func TestResult(t *testing.T) {
	assert.Equal(t, "value:hi", describe(Success("hi")))
	assert.Equal(t, "empty", describe(Empty[string]()))
	assert.Equal(t, "error:boom", describe(Failure[string](errors.New("boom"))))

	s := Success(42)
	v, ok := s.Value()
	assert.True(t, ok)
	assert.Equal(t, 42, v)
	assert.Equal(t, KindSuccess, s.Kind())
	assert.NoError(t, s.Err())

	e := Empty[int]()
	_, ok = e.Value()
	assert.False(t, ok)
	assert.True(t, e.IsEmpty())
	assert.Equal(t, "empty", e.Kind().String())

	f := Failure[int](nil)
	assert.True(t, f.IsFailure())
	assert.Error(t, f.Err(), "a failure always carries a reason")
}

func TestBuildWindow(t *testing.T) {
	tests := []struct {
		name  string
		turns []*session.Turn
		want  string
	}{
		{"empty", nil, ""},
		{
			"ordered by sequence",
			[]*session.Turn{
				{SequenceNumber: 2, Speaker: "gpt-4o", Content: "Hi"},
				{SequenceNumber: 1, Speaker: "User", Content: "Hello"},
				{SequenceNumber: 3, Speaker: "User", Content: "Bye"},
			},
			"User: Hello\ngpt-4o: Hi\nUser: Bye",
		},
		{
			"trailing whitespace trimmed",
			[]*session.Turn{{SequenceNumber: 1, Speaker: "User", Content: "line\n\n  "}},
			"User: line",
		},
		{
			"multi-line content kept",
			[]*session.Turn{{SequenceNumber: 1, Speaker: "User", Content: "a\nb"}},
			"User: a\nb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildWindow(tt.turns))
		})
	}
}

func TestBuildWindow_DoesNotReorderInput(t *testing.T) {
	turns := []*session.Turn{{SequenceNumber: 2, Speaker: "b"}, {SequenceNumber: 1, Speaker: "a"}}
	BuildWindow(turns)
	assert.Equal(t, int64(2), turns[0].SequenceNumber)
}

func TestKeyedMutex(t *testing.T) {
	km := newKeyedMutex()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("k")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, km.size())

	unlockA := km.Lock("a")
	unlockB := km.Lock("b")
	assert.Equal(t, 2, km.size())
	unlockA()
	unlockB()
	assert.Equal(t, 0, km.size())
}

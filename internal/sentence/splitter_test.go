package sentence

import "testing"

func TestSplitsOnSentenceBoundary(t *testing.T) {
	b := &Buffer{}
	var got []string
	for _, tok := range []string{"Hello ", "there. ", "How are you?"} {
		if s, ok := b.Add(tok); ok {
			got = append(got, s)
		}
	}
	if last, ok := b.Flush(); ok {
		got = append(got, last)
	}
	want := []string{"Hello there.", "How are you?"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d]=%q want %q", i, got[i], want[i])
		}
	}
}

func TestAbbreviationGuard(t *testing.T) {
	b := &Buffer{}
	if _, ok := b.Add("I saw Dr. Smith today."); !ok {
		t.Fatalf("expected a boundary after the real sentence end")
	}
	if s, _ := b.Add(""); s != "" {
		// no-op, accumulator should be empty after the one sentence
	}
}

func TestAbbreviationDoesNotSplitEarly(t *testing.T) {
	b := &Buffer{}
	s, ok := b.Add("I saw Dr. Smith today.")
	if !ok {
		t.Fatalf("expected a completed sentence")
	}
	if s != "I saw Dr. Smith today." {
		t.Fatalf("abbreviation caused an early split, got %q", s)
	}
}

func TestMinLengthGuard(t *testing.T) {
	b := &Buffer{}
	// "Ok." is under the 8-char minimum and should not split yet.
	if _, ok := b.Add("Ok. "); ok {
		t.Fatalf("expected short fragment to be held back")
	}
	s, ok := b.Add("Let's continue.")
	if !ok {
		t.Fatalf("expected eventual split once enough text accumulated")
	}
	if s != "Ok. Let's continue." {
		t.Fatalf("unexpected merged sentence: %q", s)
	}
}

func TestFlushReturnsResidual(t *testing.T) {
	b := &Buffer{}
	b.Add("No terminator here")
	s, ok := b.Flush()
	if !ok || s != "No terminator here" {
		t.Fatalf("expected flush to return residual text, got %q ok=%v", s, ok)
	}
	if _, ok := b.Flush(); ok {
		t.Fatalf("second flush should be empty")
	}
}

func TestBareNewlineIsABoundary(t *testing.T) {
	b := &Buffer{}
	s, ok := b.Add("Here is a long enough line\nand then more text")
	if !ok {
		t.Fatalf("expected the newline to end the sentence without terminal punctuation")
	}
	if s != "Here is a long enough line" {
		t.Fatalf("unexpected split text: %q", s)
	}
	rest, ok := b.Flush()
	if !ok || rest != "and then more text" {
		t.Fatalf("expected the remainder after the newline, got %q ok=%v", rest, ok)
	}
}

func TestShortLineBeforeNewlineIsHeldBack(t *testing.T) {
	b := &Buffer{}
	if _, ok := b.Add("Ok\n"); ok {
		t.Fatalf("expected a newline after a sub-minimum fragment to be held back")
	}
	s, ok := b.Add("Let's keep going after that\n")
	if !ok {
		t.Fatalf("expected eventual split once enough text accumulated")
	}
	if s != "Ok\nLet's keep going after that" {
		t.Fatalf("unexpected merged sentence: %q", s)
	}
}

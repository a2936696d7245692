package iden

import (
	"reflect"
	"testing"
)

func TestSegmentHashSplit(t *testing.T) {
	got := Segment("training#alice#round1", nil)
	want := []string{"training", "alice", "round1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Segment = %v, want %v", got, want)
	}
}

func TestSegmentSlashSeparator(t *testing.T) {
	// '/' is a separator (not emitted); letter and digit runs are distinct
	// segments even when adjacent with no separator between them.
	got := Segment("problem/cf1234A", nil)
	want := []string{"problem", "cf", "1234", "A"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Segment = %v, want %v", got, want)
	}
}

func TestSegmentClassChange(t *testing.T) {
	got := Segment("abc123def", nil)
	want := []string{"abc", "123", "def"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Segment = %v, want %v", got, want)
	}
}

func TestSegmentDictionaryCut(t *testing.T) {
	// "round" is a dictionary word embedded in a longer letter run; the cut
	// should fire as soon as the word completes, even mid-run.
	got := Segment("roundtable", []string{"round"})
	want := []string{"round", "table"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Segment = %v, want %v", got, want)
	}
}

func TestSegmentNoDictionaryMatch(t *testing.T) {
	got := Segment("contest", []string{"round"})
	want := []string{"contest"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Segment = %v, want %v", got, want)
	}
}

func TestJoinRoundTrips(t *testing.T) {
	segs := []string{"training", "alice", "round1"}
	if got := Join(segs); got != "training#alice#round1" {
		t.Fatalf("Join = %q", got)
	}
}

package core

import (
	"fmt"
	"reflect"
	"testing"
)

func TestSplitPartitionsWithoutLoss(t *testing.T) {
	var texts, labels []string
	for i := 0; i < 10; i++ {
		texts = append(texts, fmt.Sprintf("text-%d", i))
		labels = append(labels, fmt.Sprintf("label-%d", i%3))
	}

	trainX, trainY, testX, testY := split(texts, labels)

	if len(trainX) != len(trainY) || len(testX) != len(testY) {
		t.Fatalf("texts and labels diverged: %d/%d train, %d/%d test",
			len(trainX), len(trainY), len(testX), len(testY))
	}
	if len(testX) != 2 {
		t.Fatalf("test partition = %d, want one fifth of 10", len(testX))
	}

	seen := make(map[string]int)
	for _, x := range trainX {
		seen[x]++
	}
	for _, x := range testX {
		seen[x]++
	}
	if len(seen) != len(texts) {
		t.Fatalf("partitions cover %d distinct texts, want %d", len(seen), len(texts))
	}
	for x, n := range seen {
		if n != 1 {
			t.Fatalf("text %q appears %d times across partitions", x, n)
		}
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	texts := []string{"a", "b", "c", "d", "e", "f"}
	labels := []string{"1", "2", "1", "2", "1", "2"}

	aX, aY, aTX, aTY := split(texts, labels)
	bX, bY, bTX, bTY := split(texts, labels)

	if !reflect.DeepEqual(aX, bX) || !reflect.DeepEqual(aY, bY) ||
		!reflect.DeepEqual(aTX, bTX) || !reflect.DeepEqual(aTY, bTY) {
		t.Fatal("two splits of the same input disagree")
	}
}

func TestSplitTinyInputs(t *testing.T) {
	trainX, _, testX, _ := split([]string{"a", "b"}, []string{"1", "2"})
	if len(trainX) != 1 || len(testX) != 1 {
		t.Fatalf("two examples split %d/%d, want 1/1", len(trainX), len(testX))
	}

	trainX, _, testX, _ = split([]string{"only"}, []string{"1"})
	if len(trainX)+len(testX) != 1 {
		t.Fatalf("single example lost in split: %d/%d", len(trainX), len(testX))
	}
}

package extsort

import (
	"testing"

	"pagedb/internal/diskfile"
)

func valuesToFile(t *testing.T, f diskfile.BlockFile, vals []uint64) {
	t.Helper()
	buf := make([]byte, len(vals)*8)
	for i, v := range vals {
		encodeUint64(buf[i*8:i*8+8], v)
	}
	if _, err := f.WriteAt(buf, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
}

func readValues(t *testing.T, f diskfile.BlockFile, n int) []uint64 {
	t.Helper()
	buf := make([]byte, n*8)
	if _, err := f.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = decodeUint64(buf[i*8 : i*8+8])
	}
	return out
}

// TestSortScenario forces multiple merge passes with a tiny budget:
// input [5,2,7,2,0,9,3,8,1,6] at mem_size=16 (fits two u64s per run)
// must yield [0,1,2,2,3,5,6,7,8,9].
func TestSortScenario(t *testing.T) {
	factory := diskfile.NewFactory(t.TempDir(), 16, false)
	input := factory.TempFile()
	output := factory.TempFile()

	in := []uint64{5, 2, 7, 2, 0, 9, 3, 8, 1, 6}
	valuesToFile(t, input, in)

	if err := Sort(factory, input, len(in), output, 16); err != nil {
		t.Fatalf("Sort: %v", err)
	}

	got := readValues(t, output, len(in))
	want := []uint64{0, 1, 2, 2, 3, 5, 6, 7, 8, 9}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSortSingleRun(t *testing.T) {
	factory := diskfile.NewFactory(t.TempDir(), 64, false)
	input := factory.TempFile()
	output := factory.TempFile()

	in := []uint64{9, 1, 5, 2}
	valuesToFile(t, input, in)

	if err := Sort(factory, input, len(in), output, 64); err != nil {
		t.Fatalf("Sort: %v", err)
	}
	got := readValues(t, output, len(in))
	want := []uint64{1, 2, 5, 9}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSortIdempotent(t *testing.T) {
	factory := diskfile.NewFactory(t.TempDir(), 16, false)
	input := factory.TempFile()
	mid := factory.TempFile()
	final := factory.TempFile()

	in := []uint64{40, 10, 30, 20, 50, 0, 7, 99, 3, 64, 1}
	valuesToFile(t, input, in)

	if err := Sort(factory, input, len(in), mid, 24); err != nil {
		t.Fatalf("Sort (first pass): %v", err)
	}
	if err := Sort(factory, mid, len(in), final, 24); err != nil {
		t.Fatalf("Sort (second pass): %v", err)
	}

	first := readValues(t, mid, len(in))
	second := readValues(t, final, len(in))
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("sort(sort(R)) != sort(R): %v vs %v", first, second)
		}
	}
	for i := 1; i < len(second); i++ {
		if second[i-1] > second[i] {
			t.Fatalf("output not sorted: %v", second)
		}
	}
}

func TestSortEmpty(t *testing.T) {
	factory := diskfile.NewFactory(t.TempDir(), 32, false)
	input := factory.TempFile()
	output := factory.TempFile()

	if err := Sort(factory, input, 0, output, 32); err != nil {
		t.Fatalf("Sort: %v", err)
	}
	size, err := output.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 0 {
		t.Fatalf("output size = %d, want 0", size)
	}
}

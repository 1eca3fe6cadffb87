package utils_test

import (
	"errors"
	"strconv"
	"testing"

	"github.com/google/caliban-sub000/pkg/utils"
	"github.com/google/caliban-sub000/pkg/utils/cmp"
)

func TestMap(t *testing.T) {
	t.Run("it maps each element, keeping order", func(t *testing.T) {
		actual := utils.Map([]int{3, 1, 2}, strconv.Itoa)
		if !cmp.SliceEq(actual, []string{"3", "1", "2"}) {
			t.Errorf("unexpected: %v", actual)
		}
	})
}

func TestMapUntilError(t *testing.T) {
	t.Run("it stops at the first error", func(t *testing.T) {
		expectedErr := errors.New("odd")
		calls := 0
		_, err := utils.MapUntilError([]int{2, 4, 5, 6}, func(v int) (int, error) {
			calls += 1
			if v%2 != 0 {
				return 0, expectedErr
			}
			return v * 2, nil
		})

		if !errors.Is(err, expectedErr) {
			t.Errorf("got %v", err)
		}
		if calls != 3 {
			t.Errorf("mapper called %d times, want 3", calls)
		}
	})
}

func TestToMap(t *testing.T) {
	t.Run("latter value takes over on key collision", func(t *testing.T) {
		actual := utils.ToMap(
			[]string{"apple", "avocado", "banana"},
			func(v string) byte { return v[0] },
		)
		expected := map[byte]string{'a': "avocado", 'b': "banana"}
		if !cmp.MapEq(actual, expected) {
			t.Errorf("unexpected: %v", actual)
		}
	})
}

func TestFilter(t *testing.T) {
	t.Run("it keeps only matching elements", func(t *testing.T) {
		actual := utils.Filter([]int{1, 2, 3, 4, 5}, func(v int) bool { return v%2 == 0 })
		if !cmp.SliceEq(actual, []int{2, 4}) {
			t.Errorf("unexpected: %v", actual)
		}
	})
}

func TestFirst(t *testing.T) {
	t.Run("it returns the first match", func(t *testing.T) {
		got, ok := utils.First([]int{1, 2, 3, 4}, func(v int) bool { return 2 < v })
		if !ok || got != 3 {
			t.Errorf("got (%d, %v)", got, ok)
		}
	})

	t.Run("it reports no match", func(t *testing.T) {
		if _, ok := utils.First([]int{1, 2}, func(v int) bool { return 10 < v }); ok {
			t.Error("found something in nothing")
		}
	})
}

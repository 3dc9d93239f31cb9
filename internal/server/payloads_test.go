package server

import (
	"reflect"
	"testing"
)

func TestSplitTagsDropsBlankSegments(t *testing.T) {
	testCases := []struct {
		raw  string
		want []string
	}{
		{raw: "", want: nil},
		{raw: " , ,", want: nil},
		{raw: "go,", want: []string{"go"}},
		{raw: "go,,rust", want: []string{"go", "rust"}},
		{raw: " go , web dev ", want: []string{"go", "web dev"}},
	}
	for _, testCase := range testCases {
		if got := splitTags(testCase.raw); !reflect.DeepEqual(got, testCase.want) {
			t.Fatalf("splitTags(%q): expected %v, got %v", testCase.raw, testCase.want, got)
		}
	}
}

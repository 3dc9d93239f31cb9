package bookmarks

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeURL(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "adds-root-path", input: "https://example.com", want: "https://example.com/"},
		{name: "lowercases-scheme-and-host", input: "HTTP://WWW.Example.COM/Path", want: "http://www.example.com/Path"},
		{name: "drops-default-http-port", input: "http://example.com:80/a", want: "http://example.com/a"},
		{name: "keeps-custom-port", input: "http://example.com:8080/a", want: "http://example.com:8080/a"},
		{name: "drops-fragment", input: "https://example.com/a?b=c#section", want: "https://example.com/a?b=c"},
		{name: "trims-whitespace", input: "  https://example.com/a  ", want: "https://example.com/a"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got, err := NormalizeURL(testCase.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != testCase.want {
				t.Fatalf("got %q want %q", got, testCase.want)
			}
		})
	}
}

func TestNormalizeURLRejectsNonAbsolute(t *testing.T) {
	inputs := []string{
		"",
		"example.com",
		"/relative/path",
		"mailto:someone@example.com",
		"place:folder=BOOKMARKS_MENU",
		"https://" + strings.Repeat("a", maxURLLength),
	}
	for _, input := range inputs {
		if _, err := NormalizeURL(input); !errors.Is(err, ErrInvalidURL) {
			t.Fatalf("expected ErrInvalidURL for %q, got %v", input, err)
		}
	}
}

func TestPageNormalize(t *testing.T) {
	page := Page{Number: 0, Size: 1000}.Normalize()
	if page.Number != 1 || page.Size != MaxPageSize {
		t.Fatalf("unexpected page %#v", page)
	}
	if offset := (Page{Number: 3, Size: 10}).Offset(); offset != 20 {
		t.Fatalf("unexpected offset %d", offset)
	}
	if size := (Page{}).Normalize().Size; size != DefaultPageSize {
		t.Fatalf("unexpected default size %d", size)
	}
}

// Package imports reads browser bookmark exports in the Netscape bookmark file format.
package imports

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/markme/internal/bookmarks"
	"github.com/MarcoPoloResearchLab/markme/internal/tags"
	"golang.org/x/net/html"
)

const (
	maxCapturedText = 8 << 10
	maxWarnings     = 50

	attrHref    = "href"
	attrTags    = "tags"
	attrAddDate = "add_date"
)

// Record is one link recovered from an export.
type Record struct {
	URL         string
	Title       string
	Description string
	Tags        []string
	CreatedAt   time.Time
}

type decoderState int

const (
	stateOutsideList decoderState = iota
	stateInFolder
	stateAtLink
)

type captureTarget int

const (
	captureNone captureTarget = iota
	captureFolder
	captureLink
	captureDescription
)

// Decoder streams Records out of an HTML bookmark export. It never builds a document
// tree and recovers from malformed nesting instead of failing.
type Decoder struct {
	tokenizer *html.Tokenizer
	state     decoderState

	folders       []string
	pendingFolder string

	capture captureTarget
	text    strings.Builder

	link  *Record
	held  *Record
	ready []Record

	skipped  int
	warnings []string
	done     bool
	err      error
}

// NewDecoder returns a Decoder reading from reader.
func NewDecoder(reader io.Reader) *Decoder {
	return &Decoder{tokenizer: html.NewTokenizer(reader)}
}

// Next returns the next record. It returns io.EOF once the input is exhausted and a
// different error only when the underlying reader fails.
func (d *Decoder) Next() (Record, error) {
	for {
		if len(d.ready) > 0 {
			record := d.ready[0]
			d.ready = d.ready[1:]
			return record, nil
		}
		if d.done {
			if d.err != nil {
				return Record{}, d.err
			}
			return Record{}, io.EOF
		}
		d.step()
	}
}

// Skipped reports how many fragments were dropped so far.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// Warnings describes the dropped fragments, capped to a fixed number of entries.
func (d *Decoder) Warnings() []string {
	return d.warnings
}

func (d *Decoder) step() {
	switch d.tokenizer.Next() {
	case html.ErrorToken:
		d.finish(d.tokenizer.Err())
	case html.TextToken:
		d.appendText(d.tokenizer.Text())
	case html.StartTagToken, html.SelfClosingTagToken:
		name, hasAttr := d.tokenizer.TagName()
		d.startTag(string(name), hasAttr)
	case html.EndTagToken:
		name, _ := d.tokenizer.TagName()
		d.endTag(string(name))
	}
}

func (d *Decoder) startTag(name string, hasAttr bool) {
	if d.state == stateAtLink {
		d.finishLink()
	}
	switch name {
	case "a":
		d.releaseHeld()
		d.dropPendingFolder()
		d.openLink(d.attributes(hasAttr))
	case "h3":
		d.releaseHeld()
		d.beginCapture(captureFolder)
	case "dl":
		d.releaseHeld()
		d.endFolderCapture()
		d.folders = append(d.folders, d.pendingFolder)
		d.pendingFolder = ""
		d.state = stateInFolder
	case "dt":
		d.releaseHeld()
		d.dropPendingFolder()
	case "dd":
		if d.held != nil {
			d.beginCapture(captureDescription)
		}
	}
}

func (d *Decoder) endTag(name string) {
	switch name {
	case "a":
		if d.state == stateAtLink {
			d.finishLink()
		}
	case "h3":
		d.endFolderCapture()
	case "dl":
		if d.state == stateAtLink {
			d.finishLink()
		}
		d.releaseHeld()
		if len(d.folders) == 0 {
			d.skip("unmatched </DL>")
			return
		}
		d.folders = d.folders[:len(d.folders)-1]
		d.state = d.listState()
	}
}

func (d *Decoder) finish(err error) {
	if d.state == stateAtLink {
		d.finishLink()
	}
	d.releaseHeld()
	d.folders = nil
	d.state = stateOutsideList
	d.done = true
	if err != nil && !errors.Is(err, io.EOF) {
		d.err = err
	}
}

func (d *Decoder) attributes(hasAttr bool) map[string]string {
	attrs := make(map[string]string, 3)
	for hasAttr {
		var key, value []byte
		key, value, hasAttr = d.tokenizer.TagAttr()
		switch name := string(key); name {
		case attrHref, attrTags, attrAddDate:
			attrs[name] = string(value)
		}
	}
	return attrs
}

func (d *Decoder) openLink(attrs map[string]string) {
	href := strings.TrimSpace(attrs[attrHref])
	if href == "" {
		d.skip("link without href")
		return
	}
	d.link = &Record{
		URL:       href,
		Tags:      d.linkTags(attrs[attrTags]),
		CreatedAt: parseAddDate(attrs[attrAddDate]),
	}
	d.state = stateAtLink
	d.beginCapture(captureLink)
}

func (d *Decoder) finishLink() {
	link := d.link
	d.link = nil
	d.state = d.listState()
	if link == nil {
		return
	}
	link.Title = truncateRunes(collapse(d.text.String()), bookmarks.MaxTitleLength)
	if link.Title == "" {
		link.Title = truncateRunes(link.URL, bookmarks.MaxTitleLength)
	}
	d.capture = captureNone
	d.text.Reset()
	d.held = link
}

func (d *Decoder) releaseHeld() {
	if d.held == nil {
		return
	}
	if d.capture == captureDescription {
		d.held.Description = truncateRunes(collapse(d.text.String()), bookmarks.MaxDescriptionLength)
		d.capture = captureNone
		d.text.Reset()
	}
	d.ready = append(d.ready, *d.held)
	d.held = nil
}

func (d *Decoder) beginCapture(target captureTarget) {
	d.capture = target
	d.text.Reset()
}

func (d *Decoder) endFolderCapture() {
	if d.capture != captureFolder {
		return
	}
	d.pendingFolder = collapse(d.text.String())
	d.capture = captureNone
	d.text.Reset()
}

// dropPendingFolder forgets a folder heading that was not followed by its list.
func (d *Decoder) dropPendingFolder() {
	d.endFolderCapture()
	if d.pendingFolder == "" {
		return
	}
	d.pendingFolder = ""
	d.skip("folder without list")
}

func (d *Decoder) appendText(chunk []byte) {
	if d.capture == captureNone {
		return
	}
	room := maxCapturedText - d.text.Len()
	if room <= 0 {
		return
	}
	if len(chunk) > room {
		chunk = chunk[:room]
	}
	d.text.Write(chunk)
}

func (d *Decoder) linkTags(attribute string) []string {
	seen := make(map[tags.Name]struct{})
	names := make([]string, 0, len(d.folders))
	add := func(raw string) {
		name, err := tags.Normalize(raw)
		if err != nil {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name.String())
	}
	for _, folder := range d.folders {
		add(folder)
	}
	for _, raw := range strings.Split(attribute, ",") {
		add(raw)
	}
	return names
}

func (d *Decoder) listState() decoderState {
	if len(d.folders) == 0 {
		return stateOutsideList
	}
	return stateInFolder
}

func (d *Decoder) skip(reason string) {
	d.skipped++
	if len(d.warnings) < maxWarnings {
		d.warnings = append(d.warnings, fmt.Sprintf("skipped fragment %d: %s", d.skipped, reason))
	}
}

// parseAddDate reads an ADD_DATE attribute. Exports write unix seconds; millisecond and
// microsecond values are accepted as well.
func parseAddDate(value string) time.Time {
	raw, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || raw <= 0 {
		return time.Time{}
	}
	switch {
	case raw > 1e15:
		return time.UnixMicro(raw).UTC()
	case raw > 1e12:
		return time.UnixMilli(raw).UTC()
	default:
		return time.Unix(raw, 0).UTC()
	}
}

func collapse(text string) string {
	return strings.Join(strings.Fields(strings.ToValidUTF8(text, "")), " ")
}

func truncateRunes(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit])
}

package form

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lexify/requestforms/category"
)

// Slot names one of the two attachment lists of a draft.
type Slot string

const (
	SlotBackground Slot = "background"
	SlotSupplier   Slot = "supplier"
)

// Attachment is a file picked by the user. Content is opened lazily so the
// same attachment can be sent again after a failed submission.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`

	open func() (io.ReadCloser, error)
}

// Open returns a fresh reader over the attachment content.
func (a Attachment) Open() (io.ReadCloser, error) {
	if a.open == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoContent, a.Filename)
	}
	return a.open()
}

// FileAttachment references a file on disk by path.
func FileAttachment(path string) (Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Attachment{}, err
	}
	if info.IsDir() {
		return Attachment{}, fmt.Errorf("%s is a directory", path)
	}
	return Attachment{
		Filename: filepath.Base(path),
		Size:     info.Size(),
		open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// BytesAttachment wraps in-memory content.
func BytesAttachment(filename, contentType string, data []byte) Attachment {
	return Attachment{
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(data)),
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// Attachments holds the two ordered attachment lists of a draft.
type Attachments struct {
	Background []Attachment `json:"background,omitempty"`
	Supplier   []Attachment `json:"supplier,omitempty"`
}

// Slot returns the list for slot.
func (a Attachments) Slot(slot Slot) []Attachment {
	switch slot {
	case SlotBackground:
		return a.Background
	case SlotSupplier:
		return a.Supplier
	}
	return nil
}

// Count returns the number of attachments in both slots.
func (a Attachments) Count() int {
	return len(a.Background) + len(a.Supplier)
}

// Filenames returns the names of the attachments in slot, in order.
func (a Attachments) Filenames(slot Slot) []string {
	files := a.Slot(slot)
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Filename
	}
	return names
}

func (a Attachments) clone() Attachments {
	return Attachments{
		Background: append([]Attachment(nil), a.Background...),
		Supplier:   append([]Attachment(nil), a.Supplier...),
	}
}

// Snapshot is an immutable copy of a draft.
type Snapshot struct {
	Values map[string]string   `json:"values,omitempty"`
	Lists  map[string][]string `json:"lists,omitempty"`
	Flags  map[string]bool     `json:"flags,omitempty"`
	Files  Attachments         `json:"files"`
	Agree  bool                `json:"agree"`
}

// Value returns a scalar field, trimmed.
func (s Snapshot) Value(key string) string {
	return strings.TrimSpace(s.Values[key])
}

// List returns a checkbox field.
func (s Snapshot) List(key string) []string {
	return s.Lists[key]
}

// Flag returns a single checkbox field.
func (s Snapshot) Flag(key string) bool {
	return s.Flags[key]
}

func (s Snapshot) clone() Snapshot {
	c := Snapshot{
		Values: make(map[string]string, len(s.Values)),
		Lists:  make(map[string][]string, len(s.Lists)),
		Flags:  make(map[string]bool, len(s.Flags)),
		Files:  s.Files.clone(),
		Agree:  s.Agree,
	}
	for k, v := range s.Values {
		c.Values[k] = v
	}
	for k, v := range s.Lists {
		c.Lists[k] = append([]string(nil), v...)
	}
	for k, v := range s.Flags {
		c.Flags[k] = v
	}
	return c
}

// only drops every field outside visible. Stale values of hidden fields
// never reach composition.
func (s Snapshot) only(visible category.FieldSet) Snapshot {
	c := s.clone()
	for k := range c.Values {
		if !visible.Has(k) {
			delete(c.Values, k)
		}
	}
	for k := range c.Lists {
		if !visible.Has(k) {
			delete(c.Lists, k)
		}
	}
	for k := range c.Flags {
		if !visible.Has(k) {
			delete(c.Flags, k)
		}
	}
	return c
}

// Facts turns the snapshot into CEL activation values for spec. Every
// declared field is present, empty when unset.
func (s Snapshot) Facts(spec *category.Spec) map[string]any {
	fields := spec.AllFields()
	facts := make(map[string]any, len(fields)+1)
	for _, f := range fields {
		switch f.Kind {
		case category.KindMulti:
			list := append([]string{}, s.Lists[f.Key]...)
			facts[f.Key] = list
		case category.KindFlag:
			facts[f.Key] = s.Flags[f.Key]
		default:
			facts[f.Key] = strings.TrimSpace(s.Values[f.Key])
		}
	}
	facts[category.AgreeVariable] = s.Agree
	return facts
}

// Draft is the mutable state of one in-progress request. It accepts any
// input, including contradictory combinations; checking happens elsewhere.
// Safe for concurrent use.
type Draft struct {
	state Snapshot
	// rev counts mutations so a finished submission can tell whether the
	// draft was edited meanwhile.
	rev uint64
	mu  sync.RWMutex
}

// NewDraft returns an empty draft.
func NewDraft() *Draft {
	d := &Draft{}
	d.state = emptySnapshot()
	return d
}

func emptySnapshot() Snapshot {
	return Snapshot{
		Values: make(map[string]string),
		Lists:  make(map[string][]string),
		Flags:  make(map[string]bool),
	}
}

// Get returns a copy of the current state.
func (d *Draft) Get() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state.clone()
}

// getRev returns a copy of the current state and its revision.
func (d *Draft) getRev() (Snapshot, uint64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state.clone(), d.rev
}

// resetAt resets the draft only when it is still at revision rev.
func (d *Draft) resetAt(rev uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rev != rev {
		return false
	}
	d.state = emptySnapshot()
	d.rev++
	return true
}

// Set replaces a scalar field. An empty value clears it.
func (d *Draft) Set(field, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rev++

	if value == "" {
		delete(d.state.Values, field)
		return
	}
	d.state.Values[field] = value
}

// SetFlag sets a single checkbox field.
func (d *Draft) SetFlag(field string, checked bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rev++

	if !checked {
		delete(d.state.Flags, field)
		return
	}
	d.state.Flags[field] = true
}

// SetAgree sets the final confirmation checkbox.
func (d *Draft) SetAgree(agree bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rev++
	d.state.Agree = agree
}

// Toggle adds value to or removes it from a checkbox list. Adding a value
// already present does nothing; selection order is kept.
func (d *Draft) Toggle(field, value string, included bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rev++

	list := d.state.Lists[field]
	idx := -1
	for i, v := range list {
		if v == value {
			idx = i
			break
		}
	}

	switch {
	case included && idx < 0:
		d.state.Lists[field] = append(list, value)
	case !included && idx >= 0:
		list = append(list[:idx:idx], list[idx+1:]...)
		if len(list) == 0 {
			delete(d.state.Lists, field)
			return
		}
		d.state.Lists[field] = list
	}
}

// AddFiles appends attachments to slot.
func (d *Draft) AddFiles(slot Slot, files ...Attachment) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch slot {
	case SlotBackground:
		d.state.Files.Background = append(d.state.Files.Background, files...)
	case SlotSupplier:
		d.state.Files.Supplier = append(d.state.Files.Supplier, files...)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
	d.rev++
	return nil
}

// RemoveFile removes the attachment at index from slot.
func (d *Draft) RemoveFile(slot Slot, index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var list *[]Attachment
	switch slot {
	case SlotBackground:
		list = &d.state.Files.Background
	case SlotSupplier:
		list = &d.state.Files.Supplier
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}

	if index < 0 || index >= len(*list) {
		return fmt.Errorf("%w: %d", ErrFileIndex, index)
	}
	*list = append((*list)[:index:index], (*list)[index+1:]...)
	d.rev++
	return nil
}

// Reset returns the draft to its initial empty state.
func (d *Draft) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rev++
	d.state = emptySnapshot()
}

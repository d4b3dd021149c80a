// Package dirty tracks the screen area modified since the last transfer.
//
// The tracker keeps a single bounding box: marking a second rectangle grows the
// box to cover both. The box may cover more pixels than were actually drawn,
// which keeps tracking O(1) at the cost of some retransmission.
package dirty

import "image"

// Transferer moves frame buffer content to the display.
type Transferer interface {
	// TransferRegion sends r, already clipped to the screen.
	TransferRegion(r image.Rectangle) error
	// TransferFromSRAM sends the whole screen.
	TransferFromSRAM() error
}

// Tracker accumulates the dirty bounding box. The zero value is an inactive
// tracker for a screen of size zero; use New.
type Tracker struct {
	bounds image.Rectangle
	rect   image.Rectangle
	active bool
}

// New returns an inactive tracker for a screen covering bounds.
func New(bounds image.Rectangle) *Tracker {
	return &Tracker{bounds: bounds}
}

// MarkDirty adds r to the dirty box. r is not clipped here; coordinates
// outside the screen are dropped when the update runs.
func (t *Tracker) MarkDirty(r image.Rectangle) {
	r = r.Canon()
	if !t.active {
		t.rect = r
		t.active = true
		return
	}
	t.rect.Min.X = min(t.rect.Min.X, r.Min.X)
	t.rect.Min.Y = min(t.rect.Min.Y, r.Min.Y)
	t.rect.Max.X = max(t.rect.Max.X, r.Max.X)
	t.rect.Max.Y = max(t.rect.Max.Y, r.Max.Y)
}

// Rect returns the dirty box and whether it is active.
func (t *Tracker) Rect() (image.Rectangle, bool) {
	return t.rect, t.active
}

// Active reports whether anything is scheduled for transfer.
func (t *Tracker) Active() bool {
	return t.active
}

// Reset drops the dirty box without transferring anything.
func (t *Tracker) Reset() {
	t.rect = image.Rectangle{}
	t.active = false
}

// RequestUpdate transfers the dirty box, clipped to the screen, and deactivates
// the tracker. It does nothing when inactive. On error the box is kept.
func (t *Tracker) RequestUpdate(tr Transferer) error {
	if !t.active {
		return nil
	}
	if err := tr.TransferRegion(t.rect.Intersect(t.bounds)); err != nil {
		return err
	}
	t.Reset()
	return nil
}

// RequestFullUpdate transfers the whole screen regardless of the tracked state
// and deactivates the tracker.
func (t *Tracker) RequestFullUpdate(tr Transferer) error {
	if err := tr.TransferFromSRAM(); err != nil {
		return err
	}
	t.Reset()
	return nil
}

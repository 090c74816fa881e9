// Package notice holds the transient message shown by a feature. Each post
// carries a monotonically increasing sequence number so presentation can
// retrigger on identical text instead of comparing strings.
package notice

import "sync"

type Kind int

const (
	KindNone Kind = iota
	KindError
	KindSuccess
)

// Notice is one transient message. Seq is unique per board; Seq 0 means
// nothing has been posted.
type Notice struct {
	Kind Kind
	Text string
	Seq  uint64
}

// Board tracks the current notice for one feature. Posting an error displaces
// a success and vice versa.
type Board struct {
	mu  sync.Mutex
	cur Notice
	seq uint64
}

func (b *Board) Post(kind Kind, text string) Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.cur = Notice{Kind: kind, Text: text, Seq: b.seq}
	return b.cur
}

func (b *Board) Error(text string) Notice   { return b.Post(KindError, text) }
func (b *Board) Success(text string) Notice { return b.Post(KindSuccess, text) }

// Clear removes the current notice without burning a sequence number gap
// visible to readers; Current reports KindNone afterwards.
func (b *Board) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cur = Notice{}
}

func (b *Board) Current() Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cur
}

// Copyright (C) 2024  Simon <simon@shfs.dev>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package shfs

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"git.sr.ht/~simon/shfs-admin/lib/digest"
	"git.sr.ht/~simon/shfs-admin/lib/shfsvol"
	"git.sr.ht/~simon/shfs-admin/lib/util"
)

// ErrCancelled is returned by Engine.Run's per-token result when the
// cancel function trips mid-token; the caller (the CLI layer) maps it to
// exit status -2.
var ErrCancelled = errors.New("cancelled")

// ActionToken is the tagged variant the external CLI layer builds and
// Engine.Run matches over.
type ActionToken interface{ isActionToken() }

type AddObj struct {
	Path string
	Mime string
	Name string
}

type RmObj struct{ HashHex string }
type CatObj struct{ HashHex string }
type SetDefaultTok struct{ HashHex string }
type ClearDefaultTok struct{}
type LsTok struct{}
type InfoTok struct{}

func (AddObj) isActionToken()          {}
func (RmObj) isActionToken()           {}
func (CatObj) isActionToken()          {}
func (SetDefaultTok) isActionToken()   {}
func (ClearDefaultTok) isActionToken() {}
func (LsTok) isActionToken()           {}
func (InfoTok) isActionToken()         {}

// ActionResult is the per-token outcome: nil Err is OK,
// an *ActionError is USER-ERROR (the run continues), ErrCancelled aborts
// the remaining tokens.
type ActionResult struct {
	Token ActionToken
	Err   error
}

// CancelFunc reports whether the run has been asked to stop; the CLI
// layer backs it with a flag an external signal handler updates
// atomically.
type CancelFunc func() bool

// Engine runs an ordered action-token list against a mounted Volume.
type Engine struct {
	vol        *Volume
	digestKind digest.Kind
	cancel     CancelFunc
	stdout     io.Writer
}

func NewEngine(vol *Volume, kind digest.Kind, cancel CancelFunc, stdout io.Writer) *Engine {
	if cancel == nil {
		cancel = func() bool { return false }
	}
	return &Engine{vol: vol, digestKind: kind, cancel: cancel, stdout: stdout}
}

// Run executes tokens in order, halting early (without running later
// tokens) if cancellation is observed between tokens.
func (e *Engine) Run(ctx context.Context, tokens []ActionToken) []ActionResult {
	results := make([]ActionResult, 0, len(tokens))
	for _, tok := range tokens {
		if e.cancel() {
			results = append(results, ActionResult{Token: tok, Err: ErrCancelled})
			break
		}
		err := e.runOne(ctx, tok)
		results = append(results, ActionResult{Token: tok, Err: err})
		if errors.Is(err, ErrCancelled) {
			break
		}
	}
	return results
}

func (e *Engine) runOne(ctx context.Context, tok ActionToken) error {
	switch t := tok.(type) {
	case AddObj:
		return e.addObj(ctx, t)
	case RmObj:
		return e.rmObj(t)
	case CatObj:
		return e.catObj(ctx, t)
	case SetDefaultTok:
		return e.setDefault(t)
	case ClearDefaultTok:
		return e.clearDefault()
	case LsTok:
		return e.ls()
	case InfoTok:
		return e.info()
	default:
		return fmt.Errorf("unknown action token %T", tok)
	}
}

func (e *Engine) chunkSize() int64 { return e.vol.Meta.ChunkSize }

func (e *Engine) addObj(ctx context.Context, t AddObj) error {
	f, err := os.Open(t.Path)
	if err != nil {
		return &ActionError{Kind: NotRegular, Message: err.Error()}
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return &ActionError{Kind: NotRegular, Message: err.Error()}
	}
	if !fi.Mode().IsRegular() {
		return &ActionError{Kind: NotRegular, Message: fmt.Sprintf("%q is not a regular file", t.Path)}
	}
	fsize := fi.Size()
	chunkSize := e.chunkSize()
	csize := uint64(util.CeilDiv(fsize, chunkSize))
	if csize == 0 {
		csize = 1
	}

	cchk, err := e.vol.Alloc.Reserve(csize)
	if err != nil {
		return err
	}
	rollback := func() { _ = e.vol.Alloc.Unregister(cchk, csize) }

	d, err := digest.New(e.digestKind, int(e.vol.Meta.HLen))
	if err != nil {
		rollback()
		return &ActionError{Kind: NotRegular, Message: err.Error()}
	}
	if _, err := io.Copy(d, f); err != nil {
		rollback()
		return &ActionError{Kind: NotRegular, Message: err.Error()}
	}
	fhash := d.Sum()

	if _, ok := e.vol.Buckets.Lookup(fhash); ok {
		rollback()
		return &ActionError{Kind: Duplicate, Message: fmt.Sprintf("object %s already present", hex.EncodeToString(fhash))}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		rollback()
		return &ActionError{Kind: NotRegular, Message: err.Error()}
	}
	buf := make([]byte, chunkSize)
	var remaining int64 = fsize
	for c := uint64(0); c < csize; c++ {
		if e.cancel() {
			rollback()
			return ErrCancelled
		}
		for i := range buf {
			buf[i] = 0
		}
		want := chunkSize
		if remaining < want {
			want = remaining
		}
		if want > 0 {
			if _, err := io.ReadFull(f, buf[:want]); err != nil {
				rollback()
				return &ActionError{Kind: NotRegular, Message: err.Error()}
			}
		}
		remaining -= want
		if err := e.vol.vol.WriteChunks(shfsvol.ChunkNum(cchk+c), 1, buf); err != nil {
			rollback()
			return fmt.Errorf("add-obj: write chunk %d: %w", cchk+c, err)
		}
	}

	idx, err := e.vol.Buckets.Add(fhash)
	if err != nil {
		rollback()
		return &ActionError{Kind: BucketFullKind, Message: err.Error()}
	}

	view, err := e.vol.Cache.EntryAt(idx)
	if err != nil {
		rollback()
		return err
	}
	name := t.Name
	if name == "" {
		name = filepath.Base(t.Path)
	}
	view.SetHash(fhash)
	view.SetChunk(cchk)
	view.SetOffset(0)
	view.SetLen(uint32(fsize))
	view.SetTSCreation(time.Now().Unix())
	view.SetFlags(0)
	view.SetMime(t.Mime)
	view.SetName(name)
	view.SetEncoding("")
	e.vol.Cache.MarkDirtyForEntry(idx)
	return nil
}

func (e *Engine) parseHash(hashHex string) ([]byte, error) {
	want := int(e.vol.Meta.HLen) * 2
	if len(hashHex) != want {
		return nil, &ActionError{Kind: BadHex, Message: fmt.Sprintf("hash must be %d hex characters, got %d", want, len(hashHex))}
	}
	h, err := hex.DecodeString(hashHex)
	if err != nil {
		return nil, &ActionError{Kind: BadHex, Message: err.Error()}
	}
	return h, nil
}

func (e *Engine) rmObj(t RmObj) error {
	hash, err := e.parseHash(t.HashHex)
	if err != nil {
		return err
	}
	idx, ok := e.vol.Buckets.Lookup(hash)
	if !ok {
		return &ActionError{Kind: NotFoundKind, Message: fmt.Sprintf("no such object %s", t.HashHex)}
	}
	view, err := e.vol.Cache.EntryAt(idx)
	if err != nil {
		return err
	}
	span := util.CeilDiv(uint64(view.Offset())+uint64(view.Len()), uint64(e.chunkSize()))
	if span == 0 {
		span = 1
	}
	if err := e.vol.Alloc.Unregister(view.Chunk(), span); err != nil {
		return err
	}
	view.ClearHash()
	if _, err := e.vol.Buckets.Remove(hash); err != nil {
		return &ActionError{Kind: NotFoundKind, Message: err.Error()}
	}
	e.vol.Cache.MarkDirtyForEntry(idx)
	return nil
}

func (e *Engine) catObj(ctx context.Context, t CatObj) error {
	hash, err := e.parseHash(t.HashHex)
	if err != nil {
		return err
	}
	idx, ok := e.vol.Buckets.Lookup(hash)
	if !ok {
		return &ActionError{Kind: NotFoundKind, Message: fmt.Sprintf("no such object %s", t.HashHex)}
	}
	view, err := e.vol.Cache.EntryAt(idx)
	if err != nil {
		return err
	}
	chunkSize := e.chunkSize()
	remaining := int64(view.Len())
	offsetInFirst := int64(view.Offset())
	buf := make([]byte, chunkSize)
	chunk := view.Chunk()
	for remaining > 0 {
		if e.cancel() {
			return ErrCancelled
		}
		if err := e.vol.vol.ReadChunks(shfsvol.ChunkNum(chunk), 1, buf); err != nil {
			return fmt.Errorf("cat-obj: read chunk %d: %w", chunk, err)
		}
		avail := chunkSize - offsetInFirst
		n := avail
		if remaining < n {
			n = remaining
		}
		if _, err := e.stdout.Write(buf[offsetInFirst : offsetInFirst+n]); err != nil {
			return fmt.Errorf("cat-obj: write output: %w", err)
		}
		remaining -= n
		offsetInFirst = 0
		chunk++
	}
	return nil
}

func (e *Engine) setDefault(t SetDefaultTok) error {
	hash, err := e.parseHash(t.HashHex)
	if err != nil {
		return err
	}
	idx, ok := e.vol.Buckets.Lookup(hash)
	if !ok {
		return &ActionError{Kind: NotFoundKind, Message: fmt.Sprintf("no such object %s", t.HashHex)}
	}
	if err := e.clearDefault(); err != nil {
		return err
	}
	view, err := e.vol.Cache.EntryAt(idx)
	if err != nil {
		return err
	}
	view.SetFlags(view.Flags() | FlagDefault)
	e.vol.Buckets.SetDefault(idx)
	e.vol.Cache.MarkDirtyForEntry(idx)
	return nil
}

func (e *Engine) clearDefault() error {
	idx, ok := e.vol.Buckets.DefaultIndex()
	if !ok {
		return nil
	}
	view, err := e.vol.Cache.EntryAt(idx)
	if err != nil {
		return err
	}
	view.SetFlags(view.Flags() &^ FlagDefault)
	e.vol.Cache.MarkDirtyForEntry(idx)
	e.vol.Buckets.ClearDefault()
	return nil
}

// ls writes one row per occupied entry: hash-hex,
// first-chunk, chunk-span, flag glyphs, mime, creation timestamp, name.
// Column widths widen when hlen > 32, matching the wider hex strings.
func (e *Engine) ls() error {
	hashWidth := int(e.vol.Meta.HLen) * 2
	var buf bytes.Buffer
	err := e.vol.Buckets.Iterate(func(idx EntryIndex, hash []byte) error {
		view, err := e.vol.Cache.EntryAt(idx)
		if err != nil {
			return err
		}
		span := util.CeilDiv(uint64(view.Offset())+uint64(view.Len()), uint64(e.chunkSize()))
		flags := "----"
		if view.Flags()&FlagDefault != 0 {
			flags = "D" + flags[1:]
		}
		if view.Flags()&FlagHidden != 0 {
			flags = flags[:3] + "H"
		}
		ts := time.Unix(view.TSCreation(), 0).Format("Jan _2, 06 15:04")
		fmt.Fprintf(&buf, "%-*s  %10d  %6d  %s  %-24s  %s  %s\n",
			hashWidth, hex.EncodeToString(view.Hash()), view.Chunk(), span, flags, view.Mime(), ts, view.Name())
		return nil
	})
	if err != nil {
		return err
	}
	_, werr := e.stdout.Write(buf.Bytes())
	return werr
}

// info re-reads the on-disk headers fresh (rather than trusting the
// in-memory copy loaded at mount) and writes a human summary.
func (e *Engine) info() error {
	chdr, cfg, err := e.vol.readHeadersFresh()
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "volume %s (%q)\n", chdr.VolUUID, chdr.name())
	fmt.Fprintf(e.stdout, "  size:        %d chunks\n", chdr.VolSize)
	fmt.Fprintf(e.stdout, "  stripe:      %d bytes, %s\n", chdr.StripeSize, chdr.mode())
	fmt.Fprintf(e.stdout, "  members:     %d\n", chdr.NumMembers)
	fmt.Fprintf(e.stdout, "  hash table:  ref=%d bak=%d buckets=%d epb=%d hlen=%d\n",
		cfg.HtableRef, cfg.HtableBakRef, cfg.NbBuckets, cfg.EntriesPerBkt, cfg.HLen)
	fmt.Fprintf(e.stdout, "  entries:     %d used / %d total\n", e.usedEntries(), e.vol.Meta.NbEntries)
	return nil
}

func (e *Engine) usedEntries() int {
	n := 0
	_ = e.vol.Buckets.Iterate(func(EntryIndex, []byte) error { n++; return nil })
	return n
}

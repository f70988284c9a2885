package undo

import (
	"errors"
	"sync"

	"github.com/cuemby/stratum/pkg/action"
	"github.com/cuemby/stratum/pkg/events"
	"github.com/cuemby/stratum/pkg/log"
	"github.com/cuemby/stratum/pkg/metrics"
	"github.com/cuemby/stratum/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultMaxItems is the undo depth used when none is configured
const DefaultMaxItems = 100

var (
	ErrNothingToUndo = errors.New("undo list is empty")
	ErrNothingToRedo = errors.New("redo list is empty")
)

// Executor runs a redo action inline on the dispatch goroutine
type Executor interface {
	Execute(a action.Action, ctx *action.Context) error
}

// Config configures a Buffer
type Config struct {
	MaxItems   int
	MaxBytes   int64 // 0 means no byte budget
	Layers     Layers
	Provenance StepRemover
	Executor   Executor
	Publisher  events.Publisher
}

// Buffer holds the undo and redo stacks. Insert, Undo and Redo are called on
// the dispatch goroutine; the query methods are safe from any goroutine.
type Buffer struct {
	cfg    Config
	logger zerolog.Logger

	mu   sync.Mutex
	undo []*Item // newest last
	redo []*Item // newest last
}

// NewBuffer creates an empty buffer
func NewBuffer(cfg Config) *Buffer {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Discard{}
	}
	return &Buffer{
		cfg:    cfg,
		logger: log.WithComponent("undo"),
	}
}

// SetExecutor sets the executor used by Redo
func (b *Buffer) SetExecutor(e Executor) {
	b.cfg.Executor = e
}

// Insert pushes item. Items inserted from anywhere but the undo buffer itself
// clear the redo stack. The oldest items are dropped once the stack exceeds
// MaxItems or MaxBytes.
func (b *Buffer) Insert(ctx *action.Context, item *Item) {
	item.ComputeSize()

	b.mu.Lock()
	if ctx == nil || ctx.Source() != types.SourceUndoBuffer {
		b.redo = nil
	}

	// Keep the newest items that fit next to the new one
	size := item.size
	keep := 0
	for i := len(b.undo) - 1; i >= 0; i-- {
		size += b.undo[i].size
		if keep+1 >= b.cfg.MaxItems || (b.cfg.MaxBytes > 0 && size > b.cfg.MaxBytes) {
			break
		}
		keep++
	}
	dropped := len(b.undo) - keep
	b.undo = append(b.undo[dropped:len(b.undo):len(b.undo)], item)
	b.mu.Unlock()

	b.logger.Debug().
		Str("tag", item.tag).
		Int64("bytes", item.size).
		Int("dropped", dropped).
		Msg("Undo item inserted")
	b.changed()
}

// Undo reverts the newest item and moves it to the redo stack. An item that
// fails to apply is dropped.
func (b *Buffer) Undo() error {
	b.mu.Lock()
	if len(b.undo) == 0 {
		b.mu.Unlock()
		return ErrNothingToUndo
	}
	item := b.undo[len(b.undo)-1]
	b.undo = b.undo[:len(b.undo)-1]
	b.mu.Unlock()

	logger := b.logger.With().Str("tag", item.tag).Logger()
	if err := item.apply(b.cfg.Layers, b.cfg.Provenance); err != nil {
		logger.Error().Err(err).Msg("Failed to apply undo checkpoint")
		b.changed()
		return err
	}

	b.mu.Lock()
	b.redo = append(b.redo, item)
	b.mu.Unlock()

	logger.Info().Msg("Undo applied")
	b.changed()
	return nil
}

// Redo runs the newest redo item's action again. The action inserts a fresh
// undo item with an undo buffer source, so the stacks do not grow. The item
// goes back on the redo stack if the action fails validation.
func (b *Buffer) Redo() (*action.Context, error) {
	b.mu.Lock()
	if len(b.redo) == 0 {
		b.mu.Unlock()
		return nil, ErrNothingToRedo
	}
	item := b.redo[len(b.redo)-1]
	b.redo = b.redo[:len(b.redo)-1]
	b.mu.Unlock()

	logger := b.logger.With().Str("tag", item.tag).Logger()
	if item.redo == nil || b.cfg.Executor == nil {
		logger.Warn().Msg("Redo item has no action")
		b.changed()
		return nil, ErrNothingToRedo
	}

	rctx := action.NewContext(types.SourceUndoBuffer)
	if err := b.cfg.Executor.Execute(item.redo, rctx); err != nil {
		var ve *action.ValidationError
		if errors.As(err, &ve) {
			b.mu.Lock()
			b.redo = append(b.redo, item)
			b.mu.Unlock()
		}
		logger.Error().Err(err).Msg("Redo failed")
		b.changed()
		return rctx, err
	}

	logger.Info().Msg("Redo applied")
	b.changed()
	return rctx, nil
}

// Reset empties both stacks
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.undo = nil
	b.redo = nil
	b.mu.Unlock()
	b.changed()
}

// HasUndo reports whether there is anything to undo
func (b *Buffer) HasUndo() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.undo) > 0
}

// HasRedo reports whether there is anything to redo
func (b *Buffer) HasRedo() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.redo) > 0
}

// UndoTag returns the tag of the index-th undo item counted from the top,
// or "" if there is none
func (b *Buffer) UndoTag(index int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return tagAt(b.undo, index)
}

// RedoTag returns the tag of the index-th redo item counted from the top
func (b *Buffer) RedoTag(index int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return tagAt(b.redo, index)
}

// NumUndo returns the undo depth
func (b *Buffer) NumUndo() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.undo)
}

// NumRedo returns the redo depth
func (b *Buffer) NumRedo() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.redo)
}

// SizeBytes returns the checkpoint bytes held by the undo stack
func (b *Buffer) SizeBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sumSize(b.undo)
}

func tagAt(stack []*Item, index int) string {
	if index < 0 || index >= len(stack) {
		return ""
	}
	return stack[len(stack)-1-index].tag
}

func sumSize(stack []*Item) int64 {
	var size int64
	for _, it := range stack {
		size += it.size
	}
	return size
}

func (b *Buffer) changed() {
	b.mu.Lock()
	numUndo, numRedo := len(b.undo), len(b.redo)
	undoTag, redoTag := tagAt(b.undo, 0), tagAt(b.redo, 0)
	bytes := sumSize(b.undo)
	b.mu.Unlock()

	metrics.UndoItems.WithLabelValues("undo").Set(float64(numUndo))
	metrics.UndoItems.WithLabelValues("redo").Set(float64(numRedo))
	metrics.UndoBytes.Set(float64(bytes))

	b.cfg.Publisher.Publish(events.New(events.EventUndoChanged, "Undo buffer changed", map[string]string{
		"undo_tag": undoTag,
		"redo_tag": redoTag,
	}))
}

package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/homeguard/internal/storage"
	"github.com/rs/zerolog"
)

// Persister keeps the engine draft in a DraftStore: it restores it once at
// startup and saves it whenever rules or the ledger change.
type Persister struct {
	engine   *Engine
	drafts   storage.DraftStore
	revision int64
	logger   zerolog.Logger
}

// NewPersister creates a persister for engine
func NewPersister(engine *Engine, drafts storage.DraftStore, logger zerolog.Logger) *Persister {
	return &Persister{
		engine: engine,
		drafts: drafts,
		logger: logger.With().Str("component", "draft-persister").Logger(),
	}
}

// Restore loads the stored draft into the engine. A missing draft is not an
// error. An inconsistent draft is reported and will be overwritten by the
// next save.
func (p *Persister) Restore(ctx context.Context) error {
	draft, err := p.drafts.Load(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		p.logger.Debug().Msg("No stored draft")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load draft: %w", err)
	}

	p.revision = draft.Revision
	if err := p.engine.Restore(*draft); err != nil {
		return fmt.Errorf("failed to restore draft revision %d: %w", draft.Revision, err)
	}
	return nil
}

// Save writes the current engine draft. A revision conflict means another
// writer touched the draft; this process owns it, so it re-reads the
// revision and overwrites once.
func (p *Persister) Save(ctx context.Context) error {
	draft := p.engine.Export()
	draft.Revision = p.revision

	rev, err := p.drafts.Save(ctx, draft)
	if errors.Is(err, storage.ErrConflict) {
		p.logger.Warn().Int64("revision", p.revision).Msg("Draft revision conflict, overwriting")

		stored, lerr := p.drafts.Load(ctx)
		switch {
		case errors.Is(lerr, storage.ErrNotFound):
			draft.Revision = 0
		case lerr != nil:
			return fmt.Errorf("failed to reload draft revision: %w", lerr)
		default:
			draft.Revision = stored.Revision
		}
		rev, err = p.drafts.Save(ctx, draft)
	}
	if err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}

	p.revision = rev
	return nil
}

// Run saves the draft whenever the engine reports it dirty until ctx is
// done, then saves once more.
func (p *Persister) Run(ctx context.Context) {
	defer func() {
		saveCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer done()
		if err := p.Save(saveCtx); err != nil {
			p.logger.Error().Err(err).Msg("Final draft save failed")
		}
	}()

	dirty := p.engine.Dirty()
	for {
		select {
		case <-ctx.Done():
			return
		case <-dirty:
			if err := p.Save(ctx); err != nil {
				p.logger.Error().Err(err).Msg("Draft save failed")
			}
		}
	}
}

func persistable(kind EventKind) bool {
	switch kind {
	case EventRuleAdded, EventRuleRemoved, EventRuleToggled,
		EventApplySucceeded, EventApplyFailed, EventReconciled:
		return true
	default:
		return false
	}
}

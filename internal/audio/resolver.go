package audio

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/voicereach/voicereach/internal/objectstore"
	"github.com/voicereach/voicereach/internal/tts"
)

// ResolverOptions carries the per-tier timeouts. Each tier gets its own
// deadline so a slow remote store cannot eat the synthesis tier's budget.
type ResolverOptions struct {
	RemoteTimeout    time.Duration
	SynthesisTimeout time.Duration
}

func (o *ResolverOptions) withDefaults() ResolverOptions {
	out := *o
	if out.RemoteTimeout == 0 {
		out.RemoteTimeout = 5 * time.Second
	}
	if out.SynthesisTimeout == 0 {
		out.SynthesisTimeout = 15 * time.Second
	}
	return out
}

// Resolver performs the layered fragment lookup: local store, then remote
// object store, then on-demand synthesis. Hits on an outer tier are written
// back to the inner tiers as best-effort cache fills.
type Resolver struct {
	local  *LocalStore
	remote objectstore.Store
	synth  tts.Synthesizer
	opts   ResolverOptions
	logger *slog.Logger
}

// NewResolver creates a resolver. remote and synth may be nil, in which
// case those tiers are skipped.
func NewResolver(local *LocalStore, remote objectstore.Store, synth tts.Synthesizer, opts ResolverOptions, logger *slog.Logger) *Resolver {
	return &Resolver{
		local:  local,
		remote: remote,
		synth:  synth,
		opts:   opts.withDefaults(),
		logger: logger.With("subsystem", "resolver"),
	}
}

// Resolve returns the audio bytes for a fragment, trying each tier only
// after the previous one missed. text is what the synthesis tier speaks if
// the fragment exists nowhere; an empty text disables that tier for this
// call. Failure at every tier yields a FragmentUnavailableError.
func (r *Resolver) Resolve(ctx context.Context, frag Fragment) ([]byte, error) {
	// Tier 1: local disk.
	data, err := r.local.Get(frag.Kind, frag.Key)
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		r.logger.Warn("local store read failed", "kind", frag.Kind, "key", frag.Key, "error", err)
	}

	// Tier 2: remote object store, with read-through local population.
	var lastErr error
	if r.remote != nil {
		remoteCtx, cancel := context.WithTimeout(ctx, r.opts.RemoteTimeout)
		data, err = r.remote.Get(remoteCtx, string(frag.Kind), frag.Key)
		cancel()

		switch {
		case err == nil:
			r.fill(frag, data, false)
			return data, nil
		case errors.Is(err, objectstore.ErrNotFound):
			// fall through to synthesis
		default:
			r.logger.Warn("remote store read failed", "kind", frag.Kind, "key", frag.Key, "error", err)
			lastErr = err
		}
	}

	// Tier 3: on-demand synthesis, persisted to both stores.
	if r.synth != nil && frag.Text != "" {
		synthCtx, cancel := context.WithTimeout(ctx, r.opts.SynthesisTimeout)
		data, err = r.synth.Synthesize(synthCtx, frag.Text)
		cancel()

		if err == nil {
			r.logger.Info("synthesized missing fragment", "kind", frag.Kind, "key", frag.Key)
			r.fill(frag, data, true)
			return data, nil
		}
		r.logger.Warn("fragment synthesis failed", "kind", frag.Kind, "key", frag.Key, "error", err)
		lastErr = err
	}

	return nil, &FragmentUnavailableError{Kind: frag.Kind, Key: frag.Key, Err: lastErr}
}

// fill promotes resolved bytes into the inner tiers. The local write is
// synchronous, the remote upload runs in the background. Both are
// log-and-continue.
func (r *Resolver) fill(frag Fragment, data []byte, toRemote bool) {
	if err := r.local.Put(frag.Kind, frag.Key, data); err != nil {
		r.logger.Warn("local cache fill failed", "kind", frag.Kind, "key", frag.Key, "error", err)
	}

	if toRemote && r.remote != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), r.opts.RemoteTimeout)
			defer cancel()
			if err := r.remote.Put(ctx, string(frag.Kind), frag.Key, data); err != nil {
				r.logger.Warn("remote cache fill failed", "kind", frag.Kind, "key", frag.Key, "error", err)
			}
		}()
	}
}

// Package dataref resolves a domain.TableHandle to the dataset bytes
// it references. This is the one point of contact with the external
// file/object-storage subsystem spec.md treats as out of scope — the
// core only ever sees a URI and gets bytes back.
//
// Grounded conceptually on the teacher's internal/layer content-
// addressed fetch pattern (a handle resolves to local bytes by ID) and
// on internal/pkg/crypto's content-hashing helper, reused here to
// support the spec's "staging is idempotent" requirement (callers can
// compare a hash before re-staging identical content).
package dataref

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cortexdata/cortex/internal/domain"
	"github.com/cortexdata/cortex/internal/pkg/crypto"
)

// Resolver resolves a TableHandle to dataset bytes.
type Resolver interface {
	Resolve(ctx context.Context, handle domain.TableHandle) ([]byte, error)
}

// Hash returns a short content hash of data, used by callers (the
// Session Executor) to decide whether staged data actually changed
// before re-staging it.
func Hash(data []byte) string {
	return crypto.HashString(string(data))
}

// LocalResolver resolves "file://" URIs (and bare relative paths)
// against a fixed base directory, refusing to escape it.
type LocalResolver struct {
	BaseDir string
}

func (r *LocalResolver) Resolve(_ context.Context, handle domain.TableHandle) ([]byte, error) {
	rel := strings.TrimPrefix(handle.URI, "file://")
	clean := filepath.Clean("/" + rel) // anchor, then strip leading "/" below
	path := filepath.Join(r.BaseDir, clean)
	if !strings.HasPrefix(path, filepath.Clean(r.BaseDir)+string(filepath.Separator)) && path != filepath.Clean(r.BaseDir) {
		return nil, domain.DataUnavailablef("handle %q escapes the local data directory", handle.URI)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.DataUnavailablef("reading %q: %v", handle.URI, err)
	}
	return data, nil
}

// ChainResolver dispatches to the one Resolver registered for the URI's
// scheme (file://, s3://); a URI with no scheme goes to the "file"
// resolver. Other resolvers are not tried. Callers compose it from
// whichever backing resolvers they have configured.
type ChainResolver struct {
	ByScheme map[string]Resolver
}

func (r *ChainResolver) Resolve(ctx context.Context, handle domain.TableHandle) ([]byte, error) {
	u, err := url.Parse(handle.URI)
	if err != nil || u.Scheme == "" {
		if res, ok := r.ByScheme["file"]; ok {
			return res.Resolve(ctx, handle)
		}
		return nil, domain.DataUnavailablef("cannot parse handle %q", handle.URI)
	}
	res, ok := r.ByScheme[u.Scheme]
	if !ok {
		return nil, domain.DataUnavailablef("no resolver registered for scheme %q", u.Scheme)
	}
	return res.Resolve(ctx, handle)
}

func (r *ChainResolver) register(scheme string, res Resolver) {
	if r.ByScheme == nil {
		r.ByScheme = make(map[string]Resolver)
	}
	r.ByScheme[scheme] = res
}

// NewChain builds a ChainResolver from whichever concrete resolvers
// are non-nil.
func NewChain(local *LocalResolver, s3 *S3Resolver) *ChainResolver {
	c := &ChainResolver{}
	if local != nil {
		c.register("file", local)
		c.register("", local)
	}
	if s3 != nil {
		c.register("s3", s3)
	}
	return c
}

// Package images implements the Image Resolver (spec.md §4.5): given a
// requested image name or id, returns an active image, substituting an
// equivalent active image by OS version/distro/slurm version when the
// requested one is inactive or missing.
package images

import (
	"context"
	"strings"

	"github.com/deNBI/simplevm-portal/internal/apperr"
	"github.com/deNBI/simplevm-portal/internal/openstackclient"
)

// wellKnownUbuntuTokens are the version substrings ReplaceNotFound
// recognizes in a requested image name (spec.md §4.5 step 3).
var wellKnownUbuntuTokens = []string{"20.04", "22.04", "2004", "2204"}

// Backend is the subset of openstackclient.Client the resolver needs.
type Backend interface {
	GetImage(ctx context.Context, id string) (openstackclient.Image, error)
	GetImageByName(ctx context.Context, name string) ([]openstackclient.Image, error)
	ListImages(ctx context.Context, visibility string) ([]openstackclient.Image, error)
}

// Options controls the fallback behavior of Get, per spec.md §4.5.
type Options struct {
	ReplaceInactive bool
	IgnoreNotActive bool
	ReplaceNotFound bool
	IgnoreNotFound  bool
	SlurmVersion    string
}

// Resolver is the Image Resolver.
type Resolver struct {
	backend Backend
}

// New builds a Resolver.
func New(backend Backend) *Resolver {
	return &Resolver{backend: backend}
}

// Get resolves nameOrID to an active image per the algorithm in spec.md
// §4.5. A nil, nil return means the request asked to ignore a not-found
// image.
func (r *Resolver) Get(ctx context.Context, nameOrID string, opts Options) (*openstackclient.Image, error) {
	img, found, err := r.lookup(ctx, nameOrID)
	if err != nil {
		return nil, err
	}

	if found {
		if img.Active() {
			return &img, nil
		}
		return r.handleInactive(ctx, img, opts)
	}

	return r.handleNotFound(ctx, nameOrID, opts)
}

func (r *Resolver) lookup(ctx context.Context, nameOrID string) (openstackclient.Image, bool, error) {
	if img, err := r.backend.GetImage(ctx, nameOrID); err == nil {
		return img, true, nil
	} else if !apperr.Is(err, apperr.KindImageNotFound) {
		return openstackclient.Image{}, false, err
	}

	matches, err := r.backend.GetImageByName(ctx, nameOrID)
	if err != nil {
		return openstackclient.Image{}, false, err
	}
	if len(matches) == 0 {
		return openstackclient.Image{}, false, nil
	}
	return matches[0], true, nil
}

func (r *Resolver) handleInactive(ctx context.Context, img openstackclient.Image, opts Options) (*openstackclient.Image, error) {
	if opts.ReplaceInactive {
		if replacement, ok, err := r.activeByVersion(ctx, img.OSVersion, img.OSDistro, opts.SlurmVersion, img.SlurmType); err != nil {
			return nil, err
		} else if ok {
			return &replacement, nil
		}
		// Falls through to not-active handling below when no replacement exists.
	}
	if opts.IgnoreNotActive {
		return &img, nil
	}
	return nil, apperr.NewWithID(apperr.KindImageNotActive, "image is not active", img.ID)
}

func (r *Resolver) handleNotFound(ctx context.Context, nameOrID string, opts Options) (*openstackclient.Image, error) {
	if opts.ReplaceNotFound {
		for _, token := range wellKnownUbuntuTokens {
			if !strings.Contains(nameOrID, token) {
				continue
			}
			if replacement, ok, err := r.activeByVersion(ctx, token, "", opts.SlurmVersion, ""); err != nil {
				return nil, err
			} else if ok {
				return &replacement, nil
			}
		}
	}
	if opts.IgnoreNotFound {
		return nil, nil
	}
	return nil, apperr.NewWithID(apperr.KindImageNotFound, "image not found", nameOrID)
}

// activeByVersion looks up an active image matching os_version and
// os_distro. The Image domain type carries no per-image slurm_version (the
// original has none either), so no version is compared. The only slurm
// signal checked is the candidate's worker/master tag: when slurmVersion is
// supplied and requireSlurmType is "worker" (the requested image is itself
// worker-tagged), only "worker"-tagged candidates match; otherwise the tag
// is not checked.
func (r *Resolver) activeByVersion(ctx context.Context, osVersion, osDistro, slurmVersion, requireSlurmType string) (openstackclient.Image, bool, error) {
	all, err := r.backend.ListImages(ctx, "")
	if err != nil {
		return openstackclient.Image{}, false, err
	}
	for _, img := range all {
		if !img.Active() {
			continue
		}
		if osVersion != "" && img.OSVersion != osVersion {
			continue
		}
		if osDistro != "" && img.OSDistro != osDistro {
			continue
		}
		if slurmVersion != "" && requireSlurmType == "worker" && img.SlurmType != "worker" {
			continue
		}
		return img, true, nil
	}
	return openstackclient.Image{}, false, nil
}

// ListPublic returns public images with non-empty tags and active status.
func (r *Resolver) ListPublic(ctx context.Context) ([]openstackclient.Image, error) {
	return r.listTagged(ctx, "public")
}

// ListPrivate returns private images with non-empty tags and active status.
func (r *Resolver) ListPrivate(ctx context.Context) ([]openstackclient.Image, error) {
	return r.listTagged(ctx, "private")
}

// List returns all images with non-empty tags and active status.
func (r *Resolver) List(ctx context.Context) ([]openstackclient.Image, error) {
	return r.listTagged(ctx, "")
}

func (r *Resolver) listTagged(ctx context.Context, visibility string) ([]openstackclient.Image, error) {
	all, err := r.backend.ListImages(ctx, visibility)
	if err != nil {
		return nil, err
	}
	out := make([]openstackclient.Image, 0, len(all))
	for _, img := range all {
		if img.Active() && len(img.Tags) > 0 {
			out = append(out, img)
		}
	}
	return out, nil
}

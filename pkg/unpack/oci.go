/*
Copyright © 2025 SUSE LLC
SPDX-License-Identifier: Apache-2.0

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package unpack

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/containerd/containerd/v2/pkg/archive"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	containerregistry "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/daemon"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"golang.org/x/sync/errgroup"

	"github.com/bootforge/bootforge/pkg/sys"
	"github.com/bootforge/bootforge/pkg/sys/vfs"
)

var (
	// ErrCorruptLayer marks a layer archive that was fetched but could not
	// be decoded or applied.
	ErrCorruptLayer = errors.New("corrupt image layer")

	// ErrNotFound marks an image reference that cannot be resolved, the
	// reference is malformed or the registry does not know it. Transient
	// fetch failures are not of this kind.
	ErrNotFound = errors.New("image not found")
)

const (
	workDirSuffix = ".workdir"

	fetchRetries  = 3
	fetchInterval = 3 * time.Second

	prefetchWorkers = 4
)

type OCI struct {
	s           *sys.System
	platformRef string
	local       bool
	verify      bool
	imageRef    string
	rsyncFlags  []string
}

type OCIOpt func(*OCI)

func WithLocalOCI(local bool) OCIOpt {
	return func(o *OCI) {
		o.local = local
	}
}

func WithVerifyOCI(verify bool) OCIOpt {
	return func(o *OCI) {
		o.verify = verify
	}
}

func WithPlatformRefOCI(platform string) OCIOpt {
	return func(o *OCI) {
		o.platformRef = platform
	}
}

func WithRsyncFlagsOCI(flags ...string) OCIOpt {
	return func(o *OCI) {
		o.rsyncFlags = flags
	}
}

func NewOCIUnpacker(s *sys.System, imageRef string, opts ...OCIOpt) *OCI {
	unpacker := &OCI{s: s, imageRef: imageRef, platformRef: s.Platform().String()}
	for _, o := range opts {
		o(unpacker)
	}
	return unpacker
}

// SynchedUnpack for OCI images will extract OCI contents to a destination sibling directory first and
// after that it will sync it to the destination directory. Ideally the destination path should
// not be mountpoint to a different filesystem of the sibling directories in order to benefit of
// copy on write features of the underlaying filesystem.
func (o OCI) SynchedUnpack(ctx context.Context, destination string, excludes []string, deleteExcludes []string) (digest string, err error) {
	tempDir := filepath.Clean(destination) + workDirSuffix
	err = vfs.MkdirAll(o.s.FS(), tempDir, vfs.DirPerm)
	if err != nil {
		return "", err
	}
	defer func() {
		e := vfs.ForceRemoveAll(o.s.FS(), tempDir)
		if err == nil && e != nil {
			err = e
		}
	}()
	digest, err = o.Unpack(ctx, tempDir)
	if err != nil {
		return "", err
	}
	unpackD := NewDirectoryUnpacker(o.s, tempDir, WithRsyncFlagsDir(o.rsyncFlags...))
	_, err = unpackD.SynchedUnpack(ctx, destination, excludes, deleteExcludes)
	if err != nil {
		return "", err
	}
	return digest, nil
}

// Unpack fetches the image and extracts its layers to destination. The
// returned string is the resolved image digest.
func (o OCI) Unpack(ctx context.Context, destination string, excludes ...string) (string, error) {
	platform, err := containerregistry.ParsePlatform(o.platformRef)
	if err != nil {
		return "", err
	}

	opts := []name.Option{}
	if !o.verify {
		opts = append(opts, name.Insecure)
	}

	ref, err := name.ParseReference(o.imageRef, opts...)
	if err != nil {
		return "", fmt.Errorf("parsing reference '%s': %w", o.imageRef, errors.Join(ErrNotFound, err))
	}

	var img containerregistry.Image

	err = backoff.Retry(func() error {
		img, err = fetchImage(ctx, ref, *platform, o.local)
		if err != nil && isUnknownToRegistry(err) {
			// retrying an unknown name or manifest cannot succeed
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(fetchInterval), fetchRetries))
	if err != nil {
		if isUnknownToRegistry(err) {
			return "", fmt.Errorf("fetching image '%s': %w", o.imageRef, errors.Join(ErrNotFound, err))
		}
		return "", fmt.Errorf("fetching image '%s': %w", o.imageRef, err)
	}

	digest, err := img.Digest()
	if err != nil {
		return "", err
	}

	err = UnpackImage(ctx, o.s, img, destination, excludes...)
	if err != nil {
		return "", err
	}
	return digest.String(), nil
}

// UnpackImage extracts all image layers, in order, into destination.
// Layers are prefetched concurrently to local tarballs, while the
// extraction itself is strictly sequential so whiteout entries delete
// lower layer content the same way a container runtime would.
func UnpackImage(ctx context.Context, s *sys.System, img containerregistry.Image, destination string, excludes ...string) (err error) {
	layers, err := img.Layers()
	if err != nil {
		return err
	}

	destination, err = s.FS().RawPath(destination)
	if err != nil {
		return err
	}

	tempDir, err := vfs.TempDir(s.FS(), "", "unpack-layers-")
	if err != nil {
		return err
	}
	defer func() {
		e := vfs.ForceRemoveAll(s.FS(), tempDir)
		if err == nil && e != nil {
			err = e
		}
	}()

	tarballs := make([]string, len(layers))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(prefetchWorkers)
	for i, layer := range layers {
		eg.Go(func() error {
			if egCtx.Err() != nil {
				return egCtx.Err()
			}
			tarball := filepath.Join(tempDir, fmt.Sprintf("layer-%04d.tar", i))
			if err := fetchLayer(s, layer, tarball); err != nil {
				return fmt.Errorf("fetching layer %d: %w", i, err)
			}
			tarballs[i] = tarball
			return nil
		})
	}
	if err = eg.Wait(); err != nil {
		return err
	}

	filter := excludesFilter(excludes...)
	for i, tarball := range tarballs {
		if err = applyLayer(ctx, s, tarball, destination, filter); err != nil {
			return fmt.Errorf("applying layer %d: %w", i, err)
		}
	}
	return nil
}

func fetchLayer(s *sys.System, layer containerregistry.Layer, tarball string) (err error) {
	reader, err := layer.Uncompressed()
	if err != nil {
		return fmt.Errorf("decompressing layer: %w", errors.Join(ErrCorruptLayer, err))
	}
	defer reader.Close()

	file, err := s.FS().Create(tarball)
	if err != nil {
		return err
	}
	defer func() {
		e := file.Close()
		if err == nil {
			err = e
		}
	}()

	if _, err = io.Copy(file, reader); err != nil {
		return fmt.Errorf("reading layer: %w", errors.Join(ErrCorruptLayer, err))
	}
	return nil
}

func applyLayer(ctx context.Context, s *sys.System, tarball, destination string, filter archive.Filter) error {
	file, err := s.FS().Open(tarball)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = archive.Apply(ctx, destination, file, archive.WithFilter(filter))
	if err != nil {
		return fmt.Errorf("applying layer: %w", errors.Join(ErrCorruptLayer, err))
	}
	return nil
}

// isUnknownToRegistry tells a definitive registry rejection of the
// reference apart from transient transport failures.
func isUnknownToRegistry(err error) bool {
	var terr *transport.Error
	return errors.As(err, &terr) && terr.StatusCode == http.StatusNotFound
}

func fetchImage(ctx context.Context, ref name.Reference, platform containerregistry.Platform, local bool) (containerregistry.Image, error) {
	if local {
		return daemon.Image(ref, daemon.WithContext(ctx))
	}

	return remote.Image(ref,
		remote.WithTransport(http.DefaultTransport),
		remote.WithPlatform(platform),
		remote.WithAuthFromKeychain(authn.DefaultKeychain),
		remote.WithContext(ctx),
	)
}

// excludesFilter skips tar entries located at or under any of the given
// absolute paths.
func excludesFilter(excludes ...string) archive.Filter {
	return func(h *tar.Header) (bool, error) {
		entry := filepath.Clean("/" + h.Name)
		for _, exclude := range excludes {
			exclude = filepath.Clean(exclude)
			if entry == exclude || strings.HasPrefix(entry, exclude+"/") {
				return false, nil
			}
		}
		return true, nil
	}
}

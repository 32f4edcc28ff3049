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

package populate

import (
	"context"
	"errors"
	"fmt"

	"github.com/bootforge/bootforge/pkg/rsync"
	"github.com/bootforge/bootforge/pkg/sys"
	"github.com/bootforge/bootforge/pkg/sys/vfs"
)

// headroomMB is the extra space kept free on the target filesystem on
// top of the estimated tree size, it accounts for filesystem metadata
// and runtime growth (logs, machine specific state, initrd rebuilds).
const headroomMB = 128

// ErrInsufficientSpace is reported when the unpacked OS tree does not
// fit into the target filesystem.
var ErrInsufficientSpace = errors.New("insufficient space on target filesystem")

// Populator copies an unpacked OS tree into a mounted target filesystem.
type Populator struct {
	s   *sys.System
	ctx context.Context
}

func New(ctx context.Context, s *sys.System) *Populator {
	return &Populator{s: s, ctx: ctx}
}

// RequiredSizeMB estimates the space the given root tree needs on the
// target filesystem, a tenth of the tree size plus a fixed headroom on
// top of the tree itself.
func (p Populator) RequiredSizeMB(root string) (uint, error) {
	size, err := vfs.DirSizeMB(p.s.FS(), root)
	if err != nil {
		return 0, fmt.Errorf("computing size of tree %s: %w", root, err)
	}
	return size + size/10 + headroomMB, nil
}

// Populate syncs the source tree into the target mountpoint after
// verifying it fits within the given capacity in MiB.
func (p Populator) Populate(source, target string, capacityMB uint) error {
	required, err := p.RequiredSizeMB(source)
	if err != nil {
		return err
	}
	if required > capacityMB {
		return fmt.Errorf("tree %s requires %dMiB but only %dMiB are available: %w",
			source, required, capacityMB, ErrInsufficientSpace)
	}

	p.s.Logger().Info("Populating %s from %s (%dMiB required, %dMiB available)", target, source, required, capacityMB)
	flags := append(rsync.DefaultFlags(), "--sparse")
	r := rsync.NewRsync(p.s, rsync.WithContext(p.ctx), rsync.WithFlags(flags...))
	if err = r.SyncData(source, target); err != nil {
		return fmt.Errorf("copying tree %s to %s: %w", source, target, err)
	}
	return nil
}

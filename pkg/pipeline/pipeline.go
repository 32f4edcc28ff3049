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

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/bootforge/bootforge/pkg/account"
	"github.com/bootforge/bootforge/pkg/bootloader"
	"github.com/bootforge/bootforge/pkg/cleanstack"
	"github.com/bootforge/bootforge/pkg/deployment"
	"github.com/bootforge/bootforge/pkg/diskrepart"
	"github.com/bootforge/bootforge/pkg/loopdev"
	"github.com/bootforge/bootforge/pkg/populate"
	"github.com/bootforge/bootforge/pkg/sys"
	"github.com/bootforge/bootforge/pkg/sys/vfs"
	"github.com/bootforge/bootforge/pkg/unpack"
)

// Error taxonomy of a create run. Stage failures wrap one of these, so
// callers can classify with errors.Is without parsing messages.
var (
	ErrImageNotFound        = errors.New("image not found")
	ErrLayerCorrupt         = errors.New("image layer corrupt")
	ErrOutputPathUnwritable = errors.New("output path not writable")
	ErrPartitionTableWrite  = errors.New("partition table write failed")
	ErrResourceBusy         = errors.New("output file busy")
	ErrLoopAttach           = errors.New("loop device attach failed")
	ErrFormat               = errors.New("filesystem format failed")
	ErrMount                = errors.New("filesystem mount failed")
	ErrInsufficientSpace    = errors.New("insufficient space")
	ErrBootloaderInstall    = errors.New("bootloader install failed")
	ErrPasswordSet          = errors.New("root password set failed")
)

// gptOverheadMB approximates the space the partition table structures
// take on the disk, primary and backup GPT plus alignment.
const gptOverheadMB = 2

// Pipeline turns a container image into a bootable raw disk image. A
// run is a strict sequential chain, every privileged resource it takes
// (temp trees, file lock, loop device, mounts) is registered on a
// cleanup stack unwound in reverse order on every exit path.
type Pipeline struct {
	s        *sys.System
	ctx      context.Context
	unpacker unpack.Interface
	boot     bootloader.Bootloader
	local    bool
	platform string
}

type Option func(*Pipeline)

// WithUnpacker overrides the image unpacker, used in tests.
func WithUnpacker(u unpack.Interface) Option {
	return func(p *Pipeline) {
		p.unpacker = u
	}
}

// WithBootloader overrides the bootloader installer, used in tests.
func WithBootloader(b bootloader.Bootloader) Option {
	return func(p *Pipeline) {
		p.boot = b
	}
}

// WithLocal sources the image from the local container daemon instead
// of a registry.
func WithLocal(local bool) Option {
	return func(p *Pipeline) {
		p.local = local
	}
}

// WithPlatform sets the platform the image is resolved for.
func WithPlatform(platform string) Option {
	return func(p *Pipeline) {
		p.platform = platform
	}
}

func New(ctx context.Context, s *sys.System, opts ...Option) *Pipeline {
	p := &Pipeline{s: s, ctx: ctx}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Run builds the disk image described by the deployment at outputFile.
// On failure the partially written output file is removed.
func (p *Pipeline) Run(d *deployment.Deployment, outputFile, rootPasswd string) (err error) {
	cleanup := cleanstack.NewCleanStack()
	defer func() {
		err = cleanup.Cleanup(err)
	}()

	if err = d.Sanitize(p.s); err != nil {
		return err
	}
	if rootPasswd == "" {
		return fmt.Errorf("%w: no root password provided", ErrPasswordSet)
	}
	if err = p.checkOutputFile(outputFile); err != nil {
		return err
	}

	extractDir, err := p.unpackSource(d, cleanup)
	if err != nil {
		return err
	}

	dev, err := p.allocateAndAttach(d, outputFile, cleanup)
	if err != nil {
		return err
	}

	if err = diskrepart.PartitionAndFormatDevice(p.s, d.Disk); err != nil {
		switch {
		case errors.Is(err, diskrepart.ErrFormatting):
			return fmt.Errorf("%w: %v", ErrFormat, err)
		default:
			return fmt.Errorf("%w: %v", ErrPartitionTableWrite, err)
		}
	}

	rootDir, err := p.mountPartitions(d, dev, cleanup)
	if err != nil {
		return err
	}

	if err = p.populateRoot(d, extractDir, rootDir); err != nil {
		return err
	}

	if err = p.installBootloader(d, rootDir); err != nil {
		return fmt.Errorf("%w: %v", ErrBootloaderInstall, err)
	}

	if err = account.SetRootPassword(p.s, rootDir, rootPasswd); err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordSet, err)
	}

	p.s.Logger().Info("Image %s created successfully", outputFile)
	return nil
}

func (p *Pipeline) checkOutputFile(path string) error {
	fs := p.s.FS()

	if stat, err := fs.Stat(path); err == nil {
		if stat.IsDir() {
			return fmt.Errorf("%w: %s is a directory", ErrOutputPathUnwritable, path)
		}
		p.s.Logger().Warn("Overwriting existing file %s", path)
	}

	dir := filepath.Dir(path)
	if ok, _ := vfs.Exists(fs, dir); !ok {
		return fmt.Errorf("%w: directory %s does not exist", ErrOutputPathUnwritable, dir)
	}
	return nil
}

// unpackSource extracts the container image into a transient tree and
// records the resolved digest on the deployment.
func (p *Pipeline) unpackSource(d *deployment.Deployment, cleanup *cleanstack.CleanStack) (string, error) {
	fs := p.s.FS()

	extractDir, err := vfs.TempDir(fs, "", "bootforge-root-")
	if err != nil {
		return "", fmt.Errorf("creating extraction directory: %w", err)
	}
	cleanup.Push(func() error { return vfs.ForceRemoveAll(fs, extractDir) })

	unpacker := p.unpacker
	if unpacker == nil {
		unpacker, err = unpack.NewUnpacker(
			p.s, d.SourceImage,
			unpack.WithLocalOCI(p.local),
			unpack.WithPlatformRefOCI(p.platform),
		)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrImageNotFound, err)
		}
	}

	p.s.Logger().Info("Unpacking image %s", d.SourceImage.URI())
	digest, err := unpacker.Unpack(p.ctx, extractDir)
	if err != nil {
		switch {
		case errors.Is(err, unpack.ErrCorruptLayer):
			return "", fmt.Errorf("%w: %v", ErrLayerCorrupt, err)
		case errors.Is(err, unpack.ErrNotFound):
			return "", fmt.Errorf("%w: %v", ErrImageNotFound, err)
		default:
			// transient fetch failures surface with their own cause
			return "", fmt.Errorf("unpacking image: %w", err)
		}
	}
	d.SourceImage.SetDigest(digest)

	return extractDir, nil
}

// allocateAndAttach locks the backing file, sizes it and attaches it to
// a loop device. The lock comes first, before the file is truncated, a
// concurrent run on the same output must fail without touching the
// content the lock holder is still writing. The file is removed on any
// later failure, only while this run still owns the lock, and the loop
// device is detached on every exit path.
func (p *Pipeline) allocateAndAttach(d *deployment.Deployment, outputFile string, cleanup *cleanstack.CleanStack) (*loopdev.Device, error) {
	fs := p.s.FS()

	dev, err := loopdev.Lock(p.s, outputFile)
	if err != nil {
		if errors.Is(err, loopdev.ErrDeviceBusy) {
			return nil, fmt.Errorf("%w: %v", ErrResourceBusy, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrOutputPathUnwritable, err)
	}
	cleanup.Push(dev.Detach)
	cleanup.PushErrorOnly(func() error { return fs.RemoveAll(outputFile) })

	p.s.Logger().Info("Allocating %dMiB backing file %s", d.Disk.Size, outputFile)
	if err = diskrepart.CreateEmptyFile(fs, outputFile, int64(d.Disk.Size), false); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutputPathUnwritable, err)
	}

	if err = dev.Attach(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoopAttach, err)
	}
	d.Disk.Device = dev.Device()

	// give udev a chance to create the partition nodes
	_, _ = p.s.Runner().Run("udevadm", "settle")

	return dev, nil
}

// mountPartitions mounts the system partition at a transient directory
// and the EFI partition under its boot/efi subtree. Unmounts run in
// reverse mount order on cleanup.
func (p *Pipeline) mountPartitions(d *deployment.Deployment, dev *loopdev.Device, cleanup *cleanstack.CleanStack) (string, error) {
	fs := p.s.FS()
	mounter := p.s.Mounter()

	rootDir, err := vfs.TempDir(fs, "", "bootforge-mnt-")
	if err != nil {
		return "", fmt.Errorf("creating mount directory: %w", err)
	}
	cleanup.Push(func() error { return fs.RemoveAll(rootDir) })

	sysPart := d.GetSystemPartition()
	sysDev := dev.PartitionDevice(partitionNumber(d, sysPart))
	if err = mounter.Mount(sysDev, rootDir, sysPart.FileSystem.String(), []string{"rw"}); err != nil {
		return "", fmt.Errorf("%w: mounting %s at %s: %v", ErrMount, sysDev, rootDir, err)
	}
	cleanup.Push(func() error { return p.unmount(rootDir) })

	efiPart := d.GetEfiPartition()
	efiDir := filepath.Join(rootDir, efiPart.MountPoint)
	if err = vfs.MkdirAll(fs, efiDir, vfs.DirPerm); err != nil {
		return "", fmt.Errorf("creating %s: %w", efiDir, err)
	}
	efiDev := dev.PartitionDevice(partitionNumber(d, efiPart))
	if err = mounter.Mount(efiDev, efiDir, efiPart.FileSystem.String(), []string{"rw"}); err != nil {
		return "", fmt.Errorf("%w: mounting %s at %s: %v", ErrMount, efiDev, efiDir, err)
	}
	cleanup.Push(func() error { return p.unmount(efiDir) })

	return rootDir, nil
}

// unmount skips paths that are not mounted anymore, a failed run may
// reach the cleanup stack with mounts already gone.
func (p *Pipeline) unmount(path string) error {
	if ok, _ := p.s.Mounter().IsMountPoint(path); !ok {
		return nil
	}
	return p.s.Mounter().Unmount(path)
}

// populateRoot copies the extracted tree onto the mounted system
// partition and writes the image provenance record into it.
func (p *Pipeline) populateRoot(d *deployment.Deployment, extractDir, rootDir string) error {
	capacity := systemCapacityMB(d)

	populator := populate.New(p.ctx, p.s)
	if err := populator.Populate(extractDir, rootDir, capacity); err != nil {
		if errors.Is(err, populate.ErrInsufficientSpace) {
			return fmt.Errorf("%w: %v", ErrInsufficientSpace, err)
		}
		return err
	}

	if err := d.WriteRecordFile(p.s, rootDir); err != nil {
		return fmt.Errorf("writing image record: %w", err)
	}
	return nil
}

func (p *Pipeline) installBootloader(d *deployment.Deployment, rootDir string) error {
	boot := p.boot
	if boot == nil {
		boot = bootloader.NewGrub(p.s, d.Flavor, bootloader.WithExtraPackages(d.ExtraPackages...))
	}

	sysPart := d.GetSystemPartition()
	efiPart := d.GetEfiPartition()
	return boot.Install(rootDir, sysPart.UUID, efiPart.UUID)
}

// partitionNumber is the 1-based position of the partition on the disk.
func partitionNumber(d *deployment.Deployment, part *deployment.Partition) int {
	for i, p := range d.Disk.Partitions {
		if p == part {
			return i + 1
		}
	}
	return 0
}

// systemCapacityMB is the space the system partition offers, the disk
// minus the fixed size partitions and the partition table overhead.
func systemCapacityMB(d *deployment.Deployment) uint {
	capacity := uint(d.Disk.Size) - gptOverheadMB
	for _, part := range d.Disk.Partitions {
		if part.Role != deployment.System {
			capacity -= uint(part.Size)
		}
	}
	sysPart := d.GetSystemPartition()
	if sysPart.Size != deployment.AllAvailableSize {
		capacity = min(capacity, uint(sysPart.Size))
	}
	return capacity
}

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

package loopdev

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/bootforge/bootforge/pkg/sys"
)

// ErrDeviceBusy is reported when the backing file is already locked by
// another process holding an exclusive advisory lock on it.
var ErrDeviceBusy = errors.New("backing file is locked by another process")

// Device represents a raw image file attached to a loop block device.
// The backing file is kept open and exclusively locked for the whole
// lifetime of the attachment.
type Device struct {
	s           *sys.System
	backingFile string
	lock        *os.File
	device      string
}

// Lock opens the given raw image file, creating it if missing and never
// truncating it, and takes an exclusive advisory lock on it. The lock must
// be taken before the file content is touched, so a concurrent run fails
// here without damaging the holder's in-progress image. A concurrently
// locked backing file reports ErrDeviceBusy.
func Lock(s *sys.System, backingFile string) (*Device, error) {
	f, err := s.FS().OpenFile(backingFile, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening backing file %s: %w", backingFile, err)
	}
	err = s.Syscall().Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s: %w", backingFile, ErrDeviceBusy)
		}
		return nil, fmt.Errorf("locking backing file %s: %w", backingFile, err)
	}
	return &Device{s: s, backingFile: backingFile, lock: f}, nil
}

// Attach attaches the locked backing file to the first free loop device
// with partition scanning enabled.
func (d *Device) Attach() error {
	rawPath := d.backingFile
	if p, rErr := d.s.FS().RawPath(d.backingFile); rErr == nil {
		rawPath = p
	}

	d.s.Logger().Debug("Attaching %s to a loop device", d.backingFile)
	out, err := d.s.Runner().Run("losetup", "-f", "--show", "-P", rawPath)
	if err != nil {
		return fmt.Errorf("attaching %s to a loop device: %w", d.backingFile, err)
	}
	device := strings.TrimSpace(string(out))
	if device == "" {
		return fmt.Errorf("losetup reported no device for %s", d.backingFile)
	}
	d.s.Logger().Info("Attached %s to %s", d.backingFile, device)
	d.device = device
	return nil
}

// Attach locks the given raw image file and attaches it to a loop device
// in one step. On attach failure the lock is released again.
func Attach(s *sys.System, backingFile string) (*Device, error) {
	dev, err := Lock(s, backingFile)
	if err != nil {
		return nil, err
	}
	if err = dev.Attach(); err != nil {
		_ = dev.Detach()
		return nil, err
	}
	return dev, nil
}

// Device returns the loop device node, e.g. /dev/loop0.
func (d *Device) Device() string {
	return d.device
}

// PartitionDevice returns the device node of the given partition number
// within the attached device, e.g. /dev/loop0p1.
func (d *Device) PartitionDevice(partNum int) string {
	return fmt.Sprintf("%sp%d", d.device, partNum)
}

// Detach detaches the loop device and releases the advisory lock on the
// backing file. It is safe to call multiple times, repeated calls after
// a successful detach are no-ops.
func (d *Device) Detach() error {
	if d.device != "" {
		d.s.Logger().Debug("Detaching loop device %s", d.device)
		_, err := d.s.Runner().Run("losetup", "-d", d.device)
		if err != nil {
			return fmt.Errorf("detaching loop device %s: %w", d.device, err)
		}
		d.device = ""
	}
	if d.lock != nil {
		_ = d.s.Syscall().Flock(int(d.lock.Fd()), unix.LOCK_UN)
		err := d.lock.Close()
		d.lock = nil
		if err != nil {
			return fmt.Errorf("releasing lock on %s: %w", d.backingFile, err)
		}
	}
	return nil
}

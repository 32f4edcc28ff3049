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

package diskrepart

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/bootforge/bootforge/pkg/block"
	"github.com/bootforge/bootforge/pkg/block/lsblk"
	"github.com/bootforge/bootforge/pkg/diskrepart/partitioner"
	"github.com/bootforge/bootforge/pkg/diskrepart/partitioner/gdisk"
	"github.com/bootforge/bootforge/pkg/sys"
	"github.com/bootforge/bootforge/pkg/sys/vfs"
)

const (
	partitionTries = 10

	// sgdisk warning substring for expanded disks with stale GPT headers
	sgdiskProblem = "Problem: The secondary header"
)

var unallocatedRegexp = regexp.MustCompile(sgdiskProblem)

type Disk struct {
	device      string
	sectorS     uint
	lastS       uint
	parts       []partitioner.Partition
	label       string
	sys         *sys.System
	blockDevice block.Device
}

type DiskOptions func(d *Disk) error

func WithBlockDevice(bd block.Device) func(d *Disk) error {
	return func(d *Disk) error {
		d.blockDevice = bd
		return nil
	}
}

func MiBToSectors(size uint, sectorSize uint) uint {
	return size * 1048576 / sectorSize
}

func NewDisk(s *sys.System, device string, opts ...DiskOptions) *Disk {
	dev := &Disk{
		device: device,
		sys:    s,
	}

	for _, opt := range opts {
		if err := opt(dev); err != nil {
			return nil
		}
	}

	if dev.blockDevice == nil {
		dev.blockDevice = lsblk.NewLsDevice(s)
	}

	return dev
}

func (dev Disk) String() string {
	return dev.device
}

func (dev Disk) GetSectorSize() uint {
	return dev.sectorS
}

func (dev Disk) GetLastSector() uint {
	return dev.lastS
}

func (dev Disk) GetLabel() string {
	return dev.label
}

func (dev *Disk) Exists() bool {
	fi, err := dev.sys.FS().Stat(dev.device)
	if err != nil {
		return false
	}
	// resolve symlink if any
	if fi.Mode()&os.ModeSymlink != 0 {
		d, err := dev.sys.FS().Readlink(dev.device)
		if err != nil {
			return false
		}
		dev.device = d
	}
	return true
}

func (dev *Disk) Reload() error {
	pc := dev.newPartitioner(dev.String())

	prnt, err := pc.Print()
	if err != nil {
		return err
	}

	// if the stale headers warning is found it is assumed GPT headers
	// are not properly located to match disk size, so we use sgdisk
	// to expand the partition table to fully match disk size.
	if unallocatedRegexp.Match([]byte(prnt)) {
		_, err = dev.sys.Runner().Run("sgdisk", "-e", dev.device)
		if err != nil {
			return err
		}
		// Reload disk data with fixed headers
		prnt, err = pc.Print()
		if err != nil {
			return err
		}
	}

	sectorS, err := pc.GetSectorSize(prnt)
	if err != nil {
		return err
	}
	lastS, err := pc.GetLastSector(prnt)
	if err != nil {
		return err
	}
	label, err := pc.GetPartitionTableLabel(prnt)
	if err != nil {
		return err
	}
	partitions := pc.GetPartitions(prnt)
	dev.sectorS = sectorS
	dev.lastS = lastS
	dev.parts = partitions
	dev.label = label
	return nil
}

// Size is expressed in MiB here
func (dev *Disk) CheckDiskFreeSpaceMiB(minSpace uint) bool {
	freeS, err := dev.GetFreeSpace()
	if err != nil {
		dev.sys.Logger().Warn("Could not calculate disk free space")
		return false
	}
	minSec := MiBToSectors(minSpace, dev.sectorS)

	return freeS >= minSec
}

func (dev *Disk) GetFreeSpace() (uint, error) {
	// Check we have loaded partition table data
	if dev.sectorS == 0 {
		err := dev.Reload()
		if err != nil {
			dev.sys.Logger().Error("failed analyzing disk: %v", err)
			return 0, err
		}
	}

	return dev.computeFreeSpace(), nil
}

func (dev Disk) computeFreeSpace() uint {
	if len(dev.parts) > 0 {
		lastPart := dev.parts[len(dev.parts)-1]
		return dev.lastS - (lastPart.StartS + lastPart.SizeS - 1)
	}
	// First partition starts at a 1MiB offset
	return dev.lastS - (1*1024*1024/dev.sectorS - 1)
}

func (dev *Disk) NewPartitionTable(label string) (string, error) {
	pc := dev.newPartitioner(dev.String())

	err := pc.SetPartitionTableLabel(label)
	if err != nil {
		return "", err
	}
	pc.WipeTable(true)
	out, err := pc.WriteChanges()
	if err != nil {
		return out, err
	}
	err = dev.Reload()
	if err != nil {
		dev.sys.Logger().Error("failed analyzing disk: %v", err)
		return "", err
	}
	return out, nil
}

// AddPartition adds a partition. Size is expressed in MiB here
func (dev *Disk) AddPartition(size uint, fileSystem string, pLabel string) (int, error) {
	pc := dev.newPartitioner(dev.String())

	// Check we have loaded partition table data
	if dev.sectorS == 0 {
		err := dev.Reload()
		if err != nil {
			dev.sys.Logger().Error("failed analyzing disk: %v", err)
			return 0, err
		}
	}

	err := pc.SetPartitionTableLabel(dev.label)
	if err != nil {
		return 0, err
	}

	var partNum int
	var startS uint
	if len(dev.parts) > 0 {
		lastP := len(dev.parts) - 1
		partNum = dev.parts[lastP].Number
		startS = dev.parts[lastP].StartS + dev.parts[lastP].SizeS
	} else {
		// First partition is aligned at 1MiB
		startS = 1024 * 1024 / dev.sectorS
	}

	size = MiBToSectors(size, dev.sectorS)
	freeS := dev.computeFreeSpace()
	if size > freeS {
		return 0, fmt.Errorf("not enough free space in disk. Required: %d sectors; Available %d sectors", size, freeS)
	}

	partNum++
	var part = partitioner.Partition{
		Number:     partNum,
		StartS:     startS,
		SizeS:      size,
		PLabel:     pLabel,
		FileSystem: fileSystem,
	}

	pc.CreatePartition(&part)

	_, err = pc.WriteChanges()
	if err != nil {
		dev.sys.Logger().Error("failed creating partition: %v", err)
		return 0, err
	}

	// Reload new partition in dev
	err = dev.Reload()
	if err != nil {
		dev.sys.Logger().Error("failed analyzing disk: %v", err)
		return 0, err
	}
	return partNum, nil
}

func (dev Disk) FormatPartition(partNum int, fileSystem string, label string, uuid string) error {
	pDev, err := dev.FindPartitionDevice(partNum)
	if err != nil {
		return err
	}

	mkfs := NewMkfsCall(dev.sys, pDev, fileSystem, label, uuid)
	return mkfs.Apply()
}

func (dev Disk) FindPartitionDevice(partNum int) (string, error) {
	re := regexp.MustCompile(`.*\d+$`)
	var device string

	if match := re.Match([]byte(dev.device)); match {
		device = fmt.Sprintf("%sp%d", dev.device, partNum)
	} else {
		device = fmt.Sprintf("%s%d", dev.device, partNum)
	}

	for tries := 0; tries <= partitionTries; tries++ {
		dev.sys.Logger().Debug("Trying to find the partition device %d of device %s (try number %d)", partNum, dev, tries+1)
		_, _ = dev.sys.Runner().Run("udevadm", "settle")
		if exists, _ := vfs.Exists(dev.sys.FS(), device); exists {
			return device, nil
		}
		time.Sleep(1 * time.Second)
	}
	errMsg := "partition '%d' not found in '%s' device"
	dev.sys.Logger().Error(errMsg, partNum, device)
	return "", fmt.Errorf(errMsg, partNum, device)
}

// verifyPartitionFS checks the kernel view of a freshly formatted
// partition reports the expected filesystem type.
func (dev Disk) verifyPartitionFS(device string, expected string) error {
	fs, err := dev.blockDevice.GetPartitionFS(device)
	if err != nil {
		return fmt.Errorf("reading filesystem type of %s: %w", device, err)
	}
	if fs != expected {
		return fmt.Errorf("%s reports filesystem '%s' after formatting with '%s'", device, fs, expected)
	}
	return nil
}

func (dev Disk) newPartitioner(device string) partitioner.Partitioner {
	return gdisk.NewGdiskCall(dev.sys, device)
}

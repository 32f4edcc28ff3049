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

package diskrepart_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	blockmock "github.com/bootforge/bootforge/pkg/block/mock"
	"github.com/bootforge/bootforge/pkg/diskrepart"
	"github.com/bootforge/bootforge/pkg/log"
	"github.com/bootforge/bootforge/pkg/sys"
	sysmock "github.com/bootforge/bootforge/pkg/sys/mock"
	"github.com/bootforge/bootforge/pkg/sys/vfs"
)

const uuid = "236dacf0-b37e-4bca-a21a-59e4aef3ea4c"

const sgdiskPrint = `Disk /dev/device: 500118192 sectors, 238.5 GiB
Logical sector size: 512 bytes
Disk identifier (GUID): CE4AA9A2-59DF-4DCC-B55A-A27A80676B33
Partition table holds up to 128 entries
First usable sector is 34, last usable sector is 500118158
Partitions will be aligned on 2048-sector boundaries
Total free space is 2014 sectors (1007.0 KiB)

Number  Start (sector)    End (sector)  Size       Code  Name
   1            2048         1050623   512.0 MiB   EF00  efi
   2         1050624       500000000   237.9 GiB   8300  system`

var _ = Describe("Disk", Label("disk"), func() {
	var runner *sysmock.Runner
	var mounter *sysmock.Mounter
	var fs vfs.FS
	var cleanup func()
	var s *sys.System
	var dev *diskrepart.Disk
	var cmds [][]string
	var printCmd []string
	var bd *blockmock.Device
	BeforeEach(func() {
		var err error
		runner = sysmock.NewRunner()
		mounter = sysmock.NewMounter()
		fs, cleanup, err = sysmock.TestFS(nil)
		Expect(err).ToNot(HaveOccurred())
		s, err = sys.NewSystem(
			sys.WithMounter(mounter), sys.WithRunner(runner),
			sys.WithFS(fs), sys.WithLogger(log.New(log.WithDiscardAll())),
		)
		Expect(err).ToNot(HaveOccurred())
		err = vfs.MkdirAll(fs, "/dev", vfs.DirPerm)
		Expect(err).To(BeNil())
		_, err = fs.Create("/dev/device")
		Expect(err).To(BeNil())

		bd = blockmock.NewBlockDevice()
		dev = diskrepart.NewDisk(s, "/dev/device", diskrepart.WithBlockDevice(bd))
		printCmd = []string{"sgdisk", "-p", "-v", "/dev/device"}
		cmds = [][]string{printCmd}
	})
	AfterEach(func() {
		cleanup()
	})
	Describe("Load data without changes", func() {
		BeforeEach(func() {
			runner.ReturnValue = []byte(sgdiskPrint)
		})
		It("Loads disk layout data", func() {
			Expect(dev.Reload()).To(BeNil())
			Expect(dev.String()).To(Equal("/dev/device"))
			Expect(dev.GetSectorSize()).To(Equal(uint(512)))
			Expect(dev.GetLastSector()).To(Equal(uint(500118158)))
			Expect(dev.GetLabel()).To(Equal("gpt"))
			Expect(runner.CmdsMatch(cmds)).To(BeNil())
		})
		It("Computes available free space", func() {
			Expect(dev.GetFreeSpace()).To(Equal(uint(118158)))
			Expect(runner.CmdsMatch(cmds)).To(BeNil())
		})
		It("Checks it has at least 57MiB of free space", func() {
			Expect(dev.CheckDiskFreeSpaceMiB(57)).To(Equal(true))
			Expect(runner.CmdsMatch(cmds)).To(BeNil())
		})
		It("Checks it has less than 58MiB of free space", func() {
			Expect(dev.CheckDiskFreeSpaceMiB(58)).To(Equal(false))
			Expect(runner.CmdsMatch(cmds)).To(BeNil())
		})
		It("It fixes GPT headers if the disk was expanded", func() {
			runner.ReturnValue = []byte(sgdiskPrint + "\nProblem: The secondary header's self-pointer indicates that...\n")
			Expect(dev.Reload()).To(BeNil())
			Expect(runner.MatchMilestones([][]string{
				printCmd,
				{"sgdisk", "-e", "/dev/device"},
				printCmd,
			})).To(BeNil())
		})
	})
	Describe("Modify disk", func() {
		It("Format an already existing partition", func() {
			Expect(diskrepart.FormatDevice(s, "/dev/device1", "ext4", "MY_LABEL", uuid)).To(Succeed())
			Expect(runner.CmdsMatch([][]string{
				{"mkfs.ext4", "-L", "MY_LABEL", "-U", uuid, "-F", "/dev/device1"},
			})).To(BeNil())
		})
		It("Fails to create an unsupported partition table label", func() {
			runner.ReturnValue = []byte(sgdiskPrint)
			_, err := dev.NewPartitionTable("msdos")
			Expect(err).NotTo(BeNil())
		})
		It("Creates new partition table label", func() {
			cmds = [][]string{
				{"sgdisk", "-P", "--zap-all", "/dev/device"},
				{"sgdisk", "--zap-all", "/dev/device"},
				{"partx", "-u", "/dev/device"},
				printCmd,
			}
			runner.ReturnValue = []byte(sgdiskPrint)
			_, err := dev.NewPartitionTable("gpt")
			Expect(err).To(BeNil())
			Expect(runner.CmdsMatch(cmds)).To(BeNil())
		})
		It("Adds a new partition", func() {
			cmds = [][]string{printCmd, {
				"sgdisk", "-P", "-n=3:500000001:+0", "-c=3:p.data", "-t=3:8300", "/dev/device",
			}, {
				"sgdisk", "-n=3:500000001:+0", "-c=3:p.data", "-t=3:8300", "/dev/device",
			}, {
				"partx", "-u", "/dev/device",
			}, printCmd}
			runner.ReturnValue = []byte(sgdiskPrint)
			num, err := dev.AddPartition(0, "ext4", "p.data")
			Expect(err).To(BeNil())
			Expect(num).To(Equal(3))
			Expect(runner.CmdsMatch(cmds)).To(BeNil())
		})
		It("Fails to add a new partition if there is not enough space available", func() {
			cmds = [][]string{printCmd}
			runner.ReturnValue = []byte(sgdiskPrint)
			_, err := dev.AddPartition(100, "ext4", "p.data")
			Expect(err).NotTo(BeNil())
			Expect(runner.CmdsMatch(cmds)).To(BeNil())
		})
		It("Finds device for a given partition number", func() {
			_, err := fs.Create("/dev/device4")
			Expect(err).To(BeNil())
			cmds = [][]string{{"udevadm", "settle"}}
			Expect(dev.FindPartitionDevice(4)).To(Equal("/dev/device4"))
			Expect(runner.CmdsMatch(cmds)).To(BeNil())
		})
		It("Does not find device for a given partition number", func() {
			dev := diskrepart.NewDisk(s, "/dev/lp0")
			_, err := dev.FindPartitionDevice(4)
			Expect(err).NotTo(BeNil())
		})
		It("Formats a partition", func() {
			_, err := fs.Create("/dev/device4")
			Expect(err).To(BeNil())
			cmds = [][]string{
				{"udevadm", "settle"},
				{"mkfs.ext4", "-L", "DATA", "-U", uuid, "-F", "/dev/device4"},
			}
			Expect(dev.FormatPartition(4, "ext4", "DATA", uuid)).To(Succeed())
			Expect(runner.CmdsMatch(cmds)).To(BeNil())
		})
		It("Fails while removing file system header", func() {
			runner.ReturnError = errors.New("some error")
			Expect(diskrepart.WipeFSOnPartition(s, "/dev/device1")).NotTo(BeNil())
		})
	})
})

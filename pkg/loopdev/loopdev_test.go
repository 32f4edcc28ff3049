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

package loopdev_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"golang.org/x/sys/unix"

	"github.com/bootforge/bootforge/pkg/loopdev"
	"github.com/bootforge/bootforge/pkg/log"
	"github.com/bootforge/bootforge/pkg/sys"
	sysmock "github.com/bootforge/bootforge/pkg/sys/mock"
	"github.com/bootforge/bootforge/pkg/sys/vfs"
)

func TestLoopdevSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Loopdev test suite")
}

var _ = Describe("Loopdev", Label("loopdev"), func() {
	var s *sys.System
	var runner *sysmock.Runner
	var syscallMock *sysmock.Syscall
	var fs vfs.FS
	var cleanup func()
	BeforeEach(func() {
		var err error
		runner = sysmock.NewRunner()
		syscallMock = &sysmock.Syscall{}
		fs, cleanup, err = sysmock.TestFS(map[string]string{
			"/data/disk.img": "raw image data",
		})
		Expect(err).NotTo(HaveOccurred())
		s, err = sys.NewSystem(
			sys.WithRunner(runner), sys.WithFS(fs),
			sys.WithSyscall(syscallMock),
			sys.WithLogger(log.New(log.WithDiscardAll())),
		)
		Expect(err).NotTo(HaveOccurred())
	})
	AfterEach(func() {
		cleanup()
	})
	It("attaches the backing file to the reported loop device", func() {
		runner.ReturnValue = []byte("/dev/loop3\n")
		dev, err := loopdev.Attach(s, "/data/disk.img")
		Expect(err).NotTo(HaveOccurred())
		Expect(dev.Device()).To(Equal("/dev/loop3"))
		Expect(dev.PartitionDevice(2)).To(Equal("/dev/loop3p2"))
		Expect(runner.MatchMilestones([][]string{
			{"losetup", "-f", "--show", "-P"},
		})).To(Succeed())
		Expect(syscallMock.FlockCalls()).To(ContainElement(unix.LOCK_EX | unix.LOCK_NB))
	})
	It("reports a busy error if the backing file is already locked", func() {
		syscallMock.ErrorOnFlock = unix.EWOULDBLOCK
		_, err := loopdev.Attach(s, "/data/disk.img")
		Expect(err).To(MatchError(loopdev.ErrDeviceBusy))
		Expect(runner.CmdsMatch([][]string{})).To(Succeed())
	})
	It("creates a missing backing file on lock without truncating existing ones", func() {
		dev, err := loopdev.Lock(s, "/data/missing.img")
		Expect(err).NotTo(HaveOccurred())
		Expect(vfs.Exists(fs, "/data/missing.img")).To(BeTrue())
		Expect(dev.Detach()).To(Succeed())

		// a locked pre-existing file keeps its content
		dev, err = loopdev.Lock(s, "/data/disk.img")
		Expect(err).NotTo(HaveOccurred())
		data, err := fs.ReadFile("/data/disk.img")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("raw image data"))
		Expect(dev.Detach()).To(Succeed())
	})
	It("fails to lock a backing file in a non existing directory", func() {
		_, err := loopdev.Lock(s, "/missing/dir/disk.img")
		Expect(err).To(HaveOccurred())
	})
	It("fails if losetup errors out and releases the lock", func() {
		runner.ReturnError = unix.EPERM
		_, err := loopdev.Attach(s, "/data/disk.img")
		Expect(err).To(HaveOccurred())
		Expect(syscallMock.FlockCalls()).To(ContainElement(unix.LOCK_UN))
	})
	It("detaches only once", func() {
		runner.ReturnValue = []byte("/dev/loop0")
		dev, err := loopdev.Attach(s, "/data/disk.img")
		Expect(err).NotTo(HaveOccurred())

		runner.ClearCmds()
		Expect(dev.Detach()).To(Succeed())
		Expect(dev.Detach()).To(Succeed())
		Expect(runner.CmdsMatch([][]string{{"losetup", "-d", "/dev/loop0"}})).To(Succeed())
		Expect(syscallMock.FlockCalls()).To(ContainElement(unix.LOCK_UN))
	})
})

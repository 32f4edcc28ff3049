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
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/bootforge/bootforge/pkg/diskrepart"
	"github.com/bootforge/bootforge/pkg/log"
	"github.com/bootforge/bootforge/pkg/sys"
	sysmock "github.com/bootforge/bootforge/pkg/sys/mock"
)

var _ = Describe("Mkfs", Label("mkfs"), func() {
	var runner *sysmock.Runner
	var s *sys.System
	BeforeEach(func() {
		var err error
		runner = sysmock.NewRunner()
		s, err = sys.NewSystem(
			sys.WithRunner(runner), sys.WithLogger(log.New(log.WithDiscardAll())),
		)
		Expect(err).ToNot(HaveOccurred())
	})
	It("Successfully formats a partition with ext4", func() {
		mkfs := diskrepart.NewMkfsCall(s, "/dev/device", "ext4", "SYSTEM", "")
		Expect(mkfs.Apply()).To(Succeed())
		cmds := [][]string{{"mkfs.ext4", "-L", "SYSTEM", "-F", "/dev/device"}}
		Expect(runner.CmdsMatch(cmds)).To(BeNil())
	})
	It("Successfully formats a partition with ext4 and custom options", func() {
		mkfs := diskrepart.NewMkfsCall(s, "/dev/device", "ext4", "", "", "-b", "4096")
		Expect(mkfs.Apply()).To(Succeed())
		cmds := [][]string{{"mkfs.ext4", "-F", "-b", "4096", "/dev/device"}}
		Expect(runner.CmdsMatch(cmds)).To(BeNil())
	})
	It("Successfully formats a partition with vfat", func() {
		mkfs := diskrepart.NewMkfsCall(s, "/dev/device", "vfat", "EFI", "236dacf0")
		Expect(mkfs.Apply()).To(Succeed())
		cmds := [][]string{{"mkfs.vfat", "-F", "32", "-n", "EFI", "-i", "236dacf0", "/dev/device"}}
		Expect(runner.CmdsMatch(cmds)).To(BeNil())
	})
	It("Fails with an invalid uuid", func() {
		mkfs := diskrepart.NewMkfsCall(s, "/dev/device", "ext4", "SYSTEM", "notanuuid")
		Expect(mkfs.Apply()).NotTo(Succeed())
	})
	It("Fails for unsupported filesystem", func() {
		mkfs := diskrepart.NewMkfsCall(s, "/dev/device", "btrfs", "DATA", "")
		Expect(mkfs.Apply()).NotTo(Succeed())
	})
})

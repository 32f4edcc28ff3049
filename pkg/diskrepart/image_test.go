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
	sysmock "github.com/bootforge/bootforge/pkg/sys/mock"
	"github.com/bootforge/bootforge/pkg/sys/vfs"
)

var _ = Describe("Image", Label("image"), func() {
	var fs vfs.FS
	var cleanup func()
	BeforeEach(func() {
		var err error
		fs, cleanup, err = sysmock.TestFS(nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(vfs.MkdirAll(fs, "/test", vfs.DirPerm)).To(Succeed())
	})
	AfterEach(func() {
		cleanup()
	})
	It("creates a sparse file of the requested size", func() {
		Expect(diskrepart.CreateEmptyFile(fs, "/test/raw.img", 10, false)).To(Succeed())
		ok, _ := vfs.Exists(fs, "/test/raw.img")
		Expect(ok).To(BeTrue())

		stat, err := fs.Stat("/test/raw.img")
		Expect(err).ToNot(HaveOccurred())
		Expect(stat.Size()).To(Equal(int64(10 * 1024 * 1024)))
	})
	It("creates a non sparse file of the requested size", func() {
		Expect(diskrepart.CreateEmptyFile(fs, "/test/raw_nosparse.img", 10, true)).To(Succeed())
		ok, _ := vfs.Exists(fs, "/test/raw_nosparse.img")
		Expect(ok).To(BeTrue())

		size, _ := vfs.DirSizeMB(fs, "/test")
		Expect(size).To(Equal(uint(11)))
	})
	It("fails to create a file in a read only FS", func() {
		roFS, err := sysmock.ReadOnlyTestFS(fs)
		Expect(err).NotTo(HaveOccurred())
		Expect(diskrepart.CreateEmptyFile(roFS, "/test/raw.img", 10, false)).NotTo(Succeed())
	})
})

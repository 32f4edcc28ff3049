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

package account_test

import (
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"

	"github.com/bootforge/bootforge/pkg/account"
	"github.com/bootforge/bootforge/pkg/log"
	"github.com/bootforge/bootforge/pkg/sys"
	sysmock "github.com/bootforge/bootforge/pkg/sys/mock"
	"github.com/bootforge/bootforge/pkg/sys/vfs"
)

func TestAccountSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Account test suite")
}

const shadowContent = "root:*:19797:0:99999:7:::\n" +
	"daemon:*:19797:0:99999:7:::\n" +
	"nobody:*:19797:0:99999:7:::\n"

var _ = Describe("Account", Label("account"), func() {
	var s *sys.System
	var fs vfs.FS
	var cleanup func()
	BeforeEach(func() {
		var err error
		fs, cleanup, err = sysmock.TestFS(map[string]string{
			"/root/tree/etc/shadow": shadowContent,
		})
		Expect(err).NotTo(HaveOccurred())
		s, err = sys.NewSystem(
			sys.WithFS(fs),
			sys.WithLogger(log.New(log.WithDiscardAll())),
		)
		Expect(err).NotTo(HaveOccurred())
	})
	AfterEach(func() {
		cleanup()
	})
	It("sets a bcrypt hash for root and keeps other entries", func() {
		Expect(account.SetRootPassword(s, "/root/tree", "super-secret")).To(Succeed())

		data, err := fs.ReadFile("/root/tree/etc/shadow")
		Expect(err).NotTo(HaveOccurred())

		lines := strings.Split(string(data), "\n")
		fields := strings.Split(lines[0], ":")
		Expect(fields[0]).To(Equal("root"))
		Expect(fields[1]).To(HavePrefix("$2b$"))
		Expect(fields[2]).To(Equal("19797"))
		Expect(lines[1]).To(Equal("daemon:*:19797:0:99999:7:::"))

		// bcrypt verifies the stored hash against the plaintext
		hash := strings.Replace(fields[1], "$2b$", "$2a$", 1)
		Expect(bcrypt.CompareHashAndPassword([]byte(hash), []byte("super-secret"))).To(Succeed())
	})
	It("rejects an empty password", func() {
		Expect(account.SetRootPassword(s, "/root/tree", "")).NotTo(Succeed())
	})
	It("fails when the tree has no shadow file", func() {
		Expect(fs.Remove("/root/tree/etc/shadow")).To(Succeed())
		err := account.SetRootPassword(s, "/root/tree", "super-secret")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("reading shadow file"))
	})
	It("fails when the shadow file has no root entry", func() {
		Expect(fs.WriteFile("/root/tree/etc/shadow", []byte("daemon:*:19797:0:99999:7:::\n"), 0o640)).To(Succeed())
		err := account.SetRootPassword(s, "/root/tree", "super-secret")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("no root entry"))
	})
	It("fails on a malformed root entry", func() {
		Expect(fs.WriteFile("/root/tree/etc/shadow", []byte("root:*:19797\n"), 0o640)).To(Succeed())
		err := account.SetRootPassword(s, "/root/tree", "super-secret")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("malformed root entry"))
	})
})

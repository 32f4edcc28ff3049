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

package syscall

import (
	"syscall"
)

type realSyscall struct{}

func New() *realSyscall { //nolint:revive
	return &realSyscall{}
}

func (r realSyscall) Chroot(path string) error {
	return syscall.Chroot(path)
}

func (r realSyscall) Chdir(path string) error {
	return syscall.Chdir(path)
}

func (r realSyscall) Flock(fd int, how int) error {
	return syscall.Flock(fd, how)
}

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

package deployment

import (
	"fmt"

	"go.yaml.in/yaml/v3"
)

type Flavor int

const (
	Debian Flavor = iota + 1
	Ubuntu
)

func ParseFlavor(f string) (Flavor, error) {
	switch f {
	case "debian":
		return Debian, nil
	case "ubuntu":
		return Ubuntu, nil
	default:
		return Flavor(0), fmt.Errorf("flavor not supported: %s", f)
	}
}

func (f Flavor) String() string {
	switch f {
	case Debian:
		return "debian"
	case Ubuntu:
		return "ubuntu"
	default:
		return Unknown
	}
}

func (f Flavor) MarshalYAML() (any, error) {
	return f.String(), nil
}

func (f *Flavor) UnmarshalYAML(value *yaml.Node) (err error) {
	var flavor string
	if err = value.Decode(&flavor); err != nil {
		return err
	}

	*f, err = ParseFlavor(flavor)
	return err
}

// KernelPackage returns the distribution metapackage pulling in the
// latest kernel image for the flavor.
func (f Flavor) KernelPackage() string {
	switch f {
	case Ubuntu:
		return "linux-image-generic"
	default:
		return "linux-image-amd64"
	}
}

// BootPackages returns the packages required to turn a container rootfs
// of this flavor into a bootable system. The list includes the kernel,
// the EFI grub images, the initrd generator and an init provider.
func (f Flavor) BootPackages() []string {
	return []string{
		f.KernelPackage(),
		"grub-efi-amd64-bin",
		"grub2-common",
		"initramfs-tools",
		"systemd-sysv",
	}
}

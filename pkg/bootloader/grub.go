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

package bootloader

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/bootforge/bootforge/pkg/chroot"
	"github.com/bootforge/bootforge/pkg/deployment"
	"github.com/bootforge/bootforge/pkg/fstab"
	"github.com/bootforge/bootforge/pkg/sys"
	"github.com/bootforge/bootforge/pkg/sys/vfs"
)

const (
	grubDefaultFile = "/etc/default/grub"
	grubCfgFile     = "/boot/grub/grub.cfg"
	resolvConfFile  = "/etc/resolv.conf"
	osReleaseFile   = "/etc/os-release"
	machineIDFile   = "/etc/machine-id"
	hostnameFile    = "/etc/hostname"
	hostsFile       = "/etc/hosts"
	bootPath        = "/boot"
	efiMountPath    = "/boot/efi"
	efiRemovableImg = "/boot/efi/EFI/BOOT/BOOTX64.EFI"

	kernelPrefix = "vmlinuz-"
	initrdPrefix = "initrd.img-"
)

// Grub installs the GRUB2 EFI bootloader into a debian or ubuntu root
// tree. Packages are installed with apt inside a chroot of the tree, so
// kernel and initrd postinst hooks run against the target, not the host.
type Grub struct {
	s             *sys.System
	flavor        deployment.Flavor
	extraPackages []string
	hostname      string
}

type Option func(*Grub)

// WithExtraPackages appends packages to the boot package set installed
// into the target tree.
func WithExtraPackages(packages ...string) Option {
	return func(g *Grub) {
		g.extraPackages = append(g.extraPackages, packages...)
	}
}

// WithHostname sets the hostname written to the target tree when the
// tree does not define one.
func WithHostname(name string) Option {
	return func(g *Grub) {
		g.hostname = name
	}
}

func NewGrub(s *sys.System, flavor deployment.Flavor, opts ...Option) *Grub {
	g := &Grub{s: s, flavor: flavor, hostname: flavor.String()}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Install makes the tree at rootPath bootable. It expects the tree's
// filesystems to be mounted, the root one at rootPath and the EFI one
// at rootPath/boot/efi.
func (g *Grub) Install(rootPath, rootUUID, espUUID string) error {
	g.checkTreeFlavor(rootPath)

	g.s.Logger().Info("Installing %s boot packages", g.flavor.String())
	if err := g.installPackages(rootPath); err != nil {
		return fmt.Errorf("installing boot packages: %w", err)
	}

	if err := g.writeGrubDefaults(rootPath); err != nil {
		return fmt.Errorf("writing grub defaults: %w", err)
	}

	g.s.Logger().Info("Installing GRUB to the EFI system partition")
	if err := g.setupBoot(rootPath); err != nil {
		return fmt.Errorf("setting up boot artifacts: %w", err)
	}

	if err := g.verifyBootArtifacts(rootPath); err != nil {
		return err
	}

	if err := g.writeFstab(rootPath, rootUUID, espUUID); err != nil {
		return fmt.Errorf("writing fstab: %w", err)
	}

	if err := g.writeIdentity(rootPath); err != nil {
		return fmt.Errorf("writing system identity: %w", err)
	}

	return nil
}

// checkTreeFlavor compares the tree's os-release ID against the
// requested flavor. A mismatch is only logged, derivative images often
// carry a different ID while still following the parent's conventions.
func (g *Grub) checkTreeFlavor(rootPath string) {
	osRelease, err := vfs.LoadEnvFile(g.s.FS(), filepath.Join(rootPath, osReleaseFile))
	if err != nil {
		g.s.Logger().Debug("Could not read os-release from the image tree: %s", err.Error())
		return
	}
	if id, ok := osRelease["ID"]; ok && id != g.flavor.String() {
		g.s.Logger().Warn("Image tree reports os-release ID '%s', flavor is '%s'", id, g.flavor.String())
	}
}

// installPackages runs apt inside the target tree. The host's
// resolv.conf is bind mounted so package downloads can resolve names,
// container trees usually carry an empty or dangling one.
func (g *Grub) installPackages(rootPath string) error {
	binds := map[string]string{}
	if ok, _ := vfs.Exists(g.s.FS(), resolvConfFile); ok {
		binds[resolvConfFile] = resolvConfFile
	}

	packages := append(g.flavor.BootPackages(), g.extraPackages...)
	env := []string{"DEBIAN_FRONTEND=noninteractive"}

	return chroot.ChrootedCallback(g.s, rootPath, binds, func() error {
		if _, err := g.s.Runner().RunEnv("apt-get", env, "update"); err != nil {
			return fmt.Errorf("apt-get update: %w", err)
		}
		args := append([]string{"install", "-y"}, packages...)
		if _, err := g.s.Runner().RunEnv("apt-get", env, args...); err != nil {
			return fmt.Errorf("apt-get install: %w", err)
		}
		return nil
	})
}

func (g *Grub) writeGrubDefaults(rootPath string) error {
	err := vfs.MkdirAll(g.s.FS(), filepath.Join(rootPath, filepath.Dir(grubDefaultFile)), vfs.DirPerm)
	if err != nil {
		return err
	}

	envs := map[string]string{
		"GRUB_DEFAULT":               "0",
		"GRUB_TIMEOUT":               "5",
		"GRUB_DISTRIBUTOR":           g.flavor.String(),
		"GRUB_CMDLINE_LINUX_DEFAULT": "console=tty0 console=ttyS0,115200n8",
		"GRUB_CMDLINE_LINUX":         "",
		"GRUB_TERMINAL":              "console serial",
		"GRUB_SERIAL_COMMAND":        "serial --speed=115200 --unit=0 --word=8 --parity=no --stop=1",
		"GRUB_DISABLE_OS_PROBER":     "true",
	}
	return vfs.WriteEnvFile(g.s.FS(), envs, filepath.Join(rootPath, grubDefaultFile))
}

// setupBoot installs the removable EFI image and regenerates initrd and
// grub configuration inside the target tree. The removable path plus
// --no-nvram keeps the host's boot entries untouched.
func (g *Grub) setupBoot(rootPath string) error {
	return chroot.ChrootedCallback(g.s, rootPath, nil, func() error {
		_, err := g.s.Runner().Run(
			"grub-install", "--target=x86_64-efi",
			fmt.Sprintf("--efi-directory=%s", efiMountPath),
			fmt.Sprintf("--boot-directory=%s", bootPath),
			"--removable", "--no-nvram",
		)
		if err != nil {
			return fmt.Errorf("grub-install: %w", err)
		}
		if _, err = g.s.Runner().Run("update-initramfs", "-u"); err != nil {
			return fmt.Errorf("update-initramfs: %w", err)
		}
		if _, err = g.s.Runner().Run("grub-mkconfig", "-o", grubCfgFile); err != nil {
			return fmt.Errorf("grub-mkconfig: %w", err)
		}
		return nil
	})
}

func (g *Grub) verifyBootArtifacts(rootPath string) error {
	entries, err := g.s.FS().ReadDir(filepath.Join(rootPath, bootPath))
	if err != nil {
		return fmt.Errorf("reading %s of the target tree: %w", bootPath, err)
	}

	var kernel, initrd bool
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), kernelPrefix) {
			kernel = true
		}
		if strings.HasPrefix(entry.Name(), initrdPrefix) {
			initrd = true
		}
	}
	if !kernel {
		return fmt.Errorf("no kernel image under %s after installing %s", bootPath, g.flavor.KernelPackage())
	}
	if !initrd {
		return fmt.Errorf("no initrd under %s after installing %s", bootPath, g.flavor.KernelPackage())
	}

	if ok, _ := vfs.Exists(g.s.FS(), filepath.Join(rootPath, efiRemovableImg)); !ok {
		return fmt.Errorf("grub-install reported success but %s is missing", efiRemovableImg)
	}
	return nil
}

func (g *Grub) writeFstab(rootPath, rootUUID, espUUID string) error {
	lines := []fstab.Line{
		{
			Device:     fmt.Sprintf("UUID=%s", rootUUID),
			MountPoint: "/",
			FileSystem: deployment.Ext4.String(),
			Options:    []string{"defaults"},
			FsckOrder:  1,
		}, {
			Device:     fmt.Sprintf("UUID=%s", espUUID),
			MountPoint: efiMountPath,
			FileSystem: deployment.VFat.String(),
			Options:    []string{"umask=0077"},
			FsckOrder:  2,
		},
	}
	return fstab.WriteFstab(g.s, filepath.Join(rootPath, fstab.File), lines)
}

// writeIdentity gives the image its own machine-id and, when the tree
// does not define them, a default hostname and hosts file.
func (g *Grub) writeIdentity(rootPath string) error {
	fs := g.s.FS()

	machineID := strings.ReplaceAll(uuid.NewString(), "-", "")
	err := fs.WriteFile(filepath.Join(rootPath, machineIDFile), []byte(machineID+"\n"), vfs.FilePerm)
	if err != nil {
		return fmt.Errorf("writing machine-id: %w", err)
	}

	hostnamePath := filepath.Join(rootPath, hostnameFile)
	if ok, _ := vfs.Exists(fs, hostnamePath); !ok {
		if err = fs.WriteFile(hostnamePath, []byte(g.hostname+"\n"), vfs.FilePerm); err != nil {
			return fmt.Errorf("writing hostname: %w", err)
		}
	}

	hostsPath := filepath.Join(rootPath, hostsFile)
	if ok, _ := vfs.Exists(fs, hostsPath); !ok {
		hosts := fmt.Sprintf("127.0.0.1\tlocalhost\n127.0.1.1\t%s\n::1\tlocalhost ip6-localhost ip6-loopback\n", g.hostname)
		if err = fs.WriteFile(hostsPath, []byte(hosts), vfs.FilePerm); err != nil {
			return fmt.Errorf("writing hosts: %w", err)
		}
	}
	return nil
}

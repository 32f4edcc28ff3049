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
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/bootforge/bootforge/pkg/sys"
	"github.com/bootforge/bootforge/pkg/sys/vfs"
)

type MiB uint

const (
	EfiLabel     = "EFI"
	EfiMnt       = "/boot/efi"
	EfiSize  MiB = 512

	SystemLabel          = "SYSTEM"
	SystemMnt            = "/"
	AllAvailableSize MiB = 0

	MinDiskSize     MiB = 1024
	DefaultDiskSize MiB = 8192

	RecordFile = "/etc/bootforge/image.yaml"

	Unknown = "unknown"
)

type PartRole int

const (
	EFI PartRole = iota + 1
	System
)

type FileSystem int

const (
	Ext4 FileSystem = iota + 1
	VFat
)

func ParseFileSystem(f string) (FileSystem, error) {
	switch f {
	case "ext4":
		return Ext4, nil
	case "vfat":
		return VFat, nil
	default:
		return FileSystem(0), fmt.Errorf("filesystem not supported: %s", f)
	}
}

func (f FileSystem) String() string {
	switch f {
	case Ext4:
		return "ext4"
	case VFat:
		return "vfat"
	default:
		return Unknown
	}
}

func (f FileSystem) MarshalYAML() (any, error) {
	return f.String(), nil
}

func (f *FileSystem) UnmarshalYAML(value *yaml.Node) (err error) {
	var fileSystem string
	if err = value.Decode(&fileSystem); err != nil {
		return err
	}

	*f, err = ParseFileSystem(fileSystem)
	return err
}

func ParseRole(role string) (PartRole, error) {
	switch role {
	case "efi":
		return EFI, nil
	case "system":
		return System, nil
	default:
		return PartRole(0), fmt.Errorf("unknown partition role: %s", role)
	}
}

func (p PartRole) String() string {
	switch p {
	case EFI:
		return "efi"
	case System:
		return "system"
	default:
		return Unknown
	}
}

func (p PartRole) MarshalYAML() (any, error) {
	return p.String(), nil
}

func (p *PartRole) UnmarshalYAML(value *yaml.Node) (err error) {
	var role string
	if err = value.Decode(&role); err != nil {
		return err
	}

	*p, err = ParseRole(role)
	return err
}

type Partition struct {
	Label      string     `yaml:"label,omitempty"`
	FileSystem FileSystem `yaml:"fileSystem,omitempty"`
	Size       MiB        `yaml:"size,omitempty"`
	Role       PartRole   `yaml:"role"`
	MountPoint string     `yaml:"mountPoint,omitempty"`
	MountOpts  []string   `yaml:"mountOpts,omitempty"`
	UUID       string     `yaml:"uuid,omitempty"`
}

type Partitions []*Partition

type Disk struct {
	Device     string     `yaml:"-"`
	Size       MiB        `yaml:"size,omitempty"`
	Partitions Partitions `yaml:"partitions"`
}

// Deployment describes the disk image to produce: the container image
// the root tree comes from, the distribution flavor driving kernel and
// bootloader choices and the partition layout of the target disk.
type Deployment struct {
	SourceImage   *ImageRef `yaml:"sourceImage"`
	Flavor        Flavor    `yaml:"flavor"`
	Disk          *Disk     `yaml:"disk"`
	ExtraPackages []string  `yaml:"extraPackages,omitempty"`
}

type SanitizeDeployment func(*sys.System, *Deployment) error

var sanitizers = []SanitizeDeployment{
	checkSourceImage, checkFlavor, checkSystemPart,
	checkEFIPart, checkAllAvailableSize, checkDiskSize,
}

// New returns the deployment for the given image and flavor on a single
// disk of the given size holding an EFI and a system partition.
func New(src *ImageRef, flavor Flavor, diskSize MiB) *Deployment {
	return &Deployment{
		SourceImage: src,
		Flavor:      flavor,
		Disk: &Disk{
			Size: diskSize,
			Partitions: []*Partition{
				{
					Label:      EfiLabel,
					Role:       EFI,
					MountPoint: EfiMnt,
					FileSystem: VFat,
					Size:       EfiSize,
				}, {
					Label:      SystemLabel,
					Role:       System,
					MountPoint: SystemMnt,
					FileSystem: Ext4,
					Size:       AllAvailableSize,
				},
			},
		},
	}
}

// GetSystemPartition gets the data of the system partition.
// returns nil if not found
func (d Deployment) GetSystemPartition() *Partition {
	for _, part := range d.Disk.Partitions {
		if part.Role == System {
			return part
		}
	}
	return nil
}

// GetEfiPartition gets the data of the EFI system partition.
// returns nil if not found
func (d Deployment) GetEfiPartition() *Partition {
	for _, part := range d.Disk.Partitions {
		if part.Role == EFI {
			return part
		}
	}
	return nil
}

// Sanitize checks the consistency of the current deployment structure
func (d *Deployment) Sanitize(s *sys.System) error {
	for _, sanitize := range sanitizers {
		if err := sanitize(s, d); err != nil {
			return err
		}
	}
	return nil
}

// WriteRecordFile stores the deployment description inside the image
// tree, so a booted system can tell which image and flavor it was
// built from.
func (d Deployment) WriteRecordFile(s *sys.System, root string) error {
	path := filepath.Join(root, RecordFile)
	if ok, _ := vfs.Exists(s.FS(), path); !ok {
		err := vfs.MkdirAll(s.FS(), filepath.Dir(path), vfs.DirPerm)
		if err != nil {
			s.Logger().Error("failed creating record directory")
			return err
		}
	} else {
		err := s.FS().Remove(path)
		if err != nil {
			s.Logger().Error("removing previous record file")
			return err
		}
	}

	data, err := yaml.Marshal(d)
	if err != nil {
		s.Logger().Error("failed marshalling deployment info")
		return err
	}

	dataStr := string(data)
	dataStr = "# self-generated content, do not edit\n\n" + dataStr

	err = s.FS().WriteFile(path, []byte(dataStr), 0444)
	if err != nil {
		s.Logger().Error("failed writing record file: %s", path)
		return err
	}
	return nil
}

// ReadRecordFile loads the deployment description from an image tree.
func ReadRecordFile(s *sys.System, root string) (*Deployment, error) {
	path := filepath.Join(root, RecordFile)
	if ok, err := vfs.Exists(s.FS(), path); !ok {
		s.Logger().Warn("record file not found '%s'", path)
		return nil, err
	}
	data, err := s.FS().ReadFile(path)
	if err != nil {
		s.Logger().Error("failed to read record file '%s'", path)
		return nil, err
	}
	d := &Deployment{}
	err = yaml.Unmarshal(data, d)
	if err != nil {
		s.Logger().Error("failed to unmarshal record file: %s", err.Error())
		return nil, err
	}
	return d, nil
}

func checkSourceImage(_ *sys.System, d *Deployment) error {
	if d.SourceImage == nil || d.SourceImage.IsEmpty() {
		return fmt.Errorf("no source image defined")
	}
	return nil
}

func checkFlavor(_ *sys.System, d *Deployment) error {
	if d.Flavor.String() == Unknown {
		return fmt.Errorf("no flavor defined")
	}
	return nil
}

// checkSystemPart verifies the system partition is properly defined and forces mandatory values
func checkSystemPart(s *sys.System, d *Deployment) error {
	var found bool
	for _, part := range d.Disk.Partitions {
		if part.Role == System && !found {
			found = true
			if part.FileSystem != Ext4 {
				s.Logger().Warn("filesystem types different to ext4 are not supported for the system partition")
				s.Logger().Info("system partition set to be formatted with ext4")
				part.FileSystem = Ext4
			}
			if part.MountPoint != SystemMnt {
				s.Logger().Warn("custom mountpoints for the system partition are not supported")
				s.Logger().Info("system partition mountpoint set to default '%s'", SystemMnt)
				part.MountPoint = SystemMnt
			}
			if part.Label == "" {
				part.Label = SystemLabel
			}
		} else if part.Role == System {
			return fmt.Errorf("multiple 'system' partitions defined, there must be only one")
		}
	}
	if !found {
		return fmt.Errorf("no 'system' partition defined")
	}
	return nil
}

// checkEFIPart verifies the EFI partition is properly defined and forces mandatory values
func checkEFIPart(s *sys.System, d *Deployment) error {
	var found bool
	for _, part := range d.Disk.Partitions {
		if part.Role == EFI && !found {
			found = true
			if part.FileSystem != VFat {
				s.Logger().Warn("filesystem types different to vfat are not supported for the efi partition")
				s.Logger().Info("efi partition set to be formatted with vfat")
				part.FileSystem = VFat
			}
			if part.MountPoint != EfiMnt {
				s.Logger().Warn("custom mountpoints for the efi partition are not supported")
				s.Logger().Info("efi partition mountpoint set to default '%s'", EfiMnt)
				part.MountPoint = EfiMnt
			}
			if part.Label == "" {
				part.Label = EfiLabel
			}
			if part.Size < EfiSize {
				s.Logger().Warn("efi partition size cannot be less than %dMiB", EfiSize)
				s.Logger().Info("efi partition size set to %dMiB", EfiSize)
				part.Size = EfiSize
			}
		} else if part.Role == EFI {
			return fmt.Errorf("multiple 'efi' partitions defined, there must be only one")
		}
	}
	if !found {
		return fmt.Errorf("no 'efi' partition defined")
	}
	return nil
}

// checkAllAvailableSize ensures only the last partition is eventually set to be as big as all
// available size in disk
func checkAllAvailableSize(_ *sys.System, d *Deployment) error {
	pNum := len(d.Disk.Partitions)
	for i, part := range d.Disk.Partitions {
		if i < pNum-1 && part.Size == AllAvailableSize {
			return fmt.Errorf("only last partition can be defined to be as big as available size in disk")
		}
	}
	return nil
}

// checkDiskSize ensures the disk fits all fixed size partitions and is not
// below the minimum supported size
func checkDiskSize(_ *sys.System, d *Deployment) error {
	if d.Disk.Size < MinDiskSize {
		return fmt.Errorf("disk size must be at least %dMiB", MinDiskSize)
	}
	var used MiB
	for _, part := range d.Disk.Partitions {
		used += part.Size
	}
	if used >= d.Disk.Size {
		return fmt.Errorf("partitions do not fit in a disk of %dMiB", d.Disk.Size)
	}
	return nil
}

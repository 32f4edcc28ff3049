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

package gdisk

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bootforge/bootforge/pkg/diskrepart/partitioner"
	"github.com/bootforge/bootforge/pkg/log"
	"github.com/bootforge/bootforge/pkg/sys"
)

const (
	// sgdisk swap partition type code
	swapCode = "8200"
)

var lastSectorRegexp = regexp.MustCompile(`last usable sector is (\d+)`)
var sectorSizeRegexp = regexp.MustCompile(`[Ll]ogical sector size: (\d+)`)
var partitionRegexp = regexp.MustCompile(`^\s*(\d+)\s+(\d+)\s+(\d+)\s+\d+(?:\.\d+)?\s+\S+\s+([0-9A-F]{4})\s*(.*)$`)

// GdiskCall is the sgdisk implementation of the Partitioner interface.
// sgdisk only handles GPT partition tables.
type GdiskCall struct {
	dev       string
	runner    sys.Runner
	logger    log.Logger
	parts     []*partitioner.Partition
	deletions []int
	wipe      bool
}

func NewGdiskCall(s *sys.System, dev string) *GdiskCall {
	return &GdiskCall{dev: dev, runner: s.Runner(), logger: s.Logger()}
}

func (gc GdiskCall) Print() (string, error) {
	out, err := gc.runner.Run("sgdisk", "-p", "-v", gc.dev)
	return string(out), err
}

func (gc GdiskCall) GetLastSector(printOut string) (uint, error) {
	match := lastSectorRegexp.FindStringSubmatch(printOut)
	if match == nil {
		return 0, fmt.Errorf("could not determine last usable sector")
	}
	lastSec, err := strconv.ParseUint(match[1], 10, 0)
	return uint(lastSec), err
}

func (gc GdiskCall) GetSectorSize(printOut string) (uint, error) {
	match := sectorSizeRegexp.FindStringSubmatch(printOut)
	if match == nil {
		return 0, fmt.Errorf("could not determine sector size")
	}
	size, err := strconv.ParseUint(match[1], 10, 0)
	return uint(size), err
}

func (gc GdiskCall) GetPartitionTableLabel(_ string) (string, error) {
	return "gpt", nil
}

// GetPartitions parses the partitions from a print output, swap
// partitions are ignored.
func (gc GdiskCall) GetPartitions(printOut string) []partitioner.Partition {
	var parts []partitioner.Partition
	for _, line := range strings.Split(printOut, "\n") {
		match := partitionRegexp.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		if match[4] == swapCode {
			continue
		}
		num, _ := strconv.Atoi(match[1])
		start, _ := strconv.ParseUint(match[2], 10, 0)
		end, _ := strconv.ParseUint(match[3], 10, 0)
		parts = append(parts, partitioner.Partition{
			Number: num,
			StartS: uint(start),
			SizeS:  uint(end - start + 1),
			PLabel: strings.TrimSpace(match[5]),
		})
	}
	return parts
}

func (gc *GdiskCall) SetPartitionTableLabel(label string) error {
	if label != "gpt" {
		return fmt.Errorf("sgdisk only supports gpt partition tables, '%s' not supported", label)
	}
	return nil
}

func (gc *GdiskCall) CreatePartition(p *partitioner.Partition) {
	part := *p
	gc.parts = append(gc.parts, &part)
}

func (gc *GdiskCall) DeletePartition(num int) {
	gc.deletions = append(gc.deletions, num)
}

func (gc *GdiskCall) WipeTable(wipe bool) {
	gc.wipe = wipe
}

// WriteChanges applies all queued changes. Queued arguments are first
// validated with an sgdisk pretend run, on success the real call follows
// and the kernel is requested to reread the partition table.
func (gc *GdiskCall) WriteChanges() (string, error) {
	var args []string

	if gc.wipe {
		args = append(args, "--zap-all")
	}
	for _, num := range gc.deletions {
		args = append(args, fmt.Sprintf("-d=%d", num))
	}
	for _, part := range gc.parts {
		args = append(
			args, fmt.Sprintf("-n=%d:%d:+%d", part.Number, part.StartS, part.SizeS),
			fmt.Sprintf("-c=%d:%s", part.Number, part.PLabel),
			fmt.Sprintf("-t=%d:%s", part.Number, typeCode(part.FileSystem)),
		)
	}
	if len(args) == 0 {
		return "", nil
	}
	args = append(args, gc.dev)

	out, err := gc.runner.Run("sgdisk", append([]string{"-P"}, args...)...)
	if err != nil {
		gc.logger.Error("sgdisk pretend call failed: %s", string(out))
		return string(out), err
	}

	out, err = gc.runner.Run("sgdisk", args...)
	if err != nil {
		gc.logger.Error("sgdisk call failed: %s", string(out))
		return string(out), err
	}

	gc.wipe = false
	gc.parts = nil
	gc.deletions = nil

	pOut, err := gc.runner.Run("partx", "-u", gc.dev)
	if err != nil {
		gc.logger.Error("partx call failed: %s", string(pOut))
	}
	return string(out), err
}

func typeCode(fileSystem string) string {
	switch fileSystem {
	case "vfat", "fat32":
		return "EF00"
	case "swap":
		return swapCode
	default:
		return "8300"
	}
}

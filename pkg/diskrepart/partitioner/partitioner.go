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

package partitioner

// Partition describes a partition in terms a partitioning tool handles,
// start and size are expressed in sectors.
type Partition struct {
	Number     int
	StartS     uint
	SizeS      uint
	PLabel     string
	FileSystem string
}

// Partitioner is the interface a partitioning backend needs to
// implement. Changes are queued in memory and only applied to the
// device on WriteChanges.
type Partitioner interface {
	// Print dumps the current partition table of the device
	Print() (string, error)

	// GetLastSector parses the last usable sector from a Print output
	GetLastSector(printOut string) (uint, error)

	// GetSectorSize parses the logical sector size from a Print output
	GetSectorSize(printOut string) (uint, error)

	// GetPartitionTableLabel parses the partition table type from a Print output
	GetPartitionTableLabel(printOut string) (string, error)

	// GetPartitions parses the defined partitions from a Print output
	GetPartitions(printOut string) []Partition

	// SetPartitionTableLabel sets the partition table type to create on WriteChanges
	SetPartitionTableLabel(label string) error

	// CreatePartition queues the creation of the given partition
	CreatePartition(p *Partition)

	// DeletePartition queues the deletion of the partition with the given number
	DeletePartition(num int)

	// WipeTable queues the creation of a new empty partition table
	WipeTable(wipe bool)

	// WriteChanges applies all queued changes to the device
	WriteChanges() (string, error)
}

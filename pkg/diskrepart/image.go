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

package diskrepart

import (
	"fmt"
	"io"

	"github.com/bootforge/bootforge/pkg/sys/vfs"
)

// CreateEmptyFile creates a raw disk image file of the given size in MiB.
// Sparse files only reserve blocks as they are written, a non sparse file
// gets its last byte written so the full apparent size is accounted for.
func CreateEmptyFile(fs vfs.FS, filename string, sizeMB int64, noSparse bool) error {
	f, err := fs.Create(filename)
	if err != nil {
		return fmt.Errorf("creating image file %s: %w", filename, err)
	}
	err = f.Truncate(sizeMB * 1024 * 1024)
	if err != nil {
		f.Close()
		_ = fs.RemoveAll(filename)
		return fmt.Errorf("truncating image file %s to %dMiB: %w", filename, sizeMB, err)
	}

	if noSparse {
		_, err = f.Seek(-1, io.SeekEnd)
		if err != nil {
			f.Close()
			return fmt.Errorf("seeking to the end of image file %s: %w", filename, err)
		}
		_, err = f.Write([]byte{0})
		if err != nil {
			f.Close()
			return fmt.Errorf("writing last byte of image file %s: %w", filename, err)
		}
	}

	err = f.Close()
	if err != nil {
		_ = fs.RemoveAll(filename)
		return fmt.Errorf("closing image file %s: %w", filename, err)
	}
	return nil
}

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

package mock

import (
	"fmt"

	gvfs "github.com/twpayne/go-vfs/v4"
	"github.com/twpayne/go-vfs/v4/vfst"

	"github.com/bootforge/bootforge/pkg/sys/vfs"
)

// TestFS creates a test filesystem in a temporary directory populated with
// the given files. The returned cleanup function deletes the backing tree.
func TestFS(files map[string]string) (vfs.FS, func(), error) {
	content := map[string]any{}
	for f, data := range files {
		content[f] = data
	}
	tfs, cleanup, err := vfst.NewTestFS(content)
	if err != nil {
		return nil, cleanup, err
	}
	return tfs, cleanup, nil
}

// ReadOnlyTestFS wraps the given filesystem to fail on any write attempt.
func ReadOnlyTestFS(fileSystem vfs.FS) (vfs.FS, error) {
	if tfs, isTestFs := fileSystem.(*vfst.TestFS); isTestFs {
		return gvfs.NewReadOnlyFS(tfs), nil
	}
	return nil, fmt.Errorf("provided FS is not a vfst instance")
}

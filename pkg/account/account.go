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

package account

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/bootforge/bootforge/pkg/sys"
)

const (
	shadowFile = "/etc/shadow"
	rootUser   = "root"

	shadowFields = 9
	shadowPerm   = 0o640
)

// SetRootPassword hashes the given plaintext with bcrypt and sets it as
// the root password in the shadow file of the tree at rootPath. The
// remaining shadow fields of the root entry are preserved. The
// plaintext is never logged.
func SetRootPassword(s *sys.System, rootPath, plaintext string) error {
	if plaintext == "" {
		return fmt.Errorf("root password must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing root password: %w", err)
	}
	// libxcrypt knows the hash under the $2b$ prefix
	hashStr := strings.Replace(string(hash), "$2a$", "$2b$", 1)

	shadowPath := filepath.Join(rootPath, shadowFile)
	data, err := s.FS().ReadFile(shadowPath)
	if err != nil {
		return fmt.Errorf("reading shadow file of the target tree: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	var rootFound bool
	for i, line := range lines {
		fields := strings.Split(line, ":")
		if fields[0] != rootUser {
			continue
		}
		if len(fields) != shadowFields {
			return fmt.Errorf("malformed root entry in shadow file, %d fields instead of %d", len(fields), shadowFields)
		}
		fields[1] = hashStr
		lines[i] = strings.Join(fields, ":")
		rootFound = true
		break
	}
	if !rootFound {
		return fmt.Errorf("no root entry in shadow file of the target tree")
	}

	err = s.FS().WriteFile(shadowPath, []byte(strings.Join(lines, "\n")), shadowPerm)
	if err != nil {
		return fmt.Errorf("writing shadow file of the target tree: %w", err)
	}

	s.Logger().Info("Root password set")
	return nil
}

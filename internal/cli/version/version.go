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

package version

import (
	"fmt"
	"runtime/debug"

	"github.com/urfave/cli/v2"
)

var (
	version = "v0.1.0"
	// gitCommit is the git sha1, set at link time. Falls back to the
	// revision recorded in the build info when unset.
	gitCommit = ""
)

func commitSHA() string {
	commit := gitCommit
	if commit == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" {
					commit = setting.Value
				}
			}
		}
	}
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return commit
}

func NewVersionCommand(appName string) *cli.Command {
	return &cli.Command{
		Name:      "version",
		Aliases:   []string{"v"},
		Usage:     "Inspect program version",
		UsageText: fmt.Sprintf("%s version", appName),
		Action: func(*cli.Context) error {
			fmt.Printf("%s+g%s\n", version, commitSHA())

			return nil
		},
	}
}

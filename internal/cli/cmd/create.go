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

package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

type CreateFlags struct {
	ImageName     string
	OutputFile    string
	DiskSize      int64
	RootPasswd    string
	Flavor        string
	ExtraPackages cli.StringSlice
	Local         bool
	Platform      string
}

var CreateArgs CreateFlags

func NewCreateCommand(appName string, action func(*cli.Context) error) *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a bootable disk image from a container image",
		UsageText: fmt.Sprintf("%s create [OPTIONS]", appName),
		Action:    action,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "image-name",
				Usage:       "Container image reference to use as the root filesystem",
				Required:    true,
				Destination: &CreateArgs.ImageName,
			},
			&cli.StringFlag{
				Name:        "output-file",
				Usage:       "Path of the raw disk image to create",
				Required:    true,
				Destination: &CreateArgs.OutputFile,
			},
			&cli.Int64Flag{
				Name:        "disk-size",
				Value:       8,
				Usage:       "Size of the disk image in GiB",
				Destination: &CreateArgs.DiskSize,
			},
			&cli.StringFlag{
				Name:        "root-passwd",
				Usage:       "Password to set for the root account",
				Required:    true,
				Destination: &CreateArgs.RootPasswd,
			},
			&cli.StringFlag{
				Name:        "flavor",
				Usage:       "Distribution flavor of the image (debian or ubuntu)",
				Required:    true,
				Destination: &CreateArgs.Flavor,
			},
			&cli.StringSliceFlag{
				Name:        "extra-packages",
				Usage:       "Additional packages to install into the image",
				Destination: &CreateArgs.ExtraPackages,
			},
			&cli.BoolFlag{
				Name:        "local",
				Usage:       "Load the container image from the local container storage instead of a remote registry",
				Destination: &CreateArgs.Local,
			},
			&cli.StringFlag{
				Name:        "platform",
				Usage:       "Platform of the container image to pull (e.g. linux/amd64)",
				Destination: &CreateArgs.Platform,
			},
		},
	}
}

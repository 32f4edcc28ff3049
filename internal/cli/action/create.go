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

package action

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/bootforge/bootforge/internal/cli/cmd"
	"github.com/bootforge/bootforge/pkg/deployment"
	"github.com/bootforge/bootforge/pkg/pipeline"
	"github.com/bootforge/bootforge/pkg/sys"
)

func Create(ctx *cli.Context) error {
	var s *sys.System
	args := &cmd.CreateArgs
	if ctx.App.Metadata == nil || ctx.App.Metadata["system"] == nil {
		return fmt.Errorf("error setting up initial configuration")
	}
	s = ctx.App.Metadata["system"].(*sys.System)

	flavor, err := deployment.ParseFlavor(args.Flavor)
	if err != nil {
		s.Logger().Error("Invalid flavor %s: %s", args.Flavor, err.Error())
		return err
	}

	src, err := deployment.NewImageRef(args.ImageName)
	if err != nil {
		s.Logger().Error("Invalid image reference %s: %s", args.ImageName, err.Error())
		return err
	}

	if args.DiskSize <= 0 {
		s.Logger().Error("Invalid disk size %d", args.DiskSize)
		return fmt.Errorf("disk size must be a positive number of GiB, got %d", args.DiskSize)
	}
	diskSize := deployment.MiB(args.DiskSize * 1024)

	d := deployment.New(src, flavor, diskSize)
	d.ExtraPackages = append(d.ExtraPackages, args.ExtraPackages.Value()...)

	err = d.Sanitize(s)
	if err != nil {
		s.Logger().Error("Inconsistent deployment setup: %s", err.Error())
		return fmt.Errorf("inconsistent deployment: %w", err)
	}

	ctxSignal, stop := signal.NotifyContext(ctx.Context, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go func() {
		<-ctx.Done()
		stop()
	}()

	p := pipeline.New(
		ctxSignal, s,
		pipeline.WithLocal(args.Local),
		pipeline.WithPlatform(args.Platform),
	)

	err = p.Run(d, args.OutputFile, args.RootPasswd)
	if err != nil {
		s.Logger().Error("Failed to create disk image %s: %s", args.OutputFile, err.Error())
		return err
	}

	s.Logger().Info("Disk image %s created from %s", args.OutputFile, args.ImageName)

	return nil
}

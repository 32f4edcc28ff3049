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

	"github.com/distribution/reference"
	"go.yaml.in/yaml/v3"
)

// ImageRef is a normalized reference to a container image in a registry
// or in the local container runtime storage. The resolved digest is
// recorded once the image has been fetched.
type ImageRef struct {
	uri    string
	digest string
}

// NewImageRef validates and normalizes the given image reference. Name
// only references are completed with the 'latest' tag.
func NewImageRef(ref string) (*ImageRef, error) {
	uri, err := parseImageReference(ref)
	if err != nil {
		return nil, err
	}
	return &ImageRef{uri: uri}, nil
}

func (i *ImageRef) SetDigest(digest string) {
	i.digest = digest
}

func (i ImageRef) GetDigest() string {
	return i.digest
}

func (i ImageRef) URI() string {
	return i.uri
}

func (i ImageRef) IsEmpty() bool {
	return i.uri == ""
}

func (i ImageRef) String() string {
	return i.uri
}

func (i ImageRef) MarshalYAML() (any, error) {
	imgRef := map[string]string{}
	if i.digest != "" {
		imgRef["digest"] = i.digest
	}
	imgRef["uri"] = i.uri
	return imgRef, nil
}

func (i *ImageRef) UnmarshalYAML(value *yaml.Node) (err error) {
	imgRef := map[string]string{}
	if err = value.Decode(&imgRef); err != nil {
		return err
	}
	if imgRef["uri"] == "" {
		return fmt.Errorf("no 'uri' provided for the image reference")
	}

	i.uri, err = parseImageReference(imgRef["uri"])
	if err != nil {
		return err
	}
	i.digest = imgRef["digest"]
	return nil
}

func parseImageReference(ref string) (string, error) {
	n, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", fmt.Errorf("invalid image reference %s", ref)
	} else if reference.IsNameOnly(n) {
		ref += ":latest"
	}
	return ref, nil
}

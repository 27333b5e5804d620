/*
Copyright 2026 The Lumekeep Authors

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

package drive

import (
	"context"
	"fmt"

	"lumekeep.org/pkg/magic"
)

// Walk enumerates the folder tree rooted at folderID breadth-first and
// returns the image and ZIP files found, in discovery order. Paging
// tokens are followed to completion; folders are descended; bytes are
// never downloaded.
func Walk(ctx context.Context, svc Service, folderID string) ([]File, error) {
	var out []File
	queue := []string{folderID}
	for len(queue) > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		folder := queue[0]
		queue = queue[1:]

		pageToken := ""
		for {
			files, next, err := svc.ListChildren(ctx, folder, pageToken)
			if err != nil {
				return nil, fmt.Errorf("listing folder %s: %w", folder, err)
			}
			for _, f := range files {
				switch {
				case f.IsFolder():
					queue = append(queue, f.ID)
				case magic.IsImageName(f.Name, f.MIMEType), magic.IsZip(f.Name, f.MIMEType, nil):
					out = append(out, f)
				}
			}
			if next == "" {
				break
			}
			pageToken = next
		}
	}
	return out, nil
}

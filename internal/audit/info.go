/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package audit

import (
	"context"
	"math"
	"os"
)

// Info describes the on-disk state of the store.
func (s *FileStore) Info(ctx context.Context) (*StorageInfo, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	files, err := s.layout.EventFiles()
	if err != nil {
		return nil, &ReadError{Path: s.layout.EventsDir(), Err: err}
	}
	var total int64
	for _, f := range files {
		if fi, err := os.Stat(f); err == nil {
			total += fi.Size()
		}
	}

	return &StorageInfo{
		BasePath:      s.opts.BasePath,
		TotalSizeMB:   math.Round(float64(total)/(1024*1024)*100) / 100,
		TotalFiles:    len(files),
		Format:        string(s.opts.Format),
		Rotation:      string(s.opts.Rotation),
		RetentionDays: s.opts.RetentionDays,
		Compression:   s.opts.CompressOldFiles,
		IndexEnabled:  s.opts.IndexEnabled,
		Cache:         s.cache.Stats(),
	}, nil
}


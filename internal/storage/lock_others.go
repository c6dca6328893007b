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

//go:build !unix

package storage

// DirLock is a no-op on platforms without flock.
type DirLock struct{}

// LockDir always succeeds on platforms without flock.
func LockDir(dir string) (*DirLock, error) {
	return &DirLock{}, nil
}

// Unlock is a no-op.
func (l *DirLock) Unlock() error {
	return nil
}

// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import "fmt"

// ClassifierError means the classifier failed and the default label was used.
type ClassifierError struct {
	Err error
}

func (e *ClassifierError) Error() string {
	return fmt.Sprintf("classifier error: %v", e.Err)
}

func (e *ClassifierError) Unwrap() error { return e.Err }

// StoreWriteError means the document was not written and has been dropped.
type StoreWriteError struct {
	Account string
	Subject string
	Err     error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write error (%s, %q): %v", e.Account, e.Subject, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// NotificationError means one sink failed to deliver.
type NotificationError struct {
	Sink string
	Err  error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notification error (%s): %v", e.Sink, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

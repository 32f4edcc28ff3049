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

package cleanstack

import (
	"errors"
)

type Task func() error

// CleanJob is a task queued for deferred execution. Jobs may be
// conditioned to run only on error or only on success.
type CleanJob struct {
	task        Task
	errorOnly   bool
	successOnly bool
}

func (c CleanJob) Run() error {
	return c.task()
}

// CleanStack collects clean up tasks while a multi step procedure makes
// progress, so that on failure or completion all registered tasks are
// executed in the reverse order they were added.
type CleanStack struct {
	jobs []*CleanJob
}

func NewCleanStack() *CleanStack {
	return &CleanStack{}
}

// Push adds a task to run on any Cleanup call
func (clean *CleanStack) Push(task Task) {
	clean.jobs = append(clean.jobs, &CleanJob{task: task})
}

// PushErrorOnly adds a task to run only if Cleanup is called with an error
// or a previous clean up task already failed
func (clean *CleanStack) PushErrorOnly(task Task) {
	clean.jobs = append(clean.jobs, &CleanJob{task: task, errorOnly: true})
}

// PushSuccessOnly adds a task to run only while no error has been reported
func (clean *CleanStack) PushSuccessOnly(task Task) {
	clean.jobs = append(clean.jobs, &CleanJob{task: task, successOnly: true})
}

// Pop removes and returns the most recently added job, nil if the stack is empty
func (clean *CleanStack) Pop() *CleanJob {
	n := len(clean.jobs)
	if n == 0 {
		return nil
	}
	job := clean.jobs[n-1]
	clean.jobs = clean.jobs[:n-1]
	return job
}

// Cleanup runs the whole stack in reverse order. The given error, if any, is
// kept as the primary error and any clean up failure is joined to it.
func (clean *CleanStack) Cleanup(err error) error {
	for job := clean.Pop(); job != nil; job = clean.Pop() {
		if job.errorOnly && err == nil {
			continue
		}
		if job.successOnly && err != nil {
			continue
		}
		if e := job.Run(); e != nil {
			err = errors.Join(err, e)
		}
	}
	return err
}

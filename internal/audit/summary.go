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
	"sort"
)

// topN is the length of the user and IP rankings of a Summary.
const topN = 10

// Summary aggregates the trailing days (default 7). At most
// SummaryMaxEvents of the most recent events are considered; Truncated
// reports that the cap was hit and the counts are a lower bound.
func (s *FileStore) Summary(ctx context.Context, days int) (*Summary, error) {
	if days <= 0 {
		days = 7
	}
	end := s.now().UTC()
	start := end.AddDate(0, 0, -days)

	maxEvents := s.opts.SummaryMaxEvents
	events, err := s.Query(ctx, QueryFilter{Start: start, End: end, Limit: maxEvents + 1})
	if err != nil {
		return nil, err
	}

	sum := summarize(events, maxEvents)
	sum.Days = days
	sum.Start = start
	sum.End = end
	return sum, nil
}

func summarize(events []Event, maxEvents int) *Summary {
	sum := &Summary{
		ByType:    make(map[string]int),
		ByResult:  make(map[string]int),
		MaxEvents: maxEvents,
	}
	if len(events) > maxEvents {
		events = events[:maxEvents]
		sum.Truncated = true
	}

	users := make(map[string]int)
	ips := make(map[string]int)
	for i := range events {
		e := &events[i]
		sum.Total++
		sum.ByType[string(e.EventType)]++
		sum.ByResult[string(e.Result)]++
		users[e.UserID]++
		if e.SourceIP != "" {
			ips[e.SourceIP]++
		}
		if sum.Earliest == nil || e.Timestamp.Before(*sum.Earliest) {
			t := e.Timestamp
			sum.Earliest = &t
		}
		if sum.Latest == nil || e.Timestamp.After(*sum.Latest) {
			t := e.Timestamp
			sum.Latest = &t
		}
	}
	sum.TopUsers = ranking(users, topN)
	sum.TopIPs = ranking(ips, topN)
	return sum
}

// ranking orders counts descending, ties by key, and keeps the first n.
func ranking(counts map[string]int, n int) []Count {
	out := make([]Count, 0, len(counts))
	for k, c := range counts {
		out = append(out, Count{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

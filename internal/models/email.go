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

// Package models defines the data structures shared across the mailsync service.
package models

import (
	"fmt"
	"time"
)

// Category is the classification label attached to every indexed email.
type Category string

const (
	CategoryInterested    Category = "Interested"
	CategoryNotInterested Category = "Not Interested"
	CategoryFollowUp      Category = "Follow Up"
	CategoryOutOfOffice   Category = "Out of Office"
	CategorySpam          Category = "Spam"
)

// Categories is the closed label set, in classifier document order.
var Categories = []Category{
	CategoryInterested,
	CategoryNotInterested,
	CategoryFollowUp,
	CategoryOutOfOffice,
	CategorySpam,
}

// DefaultCategory is used when classification fails.
const DefaultCategory = CategoryNotInterested

// ParseCategory returns the Category matching s exactly.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// EmailRecord is the canonical, fully defaulted form of one fetched message.
//
// The JSON field names are part of the search index mapping.
type EmailRecord struct {
	Subject   string    `json:"subject"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Date      time.Time `json:"date"`
	Body      string    `json:"body"`
	Account   string    `json:"account"`
	MessageID string    `json:"messageId,omitempty"`
}

// EmailDocument is an EmailRecord after enrichment, as stored and notified.
type EmailDocument struct {
	EmailRecord
	Category  Category  `json:"category"`
	IndexedAt time.Time `json:"indexedAt"`
}

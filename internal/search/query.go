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

package search

import (
	"time"
)

// Query bodies are plain maps so they marshal to the engine's JSON DSL
// without intermediate types.

var sortByDateDesc = []interface{}{
	map[string]interface{}{"date": map[string]interface{}{"order": "desc"}},
}

// SearchParams are the filters of the general search endpoint.
type SearchParams struct {
	Q         string
	From      string
	Subject   string
	Account   string
	StartDate string
	EndDate   string
	Limit     int
	Offset    int
}

// SearchQuery builds the free-text search with optional filters and
// highlighting.
func SearchQuery(p SearchParams) map[string]interface{} {
	var must, filter []interface{}

	if p.Q != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":     p.Q,
				"fields":    []string{"subject^3", "body", "from^2", "to"},
				"type":      "best_fields",
				"fuzziness": "AUTO",
			},
		})
	}
	if p.From != "" {
		filter = append(filter, matchPhrase("from", p.From))
	}
	if p.Subject != "" {
		must = append(must, map[string]interface{}{
			"match": map[string]interface{}{"subject": p.Subject},
		})
	}
	if p.Account != "" {
		filter = append(filter, term("account.keyword", p.Account))
	}
	if p.StartDate != "" || p.EndDate != "" {
		filter = append(filter, dateRange(p.StartDate, p.EndDate))
	}

	if len(must) == 0 {
		must = []interface{}{map[string]interface{}{"match_all": map[string]interface{}{}}}
	}
	boolQuery := map[string]interface{}{"must": must}
	if len(filter) > 0 {
		boolQuery["filter"] = filter
	}

	return map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
		"from":  p.Offset,
		"size":  p.Limit,
		"sort":  sortByDateDesc,
		"highlight": map[string]interface{}{
			"fields": map[string]interface{}{
				"subject": map[string]interface{}{},
				"body":    map[string]interface{}{"fragment_size": 150},
			},
			"pre_tags":  []string{"<mark>"},
			"post_tags": []string{"</mark>"},
		},
	}
}

// BySenderQuery matches the sender phrase.
func BySenderQuery(email string, limit, offset int) map[string]interface{} {
	return paged(matchPhrase("from", email), limit, offset)
}

// ByAccountQuery matches the exact account.
func ByAccountQuery(account string, limit, offset int) map[string]interface{} {
	return paged(term("account.keyword", account), limit, offset)
}

// RecentQuery returns page (1-based) of emails dated within days of now,
// optionally restricted to account.
func RecentQuery(days, page, limit int, account string, now time.Time) map[string]interface{} {
	rng := dateRange(
		now.AddDate(0, 0, -days).UTC().Format(time.RFC3339),
		now.UTC().Format(time.RFC3339),
	)

	var query interface{} = rng
	if account != "" {
		query = map[string]interface{}{
			"bool": map[string]interface{}{
				"must": []interface{}{rng, term("account.keyword", account)},
			},
		}
	}
	return paged(query, limit, (page-1)*limit)
}

// AccountStatsQuery counts emails per account with each account's latest email.
func AccountStatsQuery() map[string]interface{} {
	return map[string]interface{}{
		"size": 0,
		"aggs": map[string]interface{}{
			"by_account": termsWithLatest("account.keyword", 10),
		},
	}
}

// SenderStatsQuery returns the top senders, optionally within one account.
func SenderStatsQuery(limit int, account string) map[string]interface{} {
	var query interface{} = map[string]interface{}{"match_all": map[string]interface{}{}}
	if account != "" {
		query = term("account.keyword", account)
	}
	return map[string]interface{}{
		"size":  0,
		"query": query,
		"aggs": map[string]interface{}{
			"top_senders": termsWithLatest("from.keyword", limit),
		},
	}
}

// DateRange bounds an advanced search.
type DateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// AdvancedParams is the advanced-search request body.
type AdvancedParams struct {
	Keywords  []string   `json:"keywords"`
	MustHave  []string   `json:"mustHave"`
	Exclude   []string   `json:"exclude"`
	Senders   []string   `json:"senders"`
	Accounts  []string   `json:"accounts"`
	DateRange *DateRange `json:"dateRange"`
	Limit     *int       `json:"limit"`
	Offset    *int       `json:"offset"`
}

// AdvancedQuery combines required, optional and excluded keywords with
// sender, account and date filters.
func AdvancedQuery(p AdvancedParams) map[string]interface{} {
	var must, should, mustNot, filter []interface{}

	for _, kw := range p.MustHave {
		must = append(must, subjectBodyMatch(kw))
	}
	for _, kw := range p.Keywords {
		should = append(should, subjectBodyMatch(kw))
	}
	for _, kw := range p.Exclude {
		mustNot = append(mustNot, subjectBodyMatch(kw))
	}
	if len(p.Senders) > 0 {
		filter = append(filter, map[string]interface{}{
			"terms": map[string]interface{}{"from.keyword": p.Senders},
		})
	}
	if len(p.Accounts) > 0 {
		filter = append(filter, map[string]interface{}{
			"terms": map[string]interface{}{"account.keyword": p.Accounts},
		})
	}
	if p.DateRange != nil && (p.DateRange.From != "" || p.DateRange.To != "") {
		filter = append(filter, dateRange(p.DateRange.From, p.DateRange.To))
	}

	boolQuery := map[string]interface{}{}
	if len(must) > 0 {
		boolQuery["must"] = must
	}
	if len(should) > 0 {
		boolQuery["should"] = should
		boolQuery["minimum_should_match"] = 1
	}
	if len(mustNot) > 0 {
		boolQuery["must_not"] = mustNot
	}
	if len(filter) > 0 {
		boolQuery["filter"] = filter
	}

	limit, offset := 20, 0
	if p.Limit != nil {
		limit = *p.Limit
	}
	if p.Offset != nil {
		offset = *p.Offset
	}

	return paged(map[string]interface{}{"bool": boolQuery}, limit, offset)
}

func paged(query interface{}, limit, offset int) map[string]interface{} {
	return map[string]interface{}{
		"query": query,
		"from":  offset,
		"size":  limit,
		"sort":  sortByDateDesc,
	}
}

func term(field, value string) map[string]interface{} {
	return map[string]interface{}{"term": map[string]interface{}{field: value}}
}

func matchPhrase(field, value string) map[string]interface{} {
	return map[string]interface{}{"match_phrase": map[string]interface{}{field: value}}
}

func subjectBodyMatch(keyword string) map[string]interface{} {
	return map[string]interface{}{
		"multi_match": map[string]interface{}{
			"query":  keyword,
			"fields": []string{"subject", "body"},
		},
	}
}

func dateRange(gte, lte string) map[string]interface{} {
	r := map[string]interface{}{}
	if gte != "" {
		r["gte"] = gte
	}
	if lte != "" {
		r["lte"] = lte
	}
	return map[string]interface{}{"range": map[string]interface{}{"date": r}}
}

func termsWithLatest(field string, size int) map[string]interface{} {
	return map[string]interface{}{
		"terms": map[string]interface{}{"field": field, "size": size},
		"aggs": map[string]interface{}{
			"latest_email": map[string]interface{}{
				"top_hits": map[string]interface{}{
					"size":    1,
					"sort":    sortByDateDesc,
					"_source": []string{"date", "subject"},
				},
			},
		},
	}
}

package cvedb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const osvJinja2 = `{
  "id": "GHSA-h5c8-rqwp-cp95",
  "summary": "Jinja vulnerable to HTML attribute injection when passing user input as keys to xmlattr filter",
  "details": "The xmlattr filter in affected versions of Jinja accepts keys containing spaces.",
  "aliases": ["CVE-2024-22195", "PYSEC-2024-1"],
  "published": "2024-01-11T15:20:48Z",
  "database_specific": {"cwe_ids": ["CWE-79"]},
  "severity": [{"type": "CVSS_V3", "score": "CVSS:3.1/AV:N/AC:L/PR:N/UI:R/S:U/C:L/I:L/A:N"}],
  "affected": [{
    "package": {"ecosystem": "PyPI", "name": "jinja2"},
    "ranges": [{"type": "ECOSYSTEM", "events": [{"introduced": "0"}, {"fixed": "3.1.3"}]}]
  }]
}`

func TestOSVQueryPackage(t *testing.T) {
	var got osvQuery
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/query", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"vulns":[` + osvJinja2 + `]}`))
	}))
	defer server.Close()

	client := NewOSVClient(WithBaseURL(server.URL + "/v1"))
	lookup := client.QueryPackage(context.Background(), "jinja2", "2.4.1", "PyPI")

	require.Equal(t, Found, lookup.Status)
	assert.Equal(t, osvQuery{Version: "2.4.1", Package: osvPackage{Name: "jinja2", Ecosystem: "PyPI"}}, got)
	require.Len(t, lookup.Value, 1)

	vuln := lookup.Value[0]
	assert.Equal(t, []string{"CVE-2024-22195"}, OSVCVEIDs(vuln).Value)
	assert.Equal(t, []string{"3.1.3"}, OSVFixedVersions(vuln).Value)
	assert.Equal(t, "2024-01-11", OSVPublished(vuln).Value)
	assert.Equal(t, []string{"CWE-79"}, OSVCWEs(vuln).Value)
	assert.Contains(t, OSVSummary(vuln).Value, "xmlattr")

	score := OSVScore(vuln)
	require.True(t, score.OK())
	require.NotNil(t, score.Value.Score)
	assert.Equal(t, 5.4, *score.Value.Score)
}

func TestOSVQueryPackageEmptyIsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	lookup := NewOSVClient(WithBaseURL(server.URL)).QueryPackage(context.Background(), "left-pad", "1.3.0", "npm")
	assert.Equal(t, NotFound, lookup.Status)
}

func TestOSVQueryPackageFollowsPages(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var q osvQuery
		json.NewDecoder(r.Body).Decode(&q)
		if atomic.AddInt32(&calls, 1) == 1 {
			assert.Empty(t, q.PageToken)
			w.Write([]byte(`{"vulns":[{"id":"CVE-2020-0001"}],"next_page_token":"p2"}`))
			return
		}
		assert.Equal(t, "p2", q.PageToken)
		w.Write([]byte(`{"vulns":[{"id":"CVE-2020-0002"}]}`))
	}))
	defer server.Close()

	lookup := NewOSVClient(WithBaseURL(server.URL)).QueryPackage(context.Background(), "pkg", "1.0", "Go")

	require.Equal(t, Found, lookup.Status)
	assert.Len(t, lookup.Value, 2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestOSVStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Status
	}{
		{"404", http.StatusNotFound, `{"code":5,"message":"Package not found."}`, NotFound},
		{"500", http.StatusInternalServerError, ``, Unavailable},
		{"bad json", http.StatusOK, `{"id":`, Unavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			lookup := NewOSVClient(WithBaseURL(server.URL)).QueryPackage(context.Background(), "jinja2", "2.4.1", "PyPI")
			assert.Equal(t, tt.want, lookup.Status)
		})
	}
}

func TestOSVExtraction(t *testing.T) {
	tests := []struct {
		name    string
		vuln    string
		ids     []string
		fixed   []string
		summary string
	}{
		{
			name:    "id is a CVE",
			vuln:    `{"id":"CVE-2021-1234","aliases":["CVE-2021-1234","GHSA-aaaa"]}`,
			ids:     []string{"CVE-2021-1234"},
			summary: "No description available",
		},
		{
			name:    "no CVE alias",
			vuln:    `{"id":"GHSA-bbbb","aliases":["PYSEC-1"],"details":"short"}`,
			summary: "short",
		},
		{
			name:    "fixed versions across ranges sorted",
			vuln:    `{"id":"X","affected":[{"ranges":[{"events":[{"fixed":"1.10.0"},{"fixed":"1.9.2"}]}]},{"ranges":[{"events":[{"fixed":"1.9.2"},{"introduced":"0"}]}]}]}`,
			fixed:   []string{"1.9.2", "1.10.0"},
			summary: "No description available",
		},
		{
			name:    "mistyped fields",
			vuln:    `{"id":7,"aliases":"CVE-1","affected":"x","summary":["a"],"details":{"b":1}}`,
			summary: "No description available",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vuln, ok := decodeRaw([]byte(tt.vuln))
			require.True(t, ok)

			assert.Equal(t, tt.ids, OSVCVEIDs(vuln).Value)
			assert.Equal(t, tt.fixed, OSVFixedVersions(vuln).Value)
			assert.Equal(t, tt.summary, OSVSummary(vuln).Or(osvDefaultSummary))
		})
	}
}

func TestOSVSummaryTruncatesDetails(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	vuln := Raw{"details": string(long)}

	assert.Len(t, OSVSummary(vuln).Value, osvSummaryLimit)
}

func TestOSVScoreVectorOnly(t *testing.T) {
	vuln := Raw{"severity": []any{
		map[string]any{"type": "CVSS_V4", "score": "CVSS:4.0/AV:N/AC:L/AT:N/PR:N/UI:N/VC:H/VI:H/VA:H/SC:N/SI:N/SA:N"},
	}}

	score := OSVScore(vuln)
	require.True(t, score.OK())
	assert.Nil(t, score.Value.Score)
	assert.Contains(t, score.Value.Vector, "CVSS:4.0/")
}

func TestOSVScorePrefersComputable(t *testing.T) {
	vuln := Raw{"severity": []any{
		map[string]any{"type": "CVSS_V4", "score": "CVSS:4.0/AV:N/AC:L/AT:N/PR:N/UI:N/VC:H/VI:H/VA:H/SC:N/SI:N/SA:N"},
		map[string]any{"type": "CVSS_V3", "score": "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H"},
	}}

	score := OSVScore(vuln)
	require.True(t, score.OK())
	require.NotNil(t, score.Value.Score)
	assert.Equal(t, 9.8, *score.Value.Score)
}

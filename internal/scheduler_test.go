package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSchedulerJobsParsesEmbeddedYAML(t *testing.T) {
	jobs := defaultSchedulerJobs()
	require.NotEmpty(t, jobs)

	byName := map[string]time.Duration{}
	for _, j := range jobs {
		byName[j.Name] = j.Interval
	}

	assert.Equal(t, 24*time.Hour, byName["cache-warming"])
	assert.Equal(t, 168*time.Hour, byName["bestseller-ingestion"])
	assert.Equal(t, time.Hour, byName["sitemap-snapshot"])
}

func TestParseNYTOverview(t *testing.T) {
	raw := []byte(`{
		"results": {
			"lists": [
				{
					"list_name": "Hardcover Fiction",
					"books": [
						{"primary_isbn13": "9780134190440", "rank": 1, "weeks_on_list": 3}
					]
				}
			]
		}
	}`)

	entries, err := parseNYTOverview(raw)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Hardcover Fiction", entries[0].ListName)
	assert.Equal(t, "9780134190440", entries[0].ISBN)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, 3, entries[0].WeeksOnList)
}

package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestArchiveKey(t *testing.T) {
	ts := time.Date(2025, 6, 3, 10, 30, 0, 0, time.UTC)

	key := archiveKey("https://jobicy.com/?feed=job_feed", ts)
	assert.Contains(t, key, "feeds/jobicy.com/")
	assert.Contains(t, key, "20250603T103000")

	// Same host, different query string: keys must not collide.
	other := archiveKey("https://jobicy.com/?feed=job_feed&job_categories=business", ts)
	assert.NotEqual(t, key, other)

	assert.Contains(t, archiveKey("::bad url::", ts), "feeds/unknown/")
}

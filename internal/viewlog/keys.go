package viewlog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const partitionLayout = "20060102"

// Ticks count 100ns intervals since 0001-01-01 UTC.
const (
	maxTicks       int64 = 3155378975999999999
	unixEpochTicks int64 = 621355968000000000
	ticksPerSecond int64 = 10_000_000
	nanosPerTick   int64 = 100
)

// PartitionKey is the UTC day of t.
func PartitionKey(t time.Time) string {
	return t.UTC().Format(partitionLayout)
}

func ticks(t time.Time) int64 {
	t = t.UTC()
	return unixEpochTicks + t.Unix()*ticksPerSecond + int64(t.Nanosecond())/nanosPerTick
}

// RowKey orders entries of one image newest first when sorted ascending.
// The random suffix keeps keys unique within the same tick.
func RowKey(imageID string, t time.Time) string {
	return fmt.Sprintf("%s:%019d:%s", imageID, maxTicks-ticks(t), uuid.NewString())
}
